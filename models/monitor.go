package models

// AuthMode controls how a monitor's scrapes are authenticated.
type AuthMode string

const (
	// AuthAnonymous never attaches a session; every scrape runs logged out.
	AuthAnonymous AuthMode = "anonymous"

	// AuthCookiesOptional prefers a stored session but degrades to an
	// anonymous context when none is available.
	AuthCookiesOptional AuthMode = "cookies_optional"

	// AuthCookiesRequired refuses to scrape without a valid session.
	AuthCookiesRequired AuthMode = "cookies_required"
)

// Monitor is a read-only search definition consumed by the scrape engine.
// Monitors are owned by the external persistence layer; the engine only
// reads them.
type Monitor struct {
	ID        string   `json:"id"`
	UserID    string   `json:"user_id"`
	Site      string   `json:"site"`
	SearchURL string   `json:"search_url"`
	AuthMode  AuthMode `json:"auth_mode"`

	// MinPrice/MaxPrice bound the accepted item price range.
	// MaxPrice <= 0 disables the upper bound.
	MinPrice float64 `json:"min_price"`
	MaxPrice float64 `json:"max_price"`

	// AllowDegraded permits an anonymous attempt against a site whose
	// needs-reauth backoff has elapsed. Ignored for cookies_required.
	AllowDegraded bool `json:"allow_degraded"`
}

// Item is a single validated listing extracted from a results page.
type Item struct {
	ExternalID string  `json:"external_id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	ImageURL   string  `json:"image_url,omitempty"`
	Price      float64 `json:"price"`
	Currency   string  `json:"currency,omitempty"`
}

// Skip-reason counter keys accumulated during extraction. Raw items that
// fail validation are counted, never silently dropped.
const (
	SkipMissingID    = "missing_id"
	SkipMissingTitle = "missing_title"
	SkipMissingURL   = "missing_url"
	SkipBadPrice     = "bad_price"
	SkipPriceRange   = "price_out_of_range"
	SkipDuplicate    = "duplicate"
)

// Report is the outcome of one scrape invocation.
type Report struct {
	MonitorID string `json:"monitor_id"`
	Site      string `json:"site"`

	// Items are the validated listings, in page order.
	Items []Item `json:"items"`

	// Skipped counts raw items rejected during extraction, by reason.
	Skipped map[string]int `json:"skipped,omitempty"`

	// Attempts is the number of retry attempts consumed (1 = first try).
	Attempts int `json:"attempts"`

	// PageType is the final page diagnosis ("content", "no_results", ...).
	PageType string `json:"page_type"`

	// Degraded is true when the scrape ran anonymously because the
	// stored session was unusable.
	Degraded bool `json:"degraded,omitempty"`

	// Selector is the results-container selector that matched.
	Selector string `json:"selector,omitempty"`

	// Scrolls is the number of scroll steps performed.
	Scrolls int `json:"scrolls"`
}
