package scrape

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
)

// PageType is the classification of one loaded page.
type PageType string

const (
	PageContent       PageType = "content"
	PageBlocked       PageType = "blocked"
	PageLoginRequired PageType = "login_required"
	PageNoResults     PageType = "no_results"
	PageEmpty         PageType = "empty"
)

// minBodyTextLen is the body-text length below which a page counts as
// empty (failed render, interstitial, proxy error page).
const minBodyTextLen = 200

// Signals are the raw DOM observations a diagnosis is derived from.
// Kept separate from the verdict so callers can log what actually matched.
type Signals struct {
	CaptchaPresent   bool
	ChallengePresent bool
	LoginMarker      bool
	LoginPhrase      bool
	BlockedPhrase    bool
	NoResultsMarker  bool
	NoResultsPhrase  bool

	VisibleItems int
	BodyTextLen  int
	Title        string
}

// Diagnosis is the outcome of classifying one navigation. Value object,
// never persisted.
type Diagnosis struct {
	Type    PageType
	Signals Signals

	// Selector is the listing selector that produced VisibleItems.
	Selector string
}

// captchaSelectors match the widgets of the common captcha vendors.
var captchaSelectors = []string{
	".g-recaptcha",
	".h-captcha",
	".cf-turnstile",
	`[class*="turnstile"]`,
	`iframe[src*="recaptcha"]`,
	`iframe[src*="hcaptcha"]`,
}

// challengeSelectors match full-page anti-bot interstitials.
var challengeSelectors = []string{
	"#challenge-form",
	"#challenge-running",
	"#challenge-stage",
	`iframe[src*="challenges.cloudflare.com"]`,
	`[class*="datadome"]`,
}

// blockedPhrases are interstitial texts that indicate the worker itself is
// being refused, as opposed to a login wall or an empty result set.
var blockedPhrases = []string{
	"just a moment",
	"attention required",
	"verify you are human",
	"checking your browser",
	"access denied",
	"403 forbidden",
	"too many requests",
	"rate limited",
	"temporarily unavailable",
}

// Classify turns raw signals into a page type. Precedence matters: a login
// wall often also trips the generic blocked heuristics, but login-required
// is actionable differently (reauth) than a block (backoff), so it wins.
func Classify(sig Signals) PageType {
	switch {
	case sig.LoginMarker || sig.LoginPhrase:
		return PageLoginRequired
	case sig.CaptchaPresent || sig.ChallengePresent || sig.BlockedPhrase:
		return PageBlocked
	case sig.NoResultsMarker || sig.NoResultsPhrase:
		return PageNoResults
	case sig.BodyTextLen < minBodyTextLen && sig.VisibleItems == 0:
		return PageEmpty
	default:
		return PageContent
	}
}

// SignalsFromDocument probes a parsed document for every classification
// signal. Read-only; the document is not mutated.
func SignalsFromDocument(doc *goquery.Document, profile *SiteProfile) (Signals, string) {
	var sig Signals

	sig.Title = strings.TrimSpace(doc.Find("title").First().Text())

	bodyText := strings.ToLower(strings.TrimSpace(doc.Find("body").Text()))
	sig.BodyTextLen = len(bodyText)

	for _, sel := range captchaSelectors {
		if doc.Find(sel).Length() > 0 {
			sig.CaptchaPresent = true
			break
		}
	}
	for _, sel := range challengeSelectors {
		if doc.Find(sel).Length() > 0 {
			sig.ChallengePresent = true
			break
		}
	}

	lowerTitle := strings.ToLower(sig.Title)
	sig.BlockedPhrase = containsAny(bodyText, blockedPhrases) ||
		containsAny(lowerTitle, blockedPhrases)

	for _, sel := range profile.LoginMarkers {
		if doc.Find(sel).Length() > 0 {
			sig.LoginMarker = true
			break
		}
	}
	sig.LoginPhrase = containsAny(bodyText, profile.LoginPhrases)

	for _, sel := range profile.NoResultsMarkers {
		if doc.Find(sel).Length() > 0 {
			sig.NoResultsMarker = true
			break
		}
	}
	sig.NoResultsPhrase = containsAny(bodyText, profile.NoResultsPhrases)

	matched := ""
	for _, sel := range profile.ListingSelectors {
		if n := doc.Find(sel).Length(); n > 0 {
			sig.VisibleItems = n
			matched = sel
			break
		}
	}
	return sig, matched
}

// SignalsFromHTML is SignalsFromDocument over a raw HTML string.
func SignalsFromHTML(html string, profile *SiteProfile) (Signals, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Signals{}, err
	}
	sig, _ := SignalsFromDocument(doc, profile)
	return sig, nil
}

// Diagnose snapshots a live page's DOM and classifies it.
func Diagnose(page *rod.Page, profile *SiteProfile) (Diagnosis, error) {
	html, err := page.HTML()
	if err != nil {
		return Diagnosis{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Diagnosis{}, err
	}
	sig, matched := SignalsFromDocument(doc, profile)
	return Diagnosis{
		Type:     Classify(sig),
		Signals:  sig,
		Selector: matched,
	}, nil
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
