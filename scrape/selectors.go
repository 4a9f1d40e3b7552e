package scrape

import (
	"fmt"

	"github.com/andybalholm/cascadia"
)

// ItemSelectors locates the fields of one listing inside an item node.
// Empty child selectors mean "read from the item node itself".
type ItemSelectors struct {
	// Item matches one listing inside the results container.
	Item string

	// IDAttr is the attribute on the item node carrying the external id.
	// When the attribute is absent the item's link href is used instead.
	IDAttr string

	Title string
	Link  string
	Image string
	Price string
}

// SiteProfile is the static selector table for one marketplace. Profiles
// are configuration, not logic: layout drift is absorbed by the ordered
// ResultContainers fallback list, not by editing code.
type SiteProfile struct {
	Site string

	// BaseURL resolves relative listing links.
	BaseURL string

	// ResultContainers is the ordered fallback list of selectors for the
	// results container, most specific first.
	ResultContainers []string

	Items ItemSelectors

	// ListingSelectors is the prioritized list used to sample visible
	// item counts during adaptive scrolling.
	ListingSelectors []string

	// LoginMarkers are CSS selectors whose presence indicates a login wall.
	LoginMarkers []string

	// LoginPhrases / NoResultsPhrases are matched case-insensitively
	// against the page body text.
	LoginPhrases     []string
	NoResultsPhrases []string

	// NoResultsMarkers are CSS selectors for explicit empty-state widgets.
	NoResultsMarkers []string

	// FixedScrollSteps switches the site to a deterministic scroll pass
	// with that many steps. Zero selects adaptive scrolling. Fixed passes
	// suit paginated layouts where the item count never grows mid-page.
	FixedScrollSteps int
}

// genericListingSelectors covers the common grid/card markup across
// marketplaces; used when a profile does not override ListingSelectors.
var genericListingSelectors = []string{
	`[data-testid="item-cell"]`,
	".feed-grid__item",
	`[class*="item-card"]`,
	`li[data-id]`,
	".s-item",
	"article",
}

var genericLoginPhrases = []string{
	"log in to continue",
	"sign in to continue",
	"please log in",
	"please sign in",
	"connectez-vous",
	"identifiez-vous",
	"inicia sesión para continuar",
	"bitte melden sie sich an",
}

var genericNoResultsPhrases = []string{
	"no results found",
	"nothing found",
	"0 results",
	"we couldn't find anything",
	"try a different search",
	"aucun résultat",
	"keine ergebnisse",
	"no hemos encontrado resultados",
}

// builtinProfiles is the shipped selector table. Sites not listed here
// fall back to defaultProfile.
var builtinProfiles = map[string]*SiteProfile{
	"vinted": {
		Site:    "vinted",
		BaseURL: "https://www.vinted.fr",
		ResultContainers: []string{
			".feed-grid",
			`[data-testid="grid-item"]`,
			".catalog-items",
		},
		Items: ItemSelectors{
			Item:   ".feed-grid__item",
			IDAttr: "data-item-id",
			Title:  `[data-testid$="--description-title"]`,
			Link:   `a[href*="/items/"]`,
			Image:  "img",
			Price:  `[data-testid$="--price-text"]`,
		},
		LoginMarkers: []string{
			`[data-testid="auth-select-type--register-switch"]`,
			`form[action*="/member/login"]`,
		},
		NoResultsMarkers: []string{".empty-state"},
	},
	"leboncoin": {
		Site:    "leboncoin",
		BaseURL: "https://www.leboncoin.fr",
		ResultContainers: []string{
			`[data-test-id="listing-column"]`,
			`[data-qa-id="aditem_container"]`,
			"main ul",
		},
		Items: ItemSelectors{
			Item:   `a[data-qa-id="aditem_container"]`,
			IDAttr: "data-ad-id",
			Title:  `[data-qa-id="aditem_title"]`,
			Image:  "img",
			Price:  `[data-qa-id="aditem_price"]`,
		},
		LoginMarkers: []string{`form[action*="login"]`},
		// leboncoin paginates; one fixed pass renders the lazy images
		// without waiting for counts that never change.
		FixedScrollSteps: 3,
	},
	"ebay": {
		Site:    "ebay",
		BaseURL: "https://www.ebay.com",
		ResultContainers: []string{
			".srp-results",
			"#srp-river-results",
			"ul.b-list__items_nofooter",
		},
		Items: ItemSelectors{
			Item:  "li.s-item",
			Title: ".s-item__title",
			Link:  "a.s-item__link",
			Image: ".s-item__image-wrapper img",
			Price: ".s-item__price",
		},
		NoResultsMarkers: []string{".srp-save-null-search"},
	},
}

// defaultProfile is the last-resort selector set for sites without a
// dedicated profile.
var defaultProfile = &SiteProfile{
	Site: "default",
	ResultContainers: []string{
		`[class*="results"]`,
		`[class*="listing"]`,
		"main ul",
		"main",
	},
	Items: ItemSelectors{
		Item: "article, li[data-id]",
		Link: "a[href]",
	},
}

// ProfileFor returns the selector profile for a site, falling back to the
// generic profile. The returned profile always has listing selectors and
// phrase lists populated.
func ProfileFor(site string) *SiteProfile {
	p, ok := builtinProfiles[site]
	if !ok {
		p = defaultProfile
	}
	return p.withDefaults()
}

func (p *SiteProfile) withDefaults() *SiteProfile {
	out := *p
	if len(out.ListingSelectors) == 0 {
		out.ListingSelectors = genericListingSelectors
	}
	if len(out.LoginPhrases) == 0 {
		out.LoginPhrases = genericLoginPhrases
	}
	if len(out.NoResultsPhrases) == 0 {
		out.NoResultsPhrases = genericNoResultsPhrases
	}
	return &out
}

// ValidateProfiles parses every selector in the shipped table so a typo
// fails at startup instead of mid-scrape.
func ValidateProfiles() error {
	for site, p := range builtinProfiles {
		selectors := make([]string, 0, 16)
		selectors = append(selectors, p.ResultContainers...)
		selectors = append(selectors, p.ListingSelectors...)
		selectors = append(selectors, p.LoginMarkers...)
		selectors = append(selectors, p.NoResultsMarkers...)
		for _, s := range []string{p.Items.Item, p.Items.Title, p.Items.Link, p.Items.Image, p.Items.Price} {
			if s != "" {
				selectors = append(selectors, s)
			}
		}
		for _, sel := range selectors {
			if _, err := cascadia.ParseGroup(sel); err != nil {
				return fmt.Errorf("profile %s: invalid selector %q: %w", site, sel, err)
			}
		}
	}
	return nil
}
