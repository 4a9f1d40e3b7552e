package scrape

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dealwatch/harvester/models"
)

// currencySymbols maps the symbols seen in listing prices to ISO codes.
var currencySymbols = map[string]string{
	"€": "EUR",
	"£": "GBP",
	"$": "USD",
	"¥": "JPY",
	"zł": "PLN",
	"kč": "CZK",
}

// Extract pulls validated listings out of a results page. Every raw item
// that fails validation increments a skip-reason counter instead of being
// dropped silently; the counters are how extraction quality stays
// observable as sites change markup.
func Extract(doc *goquery.Document, profile *SiteProfile, monitor models.Monitor) ([]models.Item, map[string]int) {
	items := make([]models.Item, 0, 32)
	skipped := make(map[string]int)
	seen := make(map[string]struct{})

	doc.Find(profile.Items.Item).Each(func(_ int, node *goquery.Selection) {
		raw := rawItem(node, profile)

		switch {
		case raw.ExternalID == "":
			skipped[models.SkipMissingID]++
		case raw.Title == "":
			skipped[models.SkipMissingTitle]++
		case raw.URL == "":
			skipped[models.SkipMissingURL]++
		case raw.Price <= 0:
			skipped[models.SkipBadPrice]++
		case !priceInRange(raw.Price, monitor):
			skipped[models.SkipPriceRange]++
		default:
			if _, dup := seen[raw.ExternalID]; dup {
				skipped[models.SkipDuplicate]++
				return
			}
			seen[raw.ExternalID] = struct{}{}
			items = append(items, raw)
		}
	})

	return items, skipped
}

// rawItem reads one listing's fields without validating them.
func rawItem(node *goquery.Selection, profile *SiteProfile) models.Item {
	sel := profile.Items
	var item models.Item

	link := node
	if sel.Link != "" {
		link = node.Find(sel.Link).First()
	}
	if href, ok := attrOrSelf(node, link, "href"); ok {
		item.URL = resolveURL(profile.BaseURL, href)
	}

	if sel.IDAttr != "" {
		if id, ok := node.Attr(sel.IDAttr); ok {
			item.ExternalID = strings.TrimSpace(id)
		}
	}
	if item.ExternalID == "" {
		// No id attribute: derive a stable id from the listing URL path.
		item.ExternalID = idFromURL(item.URL)
	}

	titleNode := node
	if sel.Title != "" {
		titleNode = node.Find(sel.Title).First()
	}
	item.Title = strings.TrimSpace(titleNode.Text())

	if sel.Image != "" {
		img := node.Find(sel.Image).First()
		src, ok := img.Attr("src")
		if !ok || src == "" {
			src, _ = img.Attr("data-src")
		}
		item.ImageURL = resolveURL(profile.BaseURL, src)
	}

	if sel.Price != "" {
		priceText := strings.TrimSpace(node.Find(sel.Price).First().Text())
		item.Price, item.Currency = ParsePrice(priceText)
	}

	return item
}

// attrOrSelf reads attr from candidate, falling back to the item node.
func attrOrSelf(node, candidate *goquery.Selection, attr string) (string, bool) {
	if v, ok := candidate.Attr(attr); ok && v != "" {
		return v, true
	}
	return node.Attr(attr)
}

// ParsePrice extracts a numeric amount and currency code from a listing
// price string ("12,99 €", "$1,299.00", "EUR 45"). Returns (0, "") when no
// amount can be read.
func ParsePrice(text string) (float64, string) {
	if text == "" {
		return 0, ""
	}

	currency := ""
	lower := strings.ToLower(text)
	for symbol, code := range currencySymbols {
		if strings.Contains(lower, strings.ToLower(symbol)) {
			currency = code
			break
		}
	}
	if currency == "" {
		for _, code := range []string{"EUR", "GBP", "USD", "PLN", "CZK", "JPY"} {
			if strings.Contains(strings.ToUpper(text), code) {
				currency = code
				break
			}
		}
	}

	// Keep digits and separators only.
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	num := b.String()
	if num == "" {
		return 0, currency
	}

	// Disambiguate separators: the last one is the decimal mark, anything
	// before it is grouping ("1.299,00" and "1,299.00" both parse). A lone
	// separator followed by exactly three digits is grouping ("1.299").
	strip := strings.NewReplacer(".", "", ",", "")
	lastSep := strings.LastIndexAny(num, ".,")
	if lastSep >= 0 {
		frac := num[lastSep+1:]
		onlySep := strings.Count(num, ".")+strings.Count(num, ",") == 1
		if onlySep && len(frac) == 3 {
			num = strip.Replace(num)
		} else {
			num = strip.Replace(num[:lastSep]) + "." + frac
		}
	}

	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, currency
	}
	return value, currency
}

func priceInRange(price float64, monitor models.Monitor) bool {
	if monitor.MinPrice > 0 && price < monitor.MinPrice {
		return false
	}
	if monitor.MaxPrice > 0 && price > monitor.MaxPrice {
		return false
	}
	return true
}

func resolveURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if refURL.IsAbs() || base == "" {
		return refURL.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return refURL.String()
	}
	return baseURL.ResolveReference(refURL).String()
}

// idFromURL derives a stable external id from the last path segment of a
// listing URL ("/items/12345-blue-jacket" → "12345-blue-jacket").
func idFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return ""
	}
	segments := strings.Split(path, "/")
	return segments[len(segments)-1]
}
