package parser

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Selectors are tried in order; the first that matches wins. StreetEasy has
// shipped all of these card layouts at some point.
var (
	cardSelectors = []string{
		"[data-testid='listing-card']",
		".listingCard",
		".searchCardList--listItem",
		"article[class*='listing']",
		"div[class*='ListingCard']",
		".srp-cards article",
	}
	addressSelectors = []string{
		"[data-testid='listing-card-address']",
		".listingCard-addressLabel",
		".address",
		"address",
	}
	priceSelectors = []string{
		"[data-testid='listing-card-price']",
		".listingCard-price",
		".price",
		"span[class*='price']",
	}
	idAttributes = []string{"data-listing-id", "data-id"}

	laundryMarkers = []string{
		"washer", "dryer", "w/d", "laundry in unit", "in-unit laundry",
		"washing machine", "laundry in-unit",
	}
	laundrySelector = "[data-amenity*='washer_dryer'], [data-amenity*='laundry_in_unit'], [data-testid*='washer-dryer']"
	noFeeSelector   = "[data-testid*='no-fee'], .noFee, .no-fee"
)

var (
	priceRegexp        = regexp.MustCompile(`\$?\s*(\d[\d,]*)`)
	inlinePriceRegexp  = regexp.MustCompile(`\$\s*\d[\d,]*`)
	netEffectiveRegexp = regexp.MustCompile(`\$\s*(\d[\d,]*)\s*net\s*eff(?:ective|\.)?`)
	bedsRegexp         = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:bedrooms?|beds?|bdrms?|bd|br)\b`)
	bathsRegexp        = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:bathrooms?|baths?|ba)\b`)
	sqftRegexp         = regexp.MustCompile(`(\d[\d,]*)\s*(?:ft²|ft2|sq\.?\s*ft|square feet)`)
	trailingIDRegexp   = regexp.MustCompile(`/(\d+)$`)
)

const idPrefix = "se_"

func findCards(doc *goquery.Document) (*goquery.Selection, string) {
	for _, sel := range cardSelectors {
		cards := doc.Find(sel)
		if cards.Length() > 0 {
			return cards, sel
		}
	}
	return nil, ""
}

// cardText joins every text node under the card with spaces so that values
// from adjacent elements ("$4,200" and "2 beds") never run together.
func cardText(card *goquery.Selection) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			sb.WriteByte(' ')
		}
	}
	for _, n := range card.Nodes {
		walk(n)
	}
	return normaliseText(sb.String())
}

func firstText(card *goquery.Selection, selectors []string) (string, bool) {
	for _, sel := range selectors {
		found := card.Find(sel).First()
		if found.Length() == 0 {
			continue
		}
		return cardText(found), true
	}
	return "", false
}

// listingHref picks the card's link to the unit page.
func listingHref(card *goquery.Selection, base *url.URL) string {
	var links []string
	if href, ok := card.Attr("href"); ok {
		links = append(links, href)
	}
	card.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		links = append(links, a.AttrOr("href", ""))
	})

	for _, href := range links {
		if strings.Contains(href, "/rental/") || strings.Contains(href, "/building/") {
			return href
		}
	}

	self := ""
	if base != nil {
		self = canonicalURL(base.String(), nil)
	}
	for _, href := range links {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			continue
		}
		canonical := canonicalURL(href, base)
		if canonical != self && strings.Contains(canonical, "streeteasy.com") {
			return href
		}
	}
	return ""
}

// canonicalURL resolves href against the search page and drops query and
// fragment, so tracking parameters never change a listing's identity.
func canonicalURL(href string, base *url.URL) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	return u.String()
}

func siteID(card *goquery.Selection) string {
	for _, attr := range idAttributes {
		if v := strings.TrimSpace(card.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	for _, attr := range idAttributes {
		if v := strings.TrimSpace(card.Find("["+attr+"]").First().AttrOr(attr, "")); v != "" {
			return v
		}
	}
	return ""
}

// listingID derives the stable identifier. Empty means the unit cannot be
// tracked.
func listingID(card *goquery.Selection, canonical string) string {
	if id := siteID(card); id != "" {
		return idPrefix + id
	}
	if canonical == "" {
		return ""
	}
	if u, err := url.Parse(canonical); err == nil {
		if m := trailingIDRegexp.FindStringSubmatch(u.Path); m != nil {
			return idPrefix + m[1]
		}
	}
	sum := md5.Sum([]byte(canonical))
	return idPrefix + hex.EncodeToString(sum[:])[:12]
}

// parsePrice extracts whole dollars from strings like "$4,500" or "4500/mo".
func parsePrice(raw string) (int, bool) {
	m := priceRegexp.FindStringSubmatch(raw)
	if m == nil {
		return 0, false
	}
	return atoiCommas(m[1])
}

func parseNetEffective(lowerText string) (int, bool) {
	m := netEffectiveRegexp.FindStringSubmatch(lowerText)
	if m == nil {
		return 0, false
	}
	return atoiCommas(m[1])
}

func parseBedsBaths(lowerText string) (beds float64, bedsOK bool, baths float64, bathsOK bool) {
	if m := bedsRegexp.FindStringSubmatch(lowerText); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			beds, bedsOK = v, true
		}
	} else if strings.Contains(lowerText, "studio") {
		beds, bedsOK = 0, true
	}
	if m := bathsRegexp.FindStringSubmatch(lowerText); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			baths, bathsOK = v, true
		}
	}
	return beds, bedsOK, baths, bathsOK
}

func parseSqft(lowerText string) (int, bool) {
	m := sqftRegexp.FindStringSubmatch(lowerText)
	if m == nil {
		return 0, false
	}
	return atoiCommas(m[1])
}

func hasLaundry(card *goquery.Selection, lowerText string) bool {
	if card.Find(laundrySelector).Length() > 0 {
		return true
	}
	if containsAny(withoutDishwasher(lowerText), laundryMarkers) {
		return true
	}
	raw, err := card.Html()
	if err != nil {
		return false
	}
	return containsAny(withoutDishwasher(strings.ToLower(raw)), laundryMarkers)
}

func withoutDishwasher(s string) string {
	return strings.ReplaceAll(s, "dishwasher", "")
}

func isNoFee(card *goquery.Selection, lowerText string) bool {
	return strings.Contains(lowerText, "no fee") || card.Find(noFeeSelector).Length() > 0
}

// neighborhood maps the configured slugs ("crown-heights") onto the listing,
// preferring a slug found in the listing URL.
func neighborhood(listingURL, searchURL string, slugs []string) string {
	lowerListing := strings.ToLower(listingURL)
	for _, slug := range slugs {
		if slug != "" && strings.Contains(lowerListing, strings.ToLower(slug)) {
			return titleSlug(slug)
		}
	}
	lowerSearch := strings.ToLower(searchURL)
	for _, slug := range slugs {
		if slug != "" && strings.Contains(lowerSearch, strings.ToLower(slug)) {
			return titleSlug(slug)
		}
	}
	if len(slugs) == 1 {
		return titleSlug(slugs[0])
	}
	return ""
}

func titleSlug(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func atoiCommas(s string) (int, bool) {
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func normaliseText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
