// Package parser turns one raw search-results page into canonical listings.
// It performs no I/O; everything site-specific lives in extract.go.
package parser

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"apartment_finder/internal/domain"
)

type Parser struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With("component", "parser")}
}

// Parse extracts every unit on the page that passes the search's filters.
// Units without an identifier are reported as ParseErrors and skipped. A unit
// with an unreadable price, bed or bath count is reported and still kept with
// that value unknown. Page.Scanned counts identified units before filtering.
func (p *Parser) Parse(fragment string, search domain.Search) domain.Page {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return domain.Page{Errors: []domain.ParseError{{
			Kind:   domain.UnparseableField,
			Search: search.Name,
			Unit:   -1,
			Field:  "document",
			Detail: err.Error(),
		}}}
	}

	cards, selector := findCards(doc)
	if cards == nil {
		p.logger.Warn("no listing cards found",
			"search", search.Name,
			"links", doc.Find("a[href*='/rental/'], a[href*='/building/']").Length(),
		)
		return domain.Page{}
	}

	p.logger.Debug("found listing cards", "search", search.Name, "selector", selector, "count", cards.Length())

	base, err := url.Parse(search.URL)
	if err != nil {
		base = nil
	}

	var page domain.Page
	cards.Each(func(i int, card *goquery.Selection) {
		listing, cardErrs, ok := p.parseCard(i, card, search, base)
		page.Errors = append(page.Errors, cardErrs...)
		if !ok {
			return
		}
		page.Scanned++
		if !search.Filters.Admits(listing) {
			return
		}
		page.Listings = append(page.Listings, listing)
	})

	p.logger.Debug("parsed page",
		"search", search.Name,
		"listings", len(page.Listings),
		"filtered", page.Scanned-len(page.Listings),
		"errors", len(page.Errors),
	)

	return page
}

func (p *Parser) parseCard(i int, card *goquery.Selection, search domain.Search, base *url.URL) (domain.Listing, []domain.ParseError, bool) {
	var errs []domain.ParseError
	fail := func(kind domain.ParseErrorKind, field, detail string) {
		errs = append(errs, domain.ParseError{
			Kind:   kind,
			Search: search.Name,
			Unit:   i,
			Field:  field,
			Detail: detail,
		})
	}

	canonical := canonicalURL(listingHref(card, base), base)
	id := listingID(card, canonical)
	if id == "" {
		fail(domain.MissingIdentifier, "", "no listing link or id attribute")
		return domain.Listing{}, errs, false
	}

	text := cardText(card)
	lower := strings.ToLower(text)
	address, _ := firstText(card, addressSelectors)

	// Street names like "Bath Ave" must not be read as a bath count.
	measures := lower
	if address != "" {
		measures = strings.Replace(measures, strings.ToLower(address), " ", 1)
	}
	listing := domain.Listing{
		ID:           id,
		Address:      address,
		HasLaundry:   hasLaundry(card, lower),
		NoFee:        isNoFee(card, lower),
		URL:          canonical,
		SourceSearch: search.Name,
		Neighborhood: neighborhood(canonical, search.URL, search.Neighborhoods),
	}

	beds, bedsOK, baths, bathsOK := parseBedsBaths(measures)
	if bedsOK {
		listing.Beds = &beds
	} else {
		fail(domain.UnparseableField, "beds", fmt.Sprintf("no bedroom count in %q", truncate(text, 80)))
	}
	if bathsOK {
		listing.Baths = &baths
	} else {
		fail(domain.UnparseableField, "baths", fmt.Sprintf("no bathroom count in %q", truncate(text, 80)))
	}

	priceText, found := firstText(card, priceSelectors)
	if price, ok := parsePrice(priceText); found && ok {
		listing.Price = &price
	} else {
		if found && priceText != "" {
			fail(domain.UnparseableField, "price", fmt.Sprintf("unreadable price %q", priceText))
		}
		if inline := inlinePriceRegexp.FindString(text); inline != "" {
			if price, ok := parsePrice(inline); ok {
				listing.Price = &price
			}
		}
	}
	if net, ok := parseNetEffective(lower); ok {
		listing.NetEffectivePrice = &net
	}
	if sqft, ok := parseSqft(lower); ok {
		listing.Sqft = &sqft
	}

	return listing, errs, true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
