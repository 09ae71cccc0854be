// Package digest renders the notification for a run's new listings.
package digest

import (
	"fmt"
	"strconv"
	"strings"

	"apartment_finder/internal/domain"
)

const (
	laundryHeader = "In-unit laundry"
	othersHeader  = "Other listings"
	separator     = " · "
)

// Builder turns new listings into a Digest. It holds no state between
// calls; the same input always yields the same output.
type Builder struct {
	Title string
	// MaxOthers caps the entries rendered in the non-laundry group.
	// Zero means no cap.
	MaxOthers int
}

func New(title string, maxOthers int) *Builder {
	return &Builder{Title: title, MaxOthers: maxOthers}
}

// Build returns the digest for listings. The boolean is false when there
// is nothing to send.
func (b *Builder) Build(listings []domain.Listing) (domain.Digest, bool) {
	return b.build(listings, 0)
}

// BuildForRun is Build with a footer reporting how many listings the run
// scanned.
func (b *Builder) BuildForRun(result *domain.RunResult) (domain.Digest, bool) {
	if result == nil {
		return domain.Digest{}, false
	}
	d, ok := b.build(result.NewListings, result.TotalScraped)
	if ok {
		d.RunID = result.RunID
	}
	return d, ok
}

func (b *Builder) build(listings []domain.Listing, scanned int) (domain.Digest, bool) {
	if len(listings) == 0 {
		return domain.Digest{}, false
	}

	var laundry, others []domain.Listing
	for _, l := range listings {
		if l.HasLaundry {
			laundry = append(laundry, l)
		} else {
			others = append(others, l)
		}
	}

	shownOthers := others
	hidden := 0
	if b.MaxOthers > 0 && len(others) > b.MaxOthers {
		shownOthers = others[:b.MaxOthers]
		hidden = len(others) - b.MaxOthers
	}

	d := domain.Digest{
		Subject:      b.subject(len(listings), len(laundry)),
		Total:        len(listings),
		LaundryCount: len(laundry),
		ListingIDs:   make([]string, 0, len(laundry)+len(shownOthers)),
	}

	var body strings.Builder
	body.WriteString(summary(len(listings), len(laundry)))
	body.WriteString("\n")

	writeGroup(&body, laundryHeader, laundry)
	writeGroup(&body, othersHeader, shownOthers)
	if hidden > 0 {
		fmt.Fprintf(&body, "...and %d more\n", hidden)
	}

	if scanned > 0 {
		fmt.Fprintf(&body, "\nScanned %s.\n", plural(scanned, "listing"))
	}

	for _, l := range laundry {
		d.ListingIDs = append(d.ListingIDs, l.ID)
	}
	for _, l := range shownOthers {
		d.ListingIDs = append(d.ListingIDs, l.ID)
	}

	d.Body = body.String()
	return d, true
}

func (b *Builder) subject(total, laundry int) string {
	s := summary(total, laundry)
	if b.Title == "" {
		return s
	}
	return b.Title + ": " + s
}

func summary(total, laundry int) string {
	return fmt.Sprintf("%s, %d with laundry", plural(total, "new listing"), laundry)
}

func writeGroup(sb *strings.Builder, header string, listings []domain.Listing) {
	if len(listings) == 0 {
		return
	}
	sb.WriteString("\n")
	sb.WriteString(header)
	sb.WriteString("\n")
	for _, l := range listings {
		sb.WriteString(Line(l))
		sb.WriteString("\n")
		if l.URL != "" {
			sb.WriteString(l.URL)
			sb.WriteString("\n")
		}
		if l.NoFee {
			sb.WriteString("no fee\n")
		}
	}
}

// Line renders the one-line summary of a listing:
// price · beds · baths · address.
func Line(l domain.Listing) string {
	parts := []string{
		priceText(l),
		bedsText(l.Beds),
		bathsText(l.Baths),
	}
	if l.Address != "" {
		parts = append(parts, l.Address)
	}
	return strings.Join(parts, separator)
}

func priceText(l domain.Listing) string {
	switch {
	case l.NetEffectivePrice != nil:
		return FormatDollars(*l.NetEffectivePrice) + " net effective"
	case l.Price != nil:
		return FormatDollars(*l.Price)
	default:
		return "price unknown"
	}
}

func bedsText(beds *float64) string {
	switch {
	case beds == nil:
		return "? bed"
	case *beds == 0:
		return "studio"
	default:
		return formatNumber(*beds) + " bed"
	}
}

func bathsText(baths *float64) string {
	if baths == nil {
		return "? bath"
	}
	return formatNumber(*baths) + " bath"
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatDollars renders whole dollars with thousands separators.
func FormatDollars(amount int) string {
	digits := strconv.Itoa(amount)
	sign := ""
	if amount < 0 {
		sign, digits = "-", digits[1:]
	}

	var sb strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	return sign + "$" + sb.String()
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
