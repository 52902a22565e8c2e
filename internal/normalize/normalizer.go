// Package normalize maps raw listing payloads into vessel records.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/vessel"
	"github.com/fclairamb/yachtsync/internal/yachtapi"
)

const feetToMeters = 0.3048

// Field fallback chains, most specific section first.
var (
	nameChain        = []string{"basicInfo.displayName", "result.name", "basicInfo.name", "name"}
	builderChain     = []string{"basicInfo.builder", "result.builder", "basicInfo.make", "result.make"}
	modelChain       = []string{"basicInfo.model", "result.model"}
	categoryChain    = []string{"basicInfo.category", "result.category", "basicInfo.mainCategory"}
	subCategoryChain = []string{"basicInfo.subCategory", "result.subCategory"}
	typeChain        = []string{"basicInfo.type", "result.type", "basicInfo.vesselType"}
	conditionChain   = []string{"basicInfo.condition", "result.condition"}
	yearChain        = []string{"basicInfo.year", "result.year", "basicInfo.modelYear"}

	priceUSDChain  = []string{"price.usd", "compare.priceUSD", "result.priceUSD"}
	priceEURChain  = []string{"price.eur", "compare.priceEUR", "result.priceEUR"}
	askingChain    = []string{"price.askingPrice", "basicInfo.askingPrice", "result.price"}
	currencyChain  = []string{"price.currency", "basicInfo.currency", "result.currency"}
	formattedChain = []string{"price.formatted", "basicInfo.priceFormatted", "result.priceFormatted"}
	poaChain       = []string{"price.onApplication", "basicInfo.priceOnApplication", "result.priceOnApplication"}

	loaFeetChain   = []string{"dimensions.loaFeet", "basicInfo.loaFeet", "dimensions.loa", "result.length"}
	loaMetersChain = []string{"dimensions.loaMeters", "basicInfo.loaMeters"}

	imageChain = []string{"primaryImage", "images.primary", "gallery.0.url", "images.gallery.0.url", "basicInfo.imageUrl"}

	locationChain = []string{"location.display", "basicInfo.location", "result.location"}
	cityChain     = []string{"location.city", "basicInfo.city", "result.city"}
	stateChain    = []string{"location.state", "basicInfo.state", "result.state"}
	countryChain  = []string{"location.country", "basicInfo.country", "result.country"}

	domChain = []string{"basicInfo.daysOnMarket", "result.daysOnMarket", "daysOnMarket"}
)

// Normalizer converts payloads and enforces minimum viability.
type Normalizer struct {
	// MinPriceUSD rejects known, nonzero prices below it. Zero disables the check.
	MinPriceUSD float64
	// ListingBaseURL is the prefix of derived listing URLs. Empty disables them.
	ListingBaseURL string
}

// Market holds the fields the daily sync compares on existing records.
type Market struct {
	PriceUSD       *float64
	PriceFormatted *string
	DaysOnMarket   *int
}

// Normalize maps payload into a record carrying identity. It returns an
// error wrapping ErrPriceTooLow or ErrIncompleteListing for rejected listings.
func (n *Normalizer) Normalize(payload *yachtapi.Payload, identity vessel.Identity) (*vessel.Record, error) {
	rec := &vessel.Record{
		Identity: identity,
		Active:   true,

		Name:        text(payload, nameChain...),
		Builder:     text(payload, builderChain...),
		Model:       text(payload, modelChain...),
		Category:    text(payload, categoryChain...),
		SubCategory: text(payload, subCategoryChain...),
		Type:        text(payload, typeChain...),
		Condition:   text(payload, conditionChain...),
		Year:        integer(payload, yearChain...),

		PriceEUR:              number(payload, priceEURChain...),
		PriceFormatted:        text(payload, formattedChain...),
		PriceOnApplication:    boolean(payload, poaChain...),
		MSRPValue:             number(payload, "price.msrp", "basicInfo.msrp"),
		PriceReduction:        number(payload, "price.reduction", "basicInfo.priceReduction"),
		PriceReductionPercent: number(payload, "price.reductionPercent", "basicInfo.priceReductionPercent"),

		Beam:         text(payload, "dimensions.beam", "basicInfo.beam"),
		GrossTonnage: number(payload, "dimensions.grossTonnage", "basicInfo.grossTonnage"),
		StateRooms:   integer(payload, "accommodations.stateRooms", "basicInfo.stateRooms"),
		Heads:        integer(payload, "accommodations.heads", "basicInfo.heads"),
		Sleeps:       integer(payload, "accommodations.sleeps", "basicInfo.sleeps"),
		Berths:       integer(payload, "accommodations.berths", "basicInfo.berths"),

		LocationCity:    text(payload, cityChain...),
		LocationState:   text(payload, stateChain...),
		LocationCountry: text(payload, countryChain...),

		ImageURL:     text(payload, imageChain...),
		ImageGallery: gallery(payload),

		DaysOnMarket:  integer(payload, domChain...),
		StatusText:    text(payload, "basicInfo.status", "result.status", "status"),
		AgreementType: text(payload, "basicInfo.agreementType", "result.agreementType"),
		Broker: vessel.Broker{
			Name:    text(payload, "broker.name", "basicInfo.brokerName"),
			Company: text(payload, "broker.company", "basicInfo.companyName"),
			Phone:   text(payload, "broker.phone", "basicInfo.brokerPhone"),
			Email:   text(payload, "broker.email", "basicInfo.brokerEmail"),
		},
	}

	rec.PriceUSD = priceUSD(payload)
	if rec.PriceFormatted == nil && rec.PriceUSD != nil && *rec.PriceUSD > 0 {
		rec.PriceFormatted = vessel.Ptr(FormatUSD(*rec.PriceUSD))
	}

	rec.LOAFeet = number(payload, loaFeetChain...)
	rec.LOAMeters = number(payload, loaMetersChain...)
	if rec.LOAMeters == nil && rec.LOAFeet != nil {
		rec.LOAMeters = vessel.Ptr(math.Round(*rec.LOAFeet*feetToMeters*100) / 100)
	}

	rec.Location = text(payload, locationChain...)
	if rec.Location == nil {
		rec.Location = joinLocation(rec.LocationCity, rec.LocationState, rec.LocationCountry)
	}

	rec.Description, rec.DetailedSpecifications = splitSections(payload)

	if err := n.checkViability(rec); err != nil {
		return nil, fmt.Errorf("%s: %w", identity, err)
	}

	rec.Title = BuildTitle(rec)
	rec.ListingURL = text(payload, "listingUrl", "basicInfo.listingUrl")
	if rec.ListingURL == nil {
		rec.ListingURL = n.listingURL(rec)
	}
	rec.Terms = terms(rec)

	return rec, nil
}

// MarketFields extracts price and days on market without admission checks.
func (n *Normalizer) MarketFields(payload *yachtapi.Payload) Market {
	m := Market{
		PriceUSD:       priceUSD(payload),
		PriceFormatted: text(payload, formattedChain...),
		DaysOnMarket:   integer(payload, domChain...),
	}
	if m.PriceFormatted == nil && m.PriceUSD != nil && *m.PriceUSD > 0 {
		m.PriceFormatted = vessel.Ptr(FormatUSD(*m.PriceUSD))
	}
	return m
}

func (n *Normalizer) checkViability(rec *vessel.Record) error {
	if price := vessel.Deref(rec.PriceUSD); price > 0 && n.MinPriceUSD > 0 && price < n.MinPriceUSD {
		return fmt.Errorf("%w: %.0f < %.0f", apperrors.ErrPriceTooLow, price, n.MinPriceUSD)
	}
	if rec.ImageURL == nil {
		return fmt.Errorf("%w: no image", apperrors.ErrIncompleteListing)
	}
	if rec.Location == nil && rec.LocationCity == nil && rec.LocationState == nil && rec.LocationCountry == nil {
		return fmt.Errorf("%w: no location", apperrors.ErrIncompleteListing)
	}
	return nil
}

func (n *Normalizer) listingURL(rec *vessel.Record) *string {
	if n.ListingBaseURL == "" || rec.Title == nil {
		return nil
	}

	id := rec.Identity.MLSID
	if rec.Identity.HasVessel() {
		id = strconv.FormatInt(rec.Identity.VesselID, 10)
	}

	return vessel.Ptr(strings.TrimRight(n.ListingBaseURL, "/") + "/" + Slugify(*rec.Title) + "-" + id)
}

// priceUSD follows explicit USD, then converted USD, then the raw asking
// price when it is quoted in dollars.
func priceUSD(payload *yachtapi.Payload) *float64 {
	if v := number(payload, priceUSDChain...); v != nil && *v > 0 {
		return v
	}

	currency := strings.ToUpper(vessel.Deref(text(payload, currencyChain...)))
	if currency != "" && currency != "USD" {
		return nil
	}
	return number(payload, askingChain...)
}

func terms(rec *vessel.Record) map[string]string {
	out := make(map[string]string)
	for name, value := range map[string]*string{
		"category":     rec.Category,
		"sub_category": rec.SubCategory,
		"type":         rec.Type,
		"condition":    rec.Condition,
		"builder":      rec.Builder,
	} {
		if value != nil {
			out[name] = *value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func joinLocation(parts ...*string) *string {
	var values []string
	for _, p := range parts {
		if p != nil {
			values = append(values, *p)
		}
	}
	if len(values) == 0 {
		return nil
	}
	return vessel.Ptr(strings.Join(values, ", "))
}

func gallery(payload *yachtapi.Payload) []vessel.Image {
	list := payload.First("gallery", "images.gallery")
	if !list.IsArray() {
		return nil
	}

	var images []vessel.Image
	list.ForEach(func(_, item gjson.Result) bool {
		var img vessel.Image
		if item.Type == gjson.String {
			img.URL = strings.TrimSpace(item.Str)
		} else {
			img.URL = strings.TrimSpace(item.Get("url").String())
			if img.URL == "" {
				img.URL = strings.TrimSpace(item.Get("src").String())
			}
			img.Caption = SanitizeText(item.Get("caption").String())
		}
		if img.URL != "" {
			images = append(images, img)
		}
		return true
	})
	return images
}

func text(payload *yachtapi.Payload, paths ...string) *string {
	for _, path := range paths {
		v := payload.Get(path)
		if !v.Exists() || v.Type == gjson.Null || v.IsObject() || v.IsArray() {
			continue
		}
		if s := SanitizeText(v.String()); s != "" {
			return &s
		}
	}
	return nil
}

func number(payload *yachtapi.Payload, paths ...string) *float64 {
	for _, path := range paths {
		if f, ok := parseNumber(payload.Get(path)); ok {
			return &f
		}
	}
	return nil
}

func integer(payload *yachtapi.Payload, paths ...string) *int {
	if f := number(payload, paths...); f != nil {
		return vessel.Ptr(int(math.Round(*f)))
	}
	return nil
}

func boolean(payload *yachtapi.Payload, paths ...string) *bool {
	for _, path := range paths {
		v := payload.Get(path)
		switch v.Type {
		case gjson.True, gjson.False:
			return vessel.Ptr(v.Bool())
		case gjson.String:
			if b, err := strconv.ParseBool(strings.TrimSpace(v.Str)); err == nil {
				return &b
			}
		case gjson.Number:
			return vessel.Ptr(v.Num != 0)
		}
	}
	return nil
}

// parseNumber accepts JSON numbers and display strings such as "$1,250,000" or "65 ft".
func parseNumber(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Num, true
	case gjson.String:
		cleaned := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' || r == '-' {
				return r
			}
			return -1
		}, v.Str)
		if cleaned == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// FormatUSD renders a dollar amount with thousands separators.
func FormatUSD(amount float64) string {
	digits := strconv.FormatInt(int64(math.Round(amount)), 10)

	var b strings.Builder
	b.WriteByte('$')
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}
