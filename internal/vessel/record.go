// Package vessel defines the canonical yacht listing record and its merge policy.
package vessel

import (
	"maps"
	"reflect"
	"slices"
	"strconv"
	"time"
)

// Identity is the identifier pair confirmed by a fetched payload.
// VesselID wins when both are set.
type Identity struct {
	VesselID int64  `json:"vessel_id,omitempty"`
	MLSID    string `json:"mls_id,omitempty"`
}

// IsZero reports whether no identifier is known.
func (i Identity) IsZero() bool {
	return i.VesselID == 0 && i.MLSID == ""
}

// HasVessel reports whether the vessel ID variant is authoritative.
func (i Identity) HasVessel() bool {
	return i.VesselID != 0
}

// Canonical returns the authoritative variant only.
func (i Identity) Canonical() Identity {
	if i.VesselID != 0 {
		return Identity{VesselID: i.VesselID}
	}
	return Identity{MLSID: i.MLSID}
}

// Key renders the canonical key used as the stored ID of new records.
func (i Identity) Key() string {
	if i.VesselID != 0 {
		return "vessel-" + strconv.FormatInt(i.VesselID, 10)
	}
	if i.MLSID != "" {
		return "mls-" + i.MLSID
	}
	return ""
}

// String implements fmt.Stringer.
func (i Identity) String() string {
	return i.Key()
}

// Image is a gallery entry. Gallery images are stored as metadata only.
type Image struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

// Broker is the listing contact block.
type Broker struct {
	Name    *string `json:"name,omitempty"`
	Company *string `json:"company,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Email   *string `json:"email,omitempty"`
}

// Record is a stored yacht listing. Nil fields are unknown.
type Record struct {
	Identity Identity `json:"identity"`

	Title       *string `json:"title,omitempty"`
	Name        *string `json:"name,omitempty"`
	Builder     *string `json:"builder,omitempty"`
	Model       *string `json:"model,omitempty"`
	Category    *string `json:"category,omitempty"`
	SubCategory *string `json:"sub_category,omitempty"`
	Type        *string `json:"type,omitempty"`
	Condition   *string `json:"condition,omitempty"`

	PriceUSD              *float64 `json:"price_usd,omitempty"`
	PriceEUR              *float64 `json:"price_eur,omitempty"`
	PriceFormatted        *string  `json:"price_formatted,omitempty"`
	PriceOnApplication    *bool    `json:"price_on_application,omitempty"`
	MSRPValue             *float64 `json:"msrp_value,omitempty"`
	PriceReduction        *float64 `json:"price_reduction,omitempty"`
	PriceReductionPercent *float64 `json:"price_reduction_percent,omitempty"`

	Year         *int     `json:"year,omitempty"`
	LOAFeet      *float64 `json:"loa_feet,omitempty"`
	LOAMeters    *float64 `json:"loa_meters,omitempty"`
	Beam         *string  `json:"beam,omitempty"`
	GrossTonnage *float64 `json:"gross_tonnage,omitempty"`
	StateRooms   *int     `json:"state_rooms,omitempty"`
	Heads        *int     `json:"heads,omitempty"`
	Sleeps       *int     `json:"sleeps,omitempty"`
	Berths       *int     `json:"berths,omitempty"`

	Location        *string `json:"location,omitempty"`
	LocationCity    *string `json:"location_city,omitempty"`
	LocationState   *string `json:"location_state,omitempty"`
	LocationCountry *string `json:"location_country,omitempty"`

	Description            *string `json:"description,omitempty"`
	DetailedSpecifications *string `json:"detailed_specifications,omitempty"`

	ImageURL     *string `json:"image_url,omitempty"`
	ImageGallery []Image `json:"image_gallery,omitempty"`

	DaysOnMarket  *int    `json:"days_on_market,omitempty"`
	StatusText    *string `json:"status_text,omitempty"`
	AgreementType *string `json:"agreement_type,omitempty"`
	Broker        Broker  `json:"broker"`

	ListingURL *string `json:"listing_url,omitempty"`

	// Terms holds taxonomy associations (taxonomy name → term).
	Terms map[string]string `json:"terms,omitempty"`

	// PrimaryImagePath is the store path of the downloaded primary image.
	PrimaryImagePath string `json:"primary_image_path,omitempty"`

	Active      bool       `json:"active"`
	RemovedAt   *time.Time `json:"removed_at,omitempty"`
	LastUpdated time.Time  `json:"last_updated"`
}

// Merge applies src onto r. Fields set in src overwrite, fields absent in src
// are left untouched. Identity variants are filled, never cleared.
func (r *Record) Merge(src *Record) {
	if src.Identity.VesselID != 0 {
		r.Identity.VesselID = src.Identity.VesselID
	}
	if src.Identity.MLSID != "" {
		r.Identity.MLSID = src.Identity.MLSID
	}

	setStr(&r.Title, src.Title)
	setStr(&r.Name, src.Name)
	setStr(&r.Builder, src.Builder)
	setStr(&r.Model, src.Model)
	setStr(&r.Category, src.Category)
	setStr(&r.SubCategory, src.SubCategory)
	setStr(&r.Type, src.Type)
	setStr(&r.Condition, src.Condition)

	set(&r.PriceUSD, src.PriceUSD)
	set(&r.PriceEUR, src.PriceEUR)
	setStr(&r.PriceFormatted, src.PriceFormatted)
	set(&r.PriceOnApplication, src.PriceOnApplication)
	set(&r.MSRPValue, src.MSRPValue)
	set(&r.PriceReduction, src.PriceReduction)
	set(&r.PriceReductionPercent, src.PriceReductionPercent)

	set(&r.Year, src.Year)
	set(&r.LOAFeet, src.LOAFeet)
	set(&r.LOAMeters, src.LOAMeters)
	setStr(&r.Beam, src.Beam)
	set(&r.GrossTonnage, src.GrossTonnage)
	set(&r.StateRooms, src.StateRooms)
	set(&r.Heads, src.Heads)
	set(&r.Sleeps, src.Sleeps)
	set(&r.Berths, src.Berths)

	setStr(&r.Location, src.Location)
	setStr(&r.LocationCity, src.LocationCity)
	setStr(&r.LocationState, src.LocationState)
	setStr(&r.LocationCountry, src.LocationCountry)

	setStr(&r.Description, src.Description)
	setStr(&r.DetailedSpecifications, src.DetailedSpecifications)

	setStr(&r.ImageURL, src.ImageURL)
	if len(src.ImageGallery) > 0 {
		r.ImageGallery = slices.Clone(src.ImageGallery)
	}

	set(&r.DaysOnMarket, src.DaysOnMarket)
	setStr(&r.StatusText, src.StatusText)
	setStr(&r.AgreementType, src.AgreementType)
	setStr(&r.Broker.Name, src.Broker.Name)
	setStr(&r.Broker.Company, src.Broker.Company)
	setStr(&r.Broker.Phone, src.Broker.Phone)
	setStr(&r.Broker.Email, src.Broker.Email)

	setStr(&r.ListingURL, src.ListingURL)

	if len(src.Terms) > 0 {
		if r.Terms == nil {
			r.Terms = make(map[string]string, len(src.Terms))
		}
		maps.Copy(r.Terms, src.Terms)
	}

	if src.PrimaryImagePath != "" {
		r.PrimaryImagePath = src.PrimaryImagePath
	}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	out := *r
	out.ImageGallery = slices.Clone(r.ImageGallery)
	out.Terms = maps.Clone(r.Terms)
	// Pointer fields are replaced, never mutated in place, so sharing them is safe.
	return &out
}

// Equal reports whether r and o hold the same data. LastUpdated is ignored.
func (r *Record) Equal(o *Record) bool {
	a, b := *r, *o
	a.LastUpdated, b.LastUpdated = time.Time{}, time.Time{}
	return reflect.DeepEqual(a, b)
}

func set[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func setStr(dst **string, src *string) {
	if src != nil && *src != "" {
		v := *src
		*dst = &v
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns the pointed value or the zero value.
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
