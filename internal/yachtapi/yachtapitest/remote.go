// Package yachtapitest provides an in-memory listing API for tests.
package yachtapitest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/yachtapi"
)

// Remote is a fake listing API. Vessel IDs resolve through Payloads,
// MLS IDs through MLSToVessel.
type Remote struct {
	mu sync.Mutex

	active      []int64
	payloads    map[int64][]byte
	mlsToVessel map[int64]int64
	fetchErrors map[int64]error
	listErr     error

	// AfterFetch is called after every successful fetch, outside the lock.
	AfterFetch func(vesselID int64, fetches int)

	fetches int
	calls   map[string]int
}

// New creates an empty fake remote.
func New() *Remote {
	return &Remote{
		payloads:    make(map[int64][]byte),
		mlsToVessel: make(map[int64]int64),
		fetchErrors: make(map[int64]error),
		calls:       make(map[string]int),
	}
}

// AddListing registers a listing reachable by its vessel ID, and by its MLS
// ID when set. The vessel ID is appended to the active set.
func (r *Remote) AddListing(l Listing) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.payloads[l.VesselID] = l.JSON()
	if l.MLSID != 0 {
		r.mlsToVessel[l.MLSID] = l.VesselID
	}
	r.active = append(r.active, l.VesselID)
}

// SetPayload registers a raw payload under a vessel ID without touching the active set.
func (r *Remote) SetPayload(vesselID int64, raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads[vesselID] = raw
}

// MapMLS registers an MLS → vessel conversion.
func (r *Remote) MapMLS(mlsID, vesselID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mlsToVessel[mlsID] = vesselID
}

// SetActive replaces the active ID set.
func (r *Remote) SetActive(ids ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = slices.Clone(ids)
}

// FailFetch makes fetches of vesselID fail with err.
func (r *Remote) FailFetch(vesselID int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchErrors[vesselID] = err
}

// FailList makes ListActiveIDs fail with err.
func (r *Remote) FailList(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listErr = err
}

// Calls returns how many times a method was invoked.
func (r *Remote) Calls(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

// ListActiveIDs implements the listing client.
func (r *Remote) ListActiveIDs(_ context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["ListActiveIDs"]++

	if r.listErr != nil {
		return nil, r.listErr
	}
	return slices.Clone(r.active), nil
}

// FetchFullRecord implements the listing client.
func (r *Remote) FetchFullRecord(ctx context.Context, vesselID int64) (*yachtapi.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.calls["FetchFullRecord"]++
	if err := r.fetchErrors[vesselID]; err != nil {
		r.mu.Unlock()
		return nil, err
	}
	raw, ok := r.payloads[vesselID]
	r.fetches++
	fetches := r.fetches
	hook := r.AfterFetch
	r.mu.Unlock()

	if !ok {
		return nil, notFound(vesselID)
	}

	payload, err := yachtapi.ParsePayload(raw)
	if err != nil {
		return nil, err
	}

	if hook != nil {
		hook(vesselID, fetches)
	}
	return payload, nil
}

// ConvertMLSToVessel implements the listing client.
func (r *Remote) ConvertMLSToVessel(_ context.Context, mlsID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["ConvertMLSToVessel"]++

	if v, ok := r.mlsToVessel[mlsID]; ok {
		return v, nil
	}
	return 0, notFound(mlsID)
}

// ConvertVesselToMLS implements the listing client.
func (r *Remote) ConvertVesselToMLS(_ context.Context, vesselID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["ConvertVesselToMLS"]++

	if _, ok := r.payloads[vesselID]; !ok {
		return 0, notFound(vesselID)
	}
	for mls, v := range r.mlsToVessel {
		if v == vesselID {
			return mls, nil
		}
	}
	return 0, nil
}

func notFound(id int64) error {
	return apperrors.NewHTTPError(http.StatusNotFound, "unknown id "+strconv.FormatInt(id, 10))
}

// Listing describes a payload in the remote's document shape.
// Zero values are left out of the document.
type Listing struct {
	VesselID    int64
	MLSID       int64
	Name        string
	Builder     string
	Model       string
	Year        int
	Category    string
	PriceUSD    float64
	AskingPrice float64
	Currency    string
	LOAFeet     float64
	City        string
	Country     string
	Image       string
	Gallery     []string
	Description string
	Specs       string
	DaysOnMkt   int
}

// Viable returns a listing that passes every admission check.
func Viable(vesselID int64) Listing {
	return Listing{
		VesselID:  vesselID,
		Name:      fmt.Sprintf("Vessel %d", vesselID),
		Builder:   "Sunseeker",
		Year:      2015,
		Category:  "Motor Yacht",
		PriceUSD:  750000,
		LOAFeet:   65,
		City:      "Fort Lauderdale",
		Country:   "US",
		Image:     fmt.Sprintf("https://img.example/%d/main.jpg", vesselID),
		DaysOnMkt: 10,
	}
}

// JSON renders the listing document.
func (l Listing) JSON() []byte {
	basic := map[string]any{}
	putNonZero(basic, "vesselId", l.VesselID)
	putNonZero(basic, "mlsId", l.MLSID)
	putNonZero(basic, "displayName", l.Name)
	putNonZero(basic, "builder", l.Builder)
	putNonZero(basic, "model", l.Model)
	putNonZero(basic, "year", l.Year)
	putNonZero(basic, "category", l.Category)
	putNonZero(basic, "daysOnMarket", l.DaysOnMkt)

	doc := map[string]any{"basicInfo": basic}

	price := map[string]any{}
	putNonZero(price, "usd", l.PriceUSD)
	putNonZero(price, "askingPrice", l.AskingPrice)
	putNonZero(price, "currency", l.Currency)
	if len(price) > 0 {
		doc["price"] = price
	}

	if l.LOAFeet != 0 {
		doc["dimensions"] = map[string]any{"loaFeet": l.LOAFeet}
	}

	location := map[string]any{}
	putNonZero(location, "city", l.City)
	putNonZero(location, "country", l.Country)
	if len(location) > 0 {
		doc["location"] = location
	}

	if l.Image != "" {
		doc["primaryImage"] = l.Image
	}
	if len(l.Gallery) > 0 {
		gallery := make([]map[string]string, 0, len(l.Gallery))
		for _, u := range l.Gallery {
			gallery = append(gallery, map[string]string{"url": u})
		}
		doc["gallery"] = gallery
	}

	var sections []map[string]string
	if l.Description != "" {
		sections = append(sections, map[string]string{"name": "Description", "content": l.Description})
	}
	if l.Specs != "" {
		sections = append(sections, map[string]string{"name": "Specifications", "content": l.Specs})
	}
	if len(sections) > 0 {
		doc["sections"] = sections
	}

	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

func putNonZero[T comparable](m map[string]any, key string, v T) {
	var zero T
	if v != zero {
		m[key] = v
	}
}
