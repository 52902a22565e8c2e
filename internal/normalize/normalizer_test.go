package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/vessel"
	"github.com/fclairamb/yachtsync/internal/yachtapi"
	"github.com/fclairamb/yachtsync/internal/yachtapi/yachtapitest"
)

func parse(t *testing.T, raw string) *yachtapi.Payload {
	t.Helper()
	payload, err := yachtapi.ParsePayload([]byte(raw))
	require.NoError(t, err)
	return payload
}

const fullPayload = `{
  "basicInfo": {"vesselId": 555, "displayName": "Serenity", "builder": "Sunseeker", "year": 2015,
                "category": "Motor Yacht", "daysOnMarket": 42, "status": "Active"},
  "result": {"name": "Ignored Name", "model": "Predator 64"},
  "price": {"askingPrice": "$1,250,000", "currency": "USD", "onApplication": false},
  "dimensions": {"loaFeet": 65.5, "beam": "16' 2\""},
  "accommodations": {"stateRooms": 3, "heads": 3, "sleeps": 6},
  "location": {"city": "Fort Lauderdale", "state": "FL", "country": "US"},
  "gallery": [{"url": "https://img/1.jpg", "caption": "Profile"}, {"url": "https://img/2.jpg"}],
  "sections": [
    {"name": "DESCRIPTION", "content": "<p style=\"color:red\">A fine <b>yacht</b>.</p>"},
    {"name": "Equipment", "content": "<ul class=\"x\"><li>Radar</li></ul>"},
    {"name": "Broker Notes", "content": "Call us<script>alert(1)</script>"}
  ],
  "broker": {"name": "Jane Doe", "company": "Blue Water"}
}`

func TestNormalize_FullPayload(t *testing.T) {
	t.Parallel()

	n := &Normalizer{MinPriceUSD: 200000, ListingBaseURL: "https://listings.example/yacht/"}
	rec, err := n.Normalize(parse(t, fullPayload), vessel.Identity{VesselID: 555})
	require.NoError(t, err)

	assert.Equal(t, "Serenity", vessel.Deref(rec.Name))
	assert.Equal(t, "Predator 64", vessel.Deref(rec.Model))
	assert.InDelta(t, 1250000.0, vessel.Deref(rec.PriceUSD), 0.001)
	assert.Equal(t, "$1,250,000", vessel.Deref(rec.PriceFormatted))
	require.NotNil(t, rec.PriceOnApplication)
	assert.False(t, *rec.PriceOnApplication)
	assert.InDelta(t, 19.96, vessel.Deref(rec.LOAMeters), 0.001)
	assert.Equal(t, 3, vessel.Deref(rec.StateRooms))
	assert.Nil(t, rec.Berths)
	assert.Equal(t, "Fort Lauderdale, FL, US", vessel.Deref(rec.Location))
	assert.Equal(t, "https://img/1.jpg", vessel.Deref(rec.ImageURL))
	assert.Len(t, rec.ImageGallery, 2)
	assert.Equal(t, "Profile", rec.ImageGallery[0].Caption)
	assert.Equal(t, 42, vessel.Deref(rec.DaysOnMarket))
	assert.Equal(t, "Jane Doe", vessel.Deref(rec.Broker.Name))

	assert.Equal(t, "<p>A fine <b>yacht</b>.</p>", vessel.Deref(rec.Description))
	specs := vessel.Deref(rec.DetailedSpecifications)
	assert.Contains(t, specs, "<h3>Equipment</h3>\n<ul><li>Radar</li></ul>")
	assert.Contains(t, specs, "<h3>Broker Notes</h3>\nCall us")
	assert.NotContains(t, specs, "script")
	assert.NotContains(t, specs, "A fine")

	assert.Equal(t, "Serenity 2015 66' SUNSEEKER Motor Yacht", vessel.Deref(rec.Title))
	assert.Equal(t, "https://listings.example/yacht/serenity-2015-66-sunseeker-motor-yacht-555", vessel.Deref(rec.ListingURL))
	assert.Equal(t, "Sunseeker", rec.Terms["builder"])
	assert.Equal(t, "Motor Yacht", rec.Terms["category"])
	assert.True(t, rec.Active)
}

func TestNormalize_PriceChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want *float64
	}{
		{
			name: "explicit usd wins",
			raw:  `{"price":{"usd":500000,"askingPrice":1}, "compare":{"priceUSD":2}}`,
			want: vessel.Ptr(500000.0),
		},
		{
			name: "converted usd",
			raw:  `{"price":{"askingPrice":400000,"currency":"EUR"}, "compare":{"priceUSD":430000}}`,
			want: vessel.Ptr(430000.0),
		},
		{
			name: "asking price in dollars",
			raw:  `{"price":{"askingPrice":"300,000"}}`,
			want: vessel.Ptr(300000.0),
		},
		{
			name: "asking price in euros only",
			raw:  `{"price":{"askingPrice":300000,"currency":"EUR"}}`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := (&Normalizer{}).MarketFields(parse(t, tt.raw)).PriceUSD
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_ViabilityRejections(t *testing.T) {
	t.Parallel()

	n := &Normalizer{MinPriceUSD: 200000}
	id := vessel.Identity{VesselID: 1}

	cheap := yachtapitest.Viable(1)
	cheap.PriceUSD = 50000
	_, err := n.Normalize(parse(t, string(cheap.JSON())), id)
	require.ErrorIs(t, err, apperrors.ErrPriceTooLow)
	assert.Equal(t, apperrors.KindPriceTooLow, apperrors.KindOf(err))

	bare := yachtapitest.Viable(1)
	bare.Image = ""
	bare.City = ""
	bare.Country = ""
	_, err = n.Normalize(parse(t, string(bare.JSON())), id)
	require.ErrorIs(t, err, apperrors.ErrIncompleteListing)

	noLocation := yachtapitest.Viable(1)
	noLocation.City = ""
	noLocation.Country = ""
	_, err = n.Normalize(parse(t, string(noLocation.JSON())), id)
	require.ErrorIs(t, err, apperrors.ErrIncompleteListing)
}

func TestNormalize_UnknownPricePasses(t *testing.T) {
	t.Parallel()

	l := yachtapitest.Viable(1)
	l.PriceUSD = 0

	rec, err := (&Normalizer{MinPriceUSD: 200000}).Normalize(parse(t, string(l.JSON())), vessel.Identity{VesselID: 1})
	require.NoError(t, err)
	assert.Nil(t, rec.PriceUSD)
	assert.Nil(t, rec.PriceFormatted)
}

func TestNormalize_GalleryImageFallback(t *testing.T) {
	t.Parallel()

	l := yachtapitest.Viable(1)
	l.Image = ""
	l.Gallery = []string{"https://img/g1.jpg"}

	rec, err := (&Normalizer{}).Normalize(parse(t, string(l.JSON())), vessel.Identity{VesselID: 1})
	require.NoError(t, err)
	assert.Equal(t, "https://img/g1.jpg", vessel.Deref(rec.ImageURL))
}

func TestNormalize_MetersKeptWhenPresent(t *testing.T) {
	t.Parallel()

	raw := `{"dimensions":{"loaFeet":100,"loaMeters":30.5},"primaryImage":"x","location":{"country":"FR"}}`
	rec, err := (&Normalizer{}).Normalize(parse(t, raw), vessel.Identity{MLSID: "9"})
	require.NoError(t, err)
	assert.InDelta(t, 30.5, vessel.Deref(rec.LOAMeters), 0.0001)
}
