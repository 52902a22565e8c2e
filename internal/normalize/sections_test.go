package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fclairamb/yachtsync/internal/vessel"
)

func TestIsNarrativeSection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"Description", true},
		{" description ", true},
		{"Overview", false},
		{"SPECIFICATIONS", false},
		{"Equipment", false},
		{"Features", false},
		{"Description of equipment", false},
		{"", false},
		{"Broker Notes", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsNarrativeSection(tt.name))
		})
	}
}

func TestSanitizeText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Blue & Gold", SanitizeText("  <b>Blue</b> &amp;\tGold\x00 "))
	assert.Empty(t, SanitizeText("<script>x()</script>"))
	assert.Empty(t, SanitizeText("<script>x()"))
	assert.Equal(t, "Tom's \"Boat\"", SanitizeText(`<i>Tom's</i> "Boat"`))
}

func TestSanitizeHTML_StripsInlineStyling(t *testing.T) {
	t.Parallel()

	in := "<div style='margin:0' class=\"c\"><span>Hello</span>\n\n\n\n<font>World</font></div>"
	assert.Equal(t, "<div>Hello\n\nWorld</div>", SanitizeHTML(in))
}

func TestSanitizeHTML_DropsActiveContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"event handler", `<p onclick="steal()">Hi</p>`, "<p>Hi</p>"},
		{"image with onerror", `<img src=x onerror=alert(1)>Deck`, "Deck"},
		{"unclosed script", `Hull<script>alert(1)`, "Hull"},
		{"javascript link", `<a href="javascript:alert(1)">Brochure</a>`, "Brochure"},
		{"inline style element", `<style>p{color:red}</style><p>Hi</p>`, "<p>Hi</p>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SanitizeHTML(tt.in))
		})
	}
}

func TestSanitizeHTML_KeepsSafeLinks(t *testing.T) {
	t.Parallel()

	got := SanitizeHTML(`<a href="https://listings.example/brochure.pdf" target="_blank">Brochure</a>`)
	assert.Contains(t, got, `href="https://listings.example/brochure.pdf"`)
	assert.Contains(t, got, `rel="nofollow"`)
	assert.NotContains(t, got, "target")
}

func TestBuildTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rec  vessel.Record
		want string
	}{
		{
			name: "name with year kept verbatim",
			rec:  vessel.Record{Name: vessel.Ptr("2019 Azimut 72 Fly"), Year: vessel.Ptr(2019), Builder: vessel.Ptr("Azimut")},
			want: "2019 Azimut 72 Fly",
		},
		{
			name: "composed title",
			rec: vessel.Record{
				Name: vessel.Ptr("Lady M"), Year: vessel.Ptr(2008), LOAFeet: vessel.Ptr(80.2),
				Builder: vessel.Ptr("Ferretti"), Category: vessel.Ptr("Motor Yacht"),
			},
			want: "Lady M 2008 80' FERRETTI Motor Yacht",
		},
		{
			name: "year outside range is not a year",
			rec:  vessel.Record{Name: vessel.Ptr("Hull 1850"), Year: vessel.Ptr(1999)},
			want: "Hull 1850 1999",
		},
		{
			name: "missing parts skipped",
			rec:  vessel.Record{Builder: vessel.Ptr("Hatteras")},
			want: "HATTERAS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, vessel.Deref(BuildTitle(&tt.rec)))
		})
	}
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "lady-m-2008-80-ferretti", Slugify("Lady M 2008 80' FERRETTI"))
	assert.Equal(t, "yacht", Slugify("***"))
	assert.Equal(t, "a-b", Slugify("--a__b--"))
}

func TestFormatUSD(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "$950", FormatUSD(950))
	assert.Equal(t, "$1,000", FormatUSD(1000))
	assert.Equal(t, "$12,345,678", FormatUSD(12345678.4))
}
