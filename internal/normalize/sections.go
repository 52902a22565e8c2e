package normalize

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/tidwall/gjson"

	"github.com/fclairamb/yachtsync/internal/vessel"
	"github.com/fclairamb/yachtsync/internal/yachtapi"
)

// Section names routed to the narrative bucket. Matching is case-insensitive and exact.
var narrativeSections = map[string]bool{
	"description": true,
}

// Section names always routed to the specifications bucket.
var specSections = map[string]bool{
	"overview":       true,
	"specifications": true,
	"equipment":      true,
	"features":       true,
}

var (
	sectionPolicy = newSectionPolicy()
	textPolicy    = bluemonday.StrictPolicy()

	spacePattern   = regexp.MustCompile(`[ \t\f\v]+`)
	newlinePattern = regexp.MustCompile(`\n{3,}`)
)

// newSectionPolicy keeps structural markup only. Links survive when they
// point to http, https or mailto.
func newSectionPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "div", "hr", "blockquote", "pre",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"b", "strong", "i", "em", "u", "sub", "sup",
		"ul", "ol", "li", "dl", "dt", "dd",
		"table", "thead", "tbody", "tfoot", "tr", "th", "td",
	)
	p.AllowAttrs("colspan", "rowspan").Matching(bluemonday.Integer).OnElements("td", "th")
	p.AllowStandardURLs()
	p.AllowAttrs("href").OnElements("a")
	p.RequireNoFollowOnLinks(true)
	return p
}

// IsNarrativeSection reports whether a section name belongs to the description bucket.
// Unknown and unnamed sections go to the specifications bucket.
func IsNarrativeSection(name string) bool {
	key := strings.ToLower(strings.TrimSpace(name))
	if specSections[key] {
		return false
	}
	return narrativeSections[key]
}

// splitSections returns the description and detailed specifications buckets.
func splitSections(payload *yachtapi.Payload) (*string, *string) {
	var narrative, specs []string

	add := func(name, content string) {
		content = SanitizeHTML(content)
		if content == "" {
			return
		}
		if IsNarrativeSection(name) {
			narrative = append(narrative, content)
			return
		}
		if title := SanitizeText(name); title != "" {
			content = "<h3>" + html.EscapeString(title) + "</h3>\n" + content
		}
		specs = append(specs, content)
	}

	sections := payload.Get("sections")
	switch {
	case sections.IsArray():
		sections.ForEach(func(_, s gjson.Result) bool {
			name := s.Get("name").String()
			if name == "" {
				name = s.Get("title").String()
			}
			content := s.Get("content").String()
			if content == "" {
				content = s.Get("text").String()
			}
			add(name, content)
			return true
		})
	case sections.IsObject():
		sections.ForEach(func(k, v gjson.Result) bool {
			add(k.String(), v.String())
			return true
		})
	}

	// A bare top-level description is narrative too.
	if len(narrative) == 0 {
		if d := payload.First("basicInfo.description", "result.description", "description"); d.Exists() {
			if content := SanitizeHTML(d.String()); content != "" {
				narrative = append(narrative, content)
			}
		}
	}

	return joined(narrative), joined(specs)
}

func joined(parts []string) *string {
	if len(parts) == 0 {
		return nil
	}
	return vessel.Ptr(strings.Join(parts, "\n\n"))
}

// SanitizeHTML keeps structural markup and drops everything else.
func SanitizeHTML(s string) string {
	s = sectionPolicy.Sanitize(stripControl(s))
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spacePattern.ReplaceAllString(s, " ")
	s = newlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// SanitizeText returns plain single-line text.
func SanitizeText(s string) string {
	s = textPolicy.Sanitize(stripControl(s))
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
