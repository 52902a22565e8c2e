package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/fclairamb/yachtsync/internal/vessel"
)

const maxSlugLength = 100

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// BuildTitle keeps a name that already embeds a year, otherwise it composes
// "name year length' BUILDER category" from whatever is known.
func BuildTitle(rec *vessel.Record) *string {
	name := vessel.Deref(rec.Name)
	if yearPattern.MatchString(name) {
		return &name
	}

	var parts []string
	if name != "" {
		parts = append(parts, name)
	}
	if rec.Year != nil && *rec.Year > 0 {
		parts = append(parts, strconv.Itoa(*rec.Year))
	}
	if rec.LOAFeet != nil && *rec.LOAFeet > 0 {
		parts = append(parts, strconv.Itoa(int(math.Round(*rec.LOAFeet)))+"'")
	}
	if b := vessel.Deref(rec.Builder); b != "" {
		parts = append(parts, strings.ToUpper(b))
	}
	if c := vessel.Deref(rec.Category); c != "" {
		parts = append(parts, c)
	}

	if len(parts) == 0 {
		return nil
	}
	return vessel.Ptr(strings.Join(parts, " "))
}

// Slugify makes a string safe for use in a URL path segment.
// Only [a-z0-9-] is kept.
func Slugify(s string) string {
	s = strings.ToLower(s)

	var result strings.Builder
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			result.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '/' || r == '\\' || r == ':' || r == '|' || r == '.':
			result.WriteRune('-')
		}
	}

	slug := result.String()
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")

	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}

	if slug == "" {
		return "yacht"
	}
	return slug
}
