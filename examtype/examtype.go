// Package examtype maps free-text exam identifiers onto the canonical exam
// keys that select a physical question store.
package examtype

import (
	"sort"
	"strings"
	"unicode"

	"qbank-server/models"
)

// Key is a canonical exam key.
type Key string

const (
	JEE  Key = "JEE"
	NEET Key = "NEET"
)

func (k Key) String() string { return string(k) }

// synonyms is keyed by the normalized form (upper case, single spaces).
var synonyms = map[string]Key{
	"JEE":               JEE,
	"JEE MAIN":          JEE,
	"JEE MAINS":         JEE,
	"JEE ADVANCED":      JEE,
	"JEE ADV":           JEE,
	"IIT JEE":           JEE,
	"JEE MAIN ADVANCED": JEE,
	"NEET":              NEET,
	"NEET UG":           NEET,
	"AIPMT":             NEET,
	"AIIMS NEET":        NEET,
}

// compact holds the same table with all spaces removed, for the second lookup.
var compact = func() map[string]Key {
	m := make(map[string]Key, len(synonyms))
	for k, v := range synonyms {
		m[strings.ReplaceAll(k, " ", "")] = v
	}
	return m
}()

// Normalize resolves a free-text identifier such as "jee main" or "JEE-MAINS".
// It reports false when the input is not a known exam.
func Normalize(input string) (Key, bool) {
	folded := fold(input)
	if folded == "" {
		return "", false
	}
	if k, ok := synonyms[folded]; ok {
		return k, true
	}
	if k, ok := compact[strings.ReplaceAll(folded, " ", "")]; ok {
		return k, true
	}
	return "", false
}

// Parse is Normalize for request input: unknown or empty identifiers become a
// *models.ValidationError on field.
func Parse(field, input string) (Key, error) {
	if strings.TrimSpace(input) == "" {
		return "", models.Invalid(field, "is required")
	}
	k, ok := Normalize(input)
	if !ok {
		return "", models.Invalid(field, "unrecognized exam type %q", input)
	}
	return k, nil
}

// Keys returns every canonical key, sorted.
func Keys() []Key {
	seen := map[Key]bool{}
	var out []Key
	for _, k := range synonyms {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// fold upper-cases and collapses runs of whitespace, hyphens and underscores into one space.
func fold(s string) string {
	fields := strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
