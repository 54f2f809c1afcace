package outreach

import (
	"fmt"
	"strings"
)

// Profile is a loosely structured LinkedIn profile record as submitted by the
// browser extension. Only a handful of keys drive message generation; the
// rest are carried through untouched.
type Profile map[string]any

// Recognized profile keys.
const (
	KeyName     = "name"
	KeyTitle    = "title"
	KeyCompany  = "company"
	KeySchool   = "school"
	KeyIndustry = "industry"
	KeyYourRole = "your_role"
)

// Field returns the value stored under key as a string. ok is false when the
// key is missing or explicitly null.
func (p Profile) Field(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	default:
		return fmt.Sprintf("%v", val), true
	}
}

// FieldOr returns Field(key), or def when the key is absent.
func (p Profile) FieldOr(key, def string) string {
	if v, ok := p.Field(key); ok {
		return v
	}
	return def
}

// Has reports whether key is present with a non-null value.
func (p Profile) Has(key string) bool {
	_, ok := p.Field(key)
	return ok
}

func (p Profile) lowerTitle() string {
	title, _ := p.Field(KeyTitle)
	return strings.ToLower(title)
}
