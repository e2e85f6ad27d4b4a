package configutil

import (
	"slices"
	"strings"
)

// Schema lists the keys a vendor settings block may carry.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// SettingsError reports every problem found in one settings block.
type SettingsError struct {
	Path    string
	Missing []string
	Unknown []string
}

func (e *SettingsError) Error() string {
	var b strings.Builder
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	if len(e.Missing) > 0 {
		b.WriteString("missing: ")
		b.WriteString(strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		if len(e.Missing) > 0 {
			b.WriteString("; ")
		}
		b.WriteString("unknown: ")
		b.WriteString(strings.Join(e.Unknown, ", "))
	}
	return b.String()
}

// ValidateSettings checks input against schema and returns a *SettingsError
// naming path when a required key is absent or blank, or an unlisted key is
// present. Key matching ignores case, underscores and hyphens.
func ValidateSettings(path string, input map[string]any, schema Schema) error {
	present := make(map[string]any, len(input))
	for k, v := range input {
		present[normalizeKey(k)] = v
	}

	serr := &SettingsError{Path: path}
	for _, k := range schema.Required {
		if v, ok := present[normalizeKey(k)]; !ok || blank(v) {
			serr.Missing = append(serr.Missing, k)
		}
	}
	if !schema.AllowUnknown {
		known := make(map[string]bool, len(schema.Required)+len(schema.Optional))
		for _, k := range slices.Concat(schema.Required, schema.Optional) {
			known[normalizeKey(k)] = true
		}
		for k := range input {
			if !known[normalizeKey(k)] {
				serr.Unknown = append(serr.Unknown, k)
			}
		}
	}
	if len(serr.Missing) == 0 && len(serr.Unknown) == 0 {
		return nil
	}
	slices.Sort(serr.Missing)
	slices.Sort(serr.Unknown)
	return serr
}

func blank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	}
	return false
}

func normalizeKey(value string) string {
	return strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(value))
}
