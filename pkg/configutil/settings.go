// Package configutil decodes the free-form settings maps carried by vendor
// blocks and client config patches.
package configutil

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

func decode(input map[string]any, out any, strict bool) error {
	if len(input) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      strict,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// DecodeSettings fills out from a vendor settings map. Keys out does not
// declare are ignored; ValidateSettings is where they get rejected.
func DecodeSettings(input map[string]any, out any) error {
	return decode(input, out, false)
}

// DecodePatch fills out from a client config patch. A key matching no field
// is an error, so out should hold pointer fields to tell unset from zero.
func DecodePatch(input map[string]any, out any) error {
	return decode(input, out, true)
}

// RequireString returns "<path> is required" for a blank value.
func RequireString(value, path string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", path)
	}
	return nil
}

func BoolValue(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func IntValue(value *int, fallback int) int {
	if value == nil {
		return fallback
	}
	return *value
}
