// Package variable derives the scientific variable name an artifact holds
// from its filename.
package variable

import (
	"path"
	"regexp"
	"strings"
)

// Fallback is returned when no rule matches.
const Fallback = "data"

var (
	// series_PRECTOT.tif
	suffixPattern = regexp.MustCompile(`_([A-Z][A-Z0-9]*[A-Z][A-Z0-9]*)$`)
	// MERRA2_PRECTOT_hourly, 20250401.T2M.daily
	embeddedPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]+$`)
	tokenPattern    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)
)

// Extract returns the variable encoded in filename. Rules are tried in order:
//
//  1. the final underscore-delimited token of the stem, when it is an
//     upper-case identifier;
//  2. the last upper-case identifier embedded anywhere in the stem;
//  3. the final underscore-delimited token when it is alphanumeric,
//     otherwise Fallback.
//
// Extract never fails and always returns the same result for the same input.
func Extract(filename string) string {
	stem := Stem(filename)
	if stem == "" {
		return Fallback
	}

	if m := suffixPattern.FindStringSubmatch(stem); m != nil {
		return m[1]
	}

	tokens := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '_' || r == '.' || r == '-'
	})
	for i := len(tokens) - 1; i >= 0; i-- {
		if embeddedPattern.MatchString(tokens[i]) {
			return tokens[i]
		}
	}

	if i := strings.LastIndex(stem, "_"); i >= 0 {
		last := stem[i+1:]
		if tokenPattern.MatchString(last) {
			return last
		}
	}
	return Fallback
}

// Stem strips any directory and the final extension from filename. Trailing
// slashes, as on Zarr prefixes, are ignored.
func Stem(filename string) string {
	base := path.Base(strings.TrimRight(filename, "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
