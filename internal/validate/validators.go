// Package validate provides pure field validators for LLM-extracted values.
// Each validator normalizes where it can and reports problems as warnings
// (recoverable) or errors (value unusable as-is).
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"github.com/harborintel/port-research/internal/model"
)

// Result is the outcome of validating a single field value.
type Result struct {
	IsValid        bool     `json:"is_valid"`
	Errors         []string `json:"errors,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	CorrectedValue any      `json:"corrected_value,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

func valid(corrected any) Result {
	return Result{IsValid: true, CorrectedValue: corrected}
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) errorf(format string, args ...any) {
	r.IsValid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

var folder = cases.Fold()

func fold(s string) string {
	return folder.String(strings.TrimSpace(s))
}

// Enum validates a value against a fixed value set. Exact matches pass;
// case-insensitive matches pass with a warning and a corrected value;
// substring matches produce an error with a best-guess suggestion; anything
// else produces an error listing the valid values.
func Enum(value string, validValues []string) Result {
	value = strings.TrimSpace(value)

	for _, v := range validValues {
		if value == v {
			return valid(v)
		}
	}

	fv := fold(value)
	for _, v := range validValues {
		if fv == fold(v) {
			r := valid(v)
			r.warnf("%q normalized to canonical casing %q", value, v)
			return r
		}
	}

	var r Result
	for _, v := range validValues {
		cf := fold(v)
		if fv != "" && (strings.Contains(cf, fv) || strings.Contains(fv, cf)) {
			r.errorf("%q is not a valid value; closest match is %q", value, v)
			r.Suggestions = append(r.Suggestions, v)
			return r
		}
	}

	r.errorf("%q is not a valid value; valid values: %s", value, strings.Join(validValues, ", "))
	return r
}

// PortSize validates the enum-like port size level.
func PortSize(value string) Result {
	return Enum(value, model.PortSizes)
}

// Importance validates the enum-like strategic importance strength.
func Importance(value string) Result {
	return Enum(value, model.StrategicImportances)
}

// OperatorType validates the operator type enum.
func OperatorType(value string) Result {
	return Enum(value, model.OperatorTypes)
}

// Name validates a freeform entity name: non-empty after trimming, bounded
// length, no control characters.
func Name(value string) Result {
	trimmed := strings.TrimSpace(value)

	var r Result
	if trimmed == "" {
		r.errorf("name is empty")
		return r
	}
	if len(trimmed) > 200 {
		r.errorf("name exceeds 200 characters")
		return r
	}
	for _, c := range trimmed {
		if c < 0x20 {
			r.errorf("name contains control characters")
			return r
		}
	}

	out := valid(trimmed)
	if trimmed != value {
		out.warnf("surrounding whitespace removed")
	}
	return out
}

// Coordinates validates a latitude/longitude pair: both finite, within
// WGS84 bounds, rounded to 6 decimals. (0,0) passes with a warning since it
// is a common default sentinel in upstream data.
func Coordinates(c model.Coordinates) Result {
	var r Result
	if !c.Valid() {
		r.errorf("coordinates out of range: lat must be in [-90,90], lon in [-180,180], both finite")
		return r
	}

	out := valid(c.Round6())
	if c.IsZero() {
		out.warnf("coordinates are (0,0), which usually indicates missing data")
	}
	return out
}

var capacityRe = regexp.MustCompile(`^([0-9]+(?:[.,][0-9]+)?)\s*(million|billion|thousand|[MBk])?\s*([A-Za-z][A-Za-z³/ ]*)?$`)

// Capacity validates a capacity string such as "4.5M TEU" or
// "12 million tonnes". The numeric part is required; a recognized unit
// upgrades the result, an unknown unit is kept with a warning.
func Capacity(value string, vocab Vocabulary) Result {
	trimmed := strings.TrimSpace(value)

	var r Result
	if trimmed == "" {
		r.errorf("capacity is empty")
		return r
	}

	m := capacityRe.FindStringSubmatch(trimmed)
	if m == nil {
		r.errorf("capacity %q does not match <number> [scale] [unit]", trimmed)
		return r
	}

	out := valid(trimmed)
	unit := strings.TrimSpace(m[3])
	if unit == "" {
		out.warnf("capacity %q has no unit", trimmed)
		return out
	}

	fu := fold(unit)
	for _, u := range vocab.CapacityUnits {
		if fu == fold(u) {
			if unit != u {
				out.CorrectedValue = strings.TrimSpace(strings.Replace(trimmed, unit, u, 1))
				out.warnf("unit %q normalized to %q", unit, u)
			}
			return out
		}
	}

	out.warnf("unrecognized capacity unit %q", unit)
	return out
}

// TaggedArray validates a list of tags (e.g. cargo types) against a
// canonical set. Entries are deduplicated case-insensitively, keeping the
// canonical casing; unrecognized entries are fuzzy-matched and substituted
// with a warning; entries matching nothing are kept and flagged as unknown.
// The returned list is never silently emptied.
func TaggedArray(values []string, canonical []string) Result {
	out := Result{IsValid: true}
	var result []string
	seen := make(map[string]bool)

	appendOnce := func(v string) {
		key := fold(v)
		if seen[key] {
			return
		}
		seen[key] = true
		result = append(result, v)
	}

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		fv := fold(trimmed)

		matched := false
		for _, c := range canonical {
			if fv == fold(c) {
				appendOnce(c)
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		for _, c := range canonical {
			cf := fold(c)
			if strings.Contains(cf, fv) || strings.Contains(fv, cf) {
				out.warnf("%q substituted with canonical %q", trimmed, c)
				appendOnce(c)
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		out.warnf("unknown entry %q kept as-is", trimmed)
		appendOnce(trimmed)
	}

	out.CorrectedValue = result
	return out
}

// CargoTypes validates a cargo type list against the vocabulary.
func CargoTypes(values []string, vocab Vocabulary) Result {
	return TaggedArray(values, vocab.CargoTypes)
}
