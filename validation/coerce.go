package validation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rmachado/financedw/registry"
)

// normalizeText collapses duplicated whitespace and trims the ends, matching
// how account texts are standardized before classification.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// dateLayouts accepted for date fields, day-first layouts included for
// spreadsheet exports.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
}

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
}

// coerceValue converts one raw string into the contract field's type.
// Numeric values tolerate the Brazilian decimal comma and thousand separator.
func coerceValue(field registry.FieldDef, raw string) (any, error) {
	value := normalizeText(raw)

	switch field.Type {
	case registry.FieldString:
		return value, nil

	case registry.FieldInt:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %q: %q is not an integer", field.Name, raw)
		}
		return n, nil

	case registry.FieldFloat:
		normalized := value
		if strings.Contains(normalized, ",") {
			// "1.234,56" -> "1234.56"
			normalized = strings.ReplaceAll(normalized, ".", "")
			normalized = strings.ReplaceAll(normalized, ",", ".")
		}
		f, err := strconv.ParseFloat(normalized, 64)
		if err != nil {
			return nil, fmt.Errorf("field %q: %q is not a number", field.Name, raw)
		}
		return f, nil

	case registry.FieldBool:
		switch strings.ToLower(value) {
		case "true", "1", "yes", "sim", "s":
			return true, nil
		case "false", "0", "no", "nao", "não", "n":
			return false, nil
		}
		return nil, fmt.Errorf("field %q: %q is not a boolean", field.Name, raw)

	case registry.FieldDate:
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, value); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("field %q: %q is not a date", field.Name, raw)

	case registry.FieldDateTime:
		for _, layout := range datetimeLayouts {
			if ts, err := time.Parse(layout, value); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("field %q: %q is not a datetime", field.Name, raw)
	}

	return nil, fmt.Errorf("field %q: unknown type %q", field.Name, field.Type)
}
