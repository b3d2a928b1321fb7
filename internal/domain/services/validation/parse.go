package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
)

// NationalID is either 12 digits or one letter followed by 8 digits
var nationalIDPattern = regexp.MustCompile(`^(\d{12}|[A-Za-z]\d{8})$`)

// timestampLayouts are the formats the generator is known to emit
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// fieldValue resolves a field by its canonical CamelCase name, falling back
// to the snake_case spelling some generator revisions emit.
func fieldValue(row entities.Row, key string) (interface{}, bool) {
	if v, ok := row[key]; ok {
		return v, true
	}
	if v, ok := row[snakeCase(key)]; ok {
		return v, true
	}
	return nil, false
}

func snakeCase(key string) string {
	var b strings.Builder
	runes := []rune(key)
	for i, r := range runes {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && (runes[i-1] < 'A' || runes[i-1] > 'Z') {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// stringField extracts a trimmed string value. Numeric identifiers are
// rendered as their integer form so JSON-decoded IDs stay stable.
func stringField(row entities.Row, key string) string {
	v, ok := fieldValue(row, key)
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		if val == math.Trunc(val) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}

// decimalField extracts a decimal amount. Returns ok=false when the field is
// absent or empty, and err when present but not numeric.
func decimalField(row entities.Row, key string) (decimal.Decimal, bool, error) {
	v, present := fieldValue(row, key)
	if !present || v == nil {
		return decimal.Zero, false, nil
	}
	switch val := v.(type) {
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return decimal.Zero, false, nil
		}
		d, err := decimal.NewFromString(trimmed)
		if err != nil {
			return decimal.Zero, true, fmt.Errorf("not a decimal value: %q", val)
		}
		return d, true, nil
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.Zero, true, fmt.Errorf("not a decimal value: %q", val.String())
		}
		return d, true, nil
	case float64:
		return decimal.NewFromFloat(val), true, nil
	case int:
		return decimal.NewFromInt(int64(val)), true, nil
	case int64:
		return decimal.NewFromInt(val), true, nil
	default:
		return decimal.Zero, true, fmt.Errorf("unsupported amount type %T", v)
	}
}

// timeField extracts a timestamp. Returns ok=false when absent or empty.
func timeField(row entities.Row, key string) (time.Time, bool, error) {
	v, present := fieldValue(row, key)
	if !present || v == nil {
		return time.Time{}, false, nil
	}
	raw, isString := v.(string)
	if !isString {
		if t, isTime := v.(time.Time); isTime {
			return t, true, nil
		}
		return time.Time{}, true, fmt.Errorf("unsupported timestamp type %T", v)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, true, fmt.Errorf("unrecognized timestamp: %q", raw)
}

// boolField extracts a boolean flag, defaulting to false
func boolField(row entities.Row, key string) bool {
	v, ok := fieldValue(row, key)
	if !ok || v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		return err == nil && b
	default:
		return false
	}
}

// validNationalID reports whether the identifier matches one of the two
// accepted formats.
func validNationalID(id string) bool {
	return nationalIDPattern.MatchString(id)
}

// rowKey picks the identifying key for issue reporting: the row's own ID
// field when present, otherwise a positional placeholder.
func rowKey(row entities.Row, idField string, index int) string {
	if id := stringField(row, idField); id != "" {
		return id
	}
	return fmt.Sprintf("row-%d", index)
}
