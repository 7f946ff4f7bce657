package car

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var editableColumns = map[string]bool{
	ColBrand: true, ColModel: true, ColTitle: true, ColPrice: true, ColYear: true, ColMileage: true,
	ColEngine: true, ColTrans: true, ColFuel: true, ColStatus: true, ColStockNo: true, ColSpecs: true,
}

var numericColumns = map[string]bool{ColPrice: true, ColYear: true, ColMileage: true}

// SanitizeUpdates keeps only editable columns from an admin edit request.
// Numbers are truncated, strings trimmed and blank values skipped.
func SanitizeUpdates(input map[string]any) (Row, error) {
	out := Row{}
	for key, raw := range input {
		if !editableColumns[key] {
			continue
		}
		switch {
		case key == ColSpecs:
			specs, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			cleaned := map[string]string{}
			for field, value := range specs {
				if s := coerceString(value); s != "" {
					cleaned[field] = s
				}
			}
			out[key] = cleaned
		case numericColumns[key]:
			n, skip, err := truncateNumber(key, raw)
			if err != nil {
				return nil, err
			}
			if !skip {
				out[key] = n
			}
		default:
			s, ok := raw.(string)
			if !ok {
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				out[key] = s
			}
		}
	}
	return out, nil
}

func truncateNumber(key string, raw any) (int, bool, error) {
	var f float64
	switch v := raw.(type) {
	case nil:
		return 0, true, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, true, nil
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false, Invalid(key, "invalid numeric value for %s", key)
		}
		f = parsed
	case float64:
		f = v
	case int:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false, Invalid(key, "invalid numeric value for %s", key)
		}
		f = parsed
	default:
		return 0, false, Invalid(key, "invalid numeric value for %s: %v", key, fmt.Sprint(raw))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, Invalid(key, "invalid numeric value for %s", key)
	}
	return int(math.Trunc(f)), false, nil
}
