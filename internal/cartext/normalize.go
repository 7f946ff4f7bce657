// Package cartext turns a free-text car description into a validated car.Record.
package cartext

import (
	"strconv"
	"strings"

	"github.com/neorise/storefront/internal/car"
)

const bom = "\uFEFF"

var keyAliases = map[string]string{
	"title": car.ColTitle, "标题": car.ColTitle, "车型标题": car.ColTitle,
	"price": car.ColPrice, "价格": car.ColPrice,
	"year": car.ColYear, "年份": car.ColYear,
	"mileage": car.ColMileage, "里程": car.ColMileage,
	"engine": car.ColEngine, "发动机": car.ColEngine,
	"trans": car.ColTrans, "transmission": car.ColTrans, "变速箱": car.ColTrans,
	"fuel": car.ColFuel, "fuel_type": car.ColFuel, "燃油": car.ColFuel,
	"status": car.ColStatus, "状态": car.ColStatus,
	"stock_no": car.ColStockNo, "stock": car.ColStockNo, "库存号": car.ColStockNo,
	"brand": car.ColBrand, "品牌": car.ColBrand,
	"model": car.ColModel, "型号": car.ColModel,
}

// Fields maps canonical (or unknown, lower-cased) keys to raw values.
type Fields map[string]string

// Missing reports whether key is absent or blank.
func (f Fields) Missing(key string) bool {
	return strings.TrimSpace(f[key]) == ""
}

// NormalizeKey lower-cases a raw key and maps known aliases to canonical names.
func NormalizeKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), bom)))
	if canonical, ok := keyAliases[key]; ok {
		return canonical
	}
	return key
}

// SplitLine parses one "key: value" line. ASCII and full-width colons both
// separate; blank lines, comments and lines without a separator are skipped.
func SplitLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(strings.TrimPrefix(line, bom))
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	idx := strings.IndexAny(line, ":：")
	if idx < 0 {
		return "", "", false
	}
	sepLen := len(":")
	if strings.HasPrefix(line[idx:], "：") {
		sepLen = len("：")
	}
	key = NormalizeKey(line[:idx])
	value = strings.TrimSpace(line[idx+sepLen:])
	if key == "" || value == "" {
		return "", "", false
	}
	return key, value, true
}

// ParseFields collects structured lines. Later lines override earlier ones.
func ParseFields(text string) Fields {
	fields := Fields{}
	for _, line := range strings.Split(text, "\n") {
		if key, value, ok := SplitLine(strings.TrimSuffix(line, "\r")); ok {
			fields[key] = value
		}
	}
	return fields
}

// ParseInteger keeps only digits and minus signs, then parses base 10.
// "$18,900" and "22,500 km" both coerce; text without digits is rejected.
func ParseInteger(raw, field string) (int, error) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" || digits == "-" {
		return 0, car.InvalidNumber(field, raw)
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, car.InvalidNumber(field, raw)
	}
	return n, nil
}
