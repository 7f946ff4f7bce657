package cartext

import (
	"regexp"
	"strings"

	"github.com/neorise/storefront/internal/car"
)

// inference tries patterns in order; the first submatch wins.
type inference struct {
	field    string
	patterns []*regexp.Regexp
	clean    func(string) string
}

// CJK synonyms are matched without \b: Go's word boundary is ASCII-only.
var inferences = []inference{
	{field: car.ColPrice, patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:price|价格)[^\d]*(\$?\s?[\d,]+)`),
		regexp.MustCompile(`(\$\s?[\d,]{3,})`),
		regexp.MustCompile(`(?i)\bUSD\s?([\d,]{3,})`),
	}},
	{field: car.ColYear, patterns: []*regexp.Regexp{
		regexp.MustCompile(`\b(19\d{2}|20\d{2}|21\d{2})\b`),
	}},
	{field: car.ColMileage, patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:mileage|里程)[^\d]*(\d[\d,]*)`),
		regexp.MustCompile(`(?i)(\d[\d,]*)\s?(?:km|mi|miles)\b`),
		regexp.MustCompile(`(\d[\d,]*)\s?公里`),
	}},
	{field: car.ColTrans, patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(automatic|manual|cvt)\b`),
		// Upper case only so prose like "priced at" is not read as a gearbox.
		regexp.MustCompile(`\b(AT|MT)\b`),
		regexp.MustCompile(`(自动|手动)`),
	}},
	{field: car.ColFuel, patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(gasoline|petrol|diesel|hybrid|electric|ev)\b`),
		regexp.MustCompile(`(汽油|柴油|混动|电动)`),
	}},
	{field: car.ColEngine, patterns: []*regexp.Regexp{
		regexp.MustCompile(`\b(\d\.\d\s?[Ll][A-Za-z0-9+-]*)`),
		regexp.MustCompile(`(?i)(?:engine|发动机)[:：]?\s*([^\s,，]+)`),
	}},
	{field: car.ColStatus, patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(available|active|published|sold|hidden)\b`),
		regexp.MustCompile(`(在售|下架|售出)`),
	}},
	{field: car.ColStockNo, patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b([A-Z]{1,4}-\d{3,8})\b`),
	}, clean: strings.ToUpper},
}

// Infer fills fields that are still missing by mining the prose in text.
// It returns the names of the fields it filled, in inference order.
func Infer(text string, fields Fields) []string {
	flat := strings.Join(strings.Fields(text), " ")
	var filled []string
	for _, inf := range inferences {
		if !fields.Missing(inf.field) {
			continue
		}
		for _, re := range inf.patterns {
			m := re.FindStringSubmatch(flat)
			if len(m) < 2 || strings.TrimSpace(m[1]) == "" {
				continue
			}
			value := strings.TrimSpace(m[1])
			if inf.clean != nil {
				value = inf.clean(value)
			}
			fields[inf.field] = value
			filled = append(filled, inf.field)
			break
		}
	}
	return filled
}
