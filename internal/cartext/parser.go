package cartext

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/neorise/storefront/internal/car"
	"github.com/neorise/storefront/internal/clock/system"
)

const unknown = "Unknown"

// Parser converts description text into a car.Record.
type Parser struct {
	clock  car.Clock
	random io.Reader
}

// Option customizes a Parser.
type Option func(*Parser)

// WithClock sets the clock used for generated stock numbers.
func WithClock(clock car.Clock) Option {
	return func(p *Parser) { p.clock = clock }
}

// WithRandom sets the entropy source used for generated stock numbers.
func WithRandom(r io.Reader) Option {
	return func(p *Parser) { p.random = r }
}

// NewParser builds a Parser backed by the system clock and crypto/rand.
func NewParser(opts ...Option) *Parser {
	p := &Parser{clock: system.New(), random: rand.Reader}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse runs structured parsing, inference, defaulting and validation.
// It is all-or-nothing: the first missing or malformed field is reported.
func (p *Parser) Parse(text string) (car.Record, error) {
	fields := ParseFields(text)
	Infer(text, fields)
	if err := p.fillDefaults(fields); err != nil {
		return car.Record{}, err
	}

	if fields.Missing(car.ColTitle) {
		if fields.Missing(car.ColBrand) || fields.Missing(car.ColModel) {
			return car.Record{}, car.MissingField(car.ColTitle)
		}
		fields[car.ColTitle] = fields[car.ColBrand] + " " + fields[car.ColModel]
	}
	for _, field := range car.RequiredFields {
		if fields.Missing(field) {
			return car.Record{}, car.MissingField(field)
		}
	}

	numbers := make(map[string]int, len(car.NumericFields))
	for _, field := range car.NumericFields {
		n, err := ParseInteger(fields[field], field)
		if err != nil {
			return car.Record{}, err
		}
		numbers[field] = n
	}

	return car.Record{
		Brand:   fields[car.ColBrand],
		Model:   fields[car.ColModel],
		Title:   fields[car.ColTitle],
		Price:   numbers[car.ColPrice],
		Year:    numbers[car.ColYear],
		Mileage: numbers[car.ColMileage],
		Engine:  fields[car.ColEngine],
		Trans:   fields[car.ColTrans],
		Fuel:    fields[car.ColFuel],
		Status:  fields[car.ColStatus],
		StockNo: fields[car.ColStockNo],
	}, nil
}

func (p *Parser) fillDefaults(fields Fields) error {
	title := strings.TrimSpace(fields[car.ColTitle])
	tokens := strings.Fields(title)
	if fields.Missing(car.ColBrand) {
		fields[car.ColBrand] = unknown
		if len(tokens) > 0 {
			fields[car.ColBrand] = tokens[0]
		}
	}
	if fields.Missing(car.ColModel) {
		switch {
		case len(tokens) > 1:
			fields[car.ColModel] = strings.Join(tokens[1:min(3, len(tokens))], " ")
		case title != "":
			fields[car.ColModel] = title
		default:
			fields[car.ColModel] = unknown
		}
	}
	if fields.Missing(car.ColStatus) {
		fields[car.ColStatus] = car.StatusAvailable
	}
	if fields.Missing(car.ColStockNo) {
		stockNo, err := p.autoStockNo()
		if err != nil {
			return err
		}
		fields[car.ColStockNo] = stockNo
	}
	return nil
}

// autoStockNo returns AUTO-<yymmdd>-<4 upper hex>.
func (p *Parser) autoStockNo() (string, error) {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(p.random, buf); err != nil {
		return "", fmt.Errorf("generate stock number: %w", err)
	}
	return fmt.Sprintf("AUTO-%s-%s", p.clock.Now().UTC().Format("060102"), strings.ToUpper(hex.EncodeToString(buf))), nil
}
