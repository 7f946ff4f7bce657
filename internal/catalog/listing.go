package catalog

import (
	"strings"

	"github.com/neorise/storefront/internal/car"
)

// PlaceholderImage is shown for cars without any image.
const PlaceholderImage = "/placeholder-car.jpg"

// Display values of a Listing.
const (
	FuelPetrol = "Petrol"
	FuelDiesel = "Diesel"
	FuelHybrid = "Hybrid"
	FuelEV     = "EV"

	TransAutomatic = "Automatic"
	TransManual    = "Manual"

	StatusActive = "active"
	StatusHidden = "hidden"
	StatusSold   = "sold"
)

// Listing is a car as the public catalog shows it.
type Listing struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Price        int               `json:"price"`
	Currency     string            `json:"currency"`
	Year         int               `json:"year"`
	Mileage      int               `json:"mileage"`
	Fuel         string            `json:"fuel"`
	Transmission string            `json:"transmission"`
	Status       string            `json:"status"`
	Location     string            `json:"location"`
	VideoURL     string            `json:"video_url,omitempty"`
	Images       []string          `json:"images"`
	Specs        map[string]string `json:"specs"`
}

// ImageResolver turns a stored image reference into a browser-usable URL.
type ImageResolver struct {
	PublicBaseURL string
}

// Resolve returns absolute and root-relative URLs unchanged, prefixes bare
// object paths with the public base URL and maps blanks to the placeholder.
func (r ImageResolver) Resolve(raw string) string {
	value := strings.TrimSpace(raw)
	switch {
	case value == "":
		return PlaceholderImage
	case strings.HasPrefix(value, "http://"), strings.HasPrefix(value, "https://"), strings.HasPrefix(value, "/"):
		return value
	case r.PublicBaseURL == "":
		return value
	default:
		return strings.TrimRight(r.PublicBaseURL, "/") + "/" + strings.TrimLeft(value, "/")
	}
}

// normalize maps a loose cars row onto a Listing.
func normalize(row car.Row, resolver ImageResolver, defaultLocation string) Listing {
	l := Listing{
		ID:           row.String(car.ColID, car.ColCarID, car.ColUUID),
		Title:        row.String(car.ColTitle),
		Price:        row.IntOr(0, car.ColPrice),
		Currency:     "USD",
		Year:         row.IntOr(0, car.ColYear),
		Mileage:      row.IntOr(0, car.ColMileage, "mileage_km"),
		Fuel:         normalizeFuel(row.String(car.ColFuel, "fuel_type")),
		Transmission: normalizeTransmission(row.String("transmission", car.ColTrans)),
		Status:       normalizeStatus(row.String(car.ColStatus)),
		Location:     row.String("location", "country"),
		VideoURL:     row.String("video_url", "videoUrl"),
	}
	if l.ID == "" {
		l.ID = "unknown-id"
	}
	if l.Title == "" {
		parts := make([]string, 0, 2)
		for _, p := range []string{row.String(car.ColBrand), row.String(car.ColModel)} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		l.Title = strings.Join(parts, " ")
	}
	if l.Title == "" {
		l.Title = row.String("name")
	}
	if l.Title == "" {
		l.Title = "Untitled Car"
	}
	if l.Location == "" {
		l.Location = defaultLocation
	}

	for _, key := range []string{"images", "image_urls", "gallery_urls"} {
		for _, img := range stringSlice(row[key]) {
			l.Images = append(l.Images, resolver.Resolve(img))
		}
	}
	if len(l.Images) == 0 {
		if cover := row.String("cover_image_url", "cover_image", car.ColImageURL, "image"); cover != "" {
			l.Images = []string{resolver.Resolve(cover)}
		}
	}
	if len(l.Images) == 0 {
		l.Images = []string{PlaceholderImage}
	}

	l.Specs = row.StringMap("specs")
	if len(l.Specs) == 0 {
		l.Specs = row.StringMap(car.ColSpecs)
	}
	if l.Specs == nil {
		l.Specs = map[string]string{}
	}
	overlay := map[string]string{
		"Drive":  row.String("drive", "drive_type"),
		"Engine": row.String("engine_size", car.ColEngine),
		"Color":  row.String("exterior_color"),
	}
	for k, v := range overlay {
		if v != "" {
			l.Specs[k] = v
		}
	}
	if _, ok := l.Specs["Drive"]; !ok {
		l.Specs["Drive"] = "FWD"
	}
	return l
}

func normalizeFuel(raw string) string {
	switch strings.ToLower(raw) {
	case "diesel":
		return FuelDiesel
	case "hybrid":
		return FuelHybrid
	case "ev", "electric":
		return FuelEV
	default:
		return FuelPetrol
	}
}

func normalizeTransmission(raw string) string {
	if strings.EqualFold(raw, "manual") {
		return TransManual
	}
	return TransAutomatic
}

func normalizeStatus(raw string) string {
	switch strings.ToLower(raw) {
	case "hidden":
		return StatusHidden
	case "sold":
		return StatusSold
	default:
		return StatusActive
	}
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
