package catalog

// seedListings is the built-in demo inventory served for non-UUID ids and
// when the table store is unreachable.
var seedListings = []Listing{
	{
		ID: "NR-1001", Title: "Toyota Corolla 1.8 Hybrid", Price: 12800, Currency: "USD",
		Year: 2021, Mileage: 42300, Fuel: FuelHybrid, Transmission: TransAutomatic, Status: StatusActive,
		Location: "Tianjin, China", VideoURL: "https://www.youtube.com/embed/dQw4w9WgXcQ",
		Images: []string{"/globe.svg", "/window.svg", "/file.svg"},
		Specs:  map[string]string{"Engine": "1.8L Hybrid", "Drive": "FWD", "Color": "Pearl White", "Doors": "4"},
	},
	{
		ID: "NR-1002", Title: "Nissan X-Trail 2.0", Price: 15300, Currency: "USD",
		Year: 2020, Mileage: 55100, Fuel: FuelPetrol, Transmission: TransAutomatic, Status: StatusActive,
		Location: "Shanghai, China", VideoURL: "https://player.vimeo.com/video/76979871",
		Images: []string{"/window.svg", "/next.svg", "/globe.svg"},
		Specs:  map[string]string{"Engine": "2.0L", "Drive": "AWD", "Color": "Black", "Doors": "5"},
	},
	{
		ID: "NR-1003", Title: "BYD Qin Plus EV", Price: 17200, Currency: "USD",
		Year: 2022, Mileage: 21800, Fuel: FuelEV, Transmission: TransAutomatic, Status: StatusActive,
		Location: "Guangzhou, China", VideoURL: "https://www.youtube.com/embed/aqz-KE-bpKQ",
		Images: []string{"/next.svg", "/globe.svg", "/file.svg"},
		Specs:  map[string]string{"Battery": "57 kWh", "Range": "500 km", "Color": "Silver", "Seats": "5"},
	},
	{
		ID: "NR-1004", Title: "Mazda 3 1.5 Skyactiv", Price: 9900, Currency: "USD",
		Year: 2019, Mileage: 67800, Fuel: FuelPetrol, Transmission: TransManual, Status: StatusActive,
		Location: "Ningbo, China",
		Images:   []string{"/file.svg", "/window.svg", "/next.svg"},
		Specs:    map[string]string{"Engine": "1.5L", "Drive": "FWD", "Color": "Red", "Doors": "4"},
	},
	{
		ID: "NR-1005", Title: "Isuzu D-Max 3.0 Diesel", Price: 18600, Currency: "USD",
		Year: 2021, Mileage: 60300, Fuel: FuelDiesel, Transmission: TransManual, Status: StatusActive,
		Location: "Qingdao, China",
		Images:   []string{"/globe.svg", "/file.svg", "/window.svg"},
		Specs:    map[string]string{"Engine": "3.0L Turbo Diesel", "Drive": "4WD", "Color": "Gray", "Seats": "5"},
	},
}

// SeedActive returns the active demo listings.
func SeedActive() []Listing {
	out := make([]Listing, 0, len(seedListings))
	for _, l := range seedListings {
		if l.Status == StatusActive {
			out = append(out, l)
		}
	}
	return out
}

// SeedByID finds a demo listing.
func SeedByID(id string) (Listing, bool) {
	for _, l := range seedListings {
		if l.ID == id {
			return l, true
		}
	}
	return Listing{}, false
}
