package car

import (
	"sort"
	"strings"
	"time"
)

// Column names shared by the cars, car_images and ingest task tables.
const (
	ColID        = "id"
	ColCarID     = "car_id"
	ColUUID      = "uuid"
	ColBrand     = "brand"
	ColModel     = "model"
	ColTitle     = "title"
	ColPrice     = "price"
	ColYear      = "year"
	ColMileage   = "mileage"
	ColEngine    = "engine"
	ColTrans     = "trans"
	ColFuel      = "fuel"
	ColStatus    = "status"
	ColStockNo   = "stock_no"
	ColSpecs     = "specs_json"
	ColCreatedAt = "created_at"

	ColImageURL  = "image_url"
	ColSortOrder = "sort_order"

	ColRetryCount   = "retry_count"
	ColErrorMessage = "error_message"
)

// RequiredFields lists the canonical fields every record must carry, in check order.
var RequiredFields = []string{
	ColTitle, ColPrice, ColYear, ColMileage, ColEngine, ColTrans, ColFuel, ColStatus, ColStockNo,
}

// NumericFields are coerced to integers after validation.
var NumericFields = []string{ColPrice, ColYear, ColMileage}

// Car statuses written by the admin surface.
const (
	StatusAvailable = "available"
	StatusActive    = "active"
	StatusHidden    = "hidden"
	StatusSold      = "sold"
)

// Record is a validated car description ready to be persisted.
type Record struct {
	Brand   string `json:"brand"`
	Model   string `json:"model"`
	Title   string `json:"title"`
	Price   int    `json:"price"`
	Year    int    `json:"year"`
	Mileage int    `json:"mileage"`
	Engine  string `json:"engine"`
	Trans   string `json:"trans"`
	Fuel    string `json:"fuel"`
	Status  string `json:"status"`
	StockNo string `json:"stock_no"`
}

// Row converts the record into an insert payload.
func (r Record) Row() Row {
	return Row{
		ColBrand:   r.Brand,
		ColModel:   r.Model,
		ColTitle:   r.Title,
		ColPrice:   r.Price,
		ColYear:    r.Year,
		ColMileage: r.Mileage,
		ColEngine:  r.Engine,
		ColTrans:   r.Trans,
		ColFuel:    r.Fuel,
		ColStatus:  r.Status,
		ColStockNo: r.StockNo,
	}
}

// Specs holds free-form extended attributes (steering, battery, dimensions...).
type Specs map[string]string

// Lookup finds a spec value ignoring key case.
func (s Specs) Lookup(key string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(key))
	for k, v := range s {
		if strings.ToLower(k) == want {
			return v, true
		}
	}
	return "", false
}

// Keys returns the parameter names sorted for stable display.
func (s Specs) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StoredCar is a car row as read back from the table store.
type StoredCar struct {
	ID string `json:"id"`
	Record
	Specs     Specs     `json:"specs_json,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StoredCarFromRow extracts a StoredCar from a loose row.
// The identifier may live in id, car_id or uuid depending on the schema.
func StoredCarFromRow(row Row) StoredCar {
	c := StoredCar{
		ID: row.String(ColID, ColCarID, ColUUID),
		Record: Record{
			Brand:   row.String(ColBrand),
			Model:   row.String(ColModel),
			Title:   row.String(ColTitle),
			Price:   row.IntOr(0, ColPrice),
			Year:    row.IntOr(0, ColYear),
			Mileage: row.IntOr(0, ColMileage),
			Engine:  row.String(ColEngine),
			Trans:   row.String(ColTrans),
			Fuel:    row.String(ColFuel),
			Status:  row.String(ColStatus),
			StockNo: row.String(ColStockNo),
		},
	}
	if specs := row.StringMap(ColSpecs, "specs"); len(specs) > 0 {
		c.Specs = Specs(specs)
	}
	if ts, ok := row.Time(ColCreatedAt); ok {
		c.CreatedAt = ts
	}
	return c
}

// Image links a car to one ordered image URL.
type Image struct {
	CarID     string `json:"car_id"`
	URL       string `json:"image_url"`
	SortOrder int    `json:"sort_order"`
}

// Row converts the image into an insert payload.
func (i Image) Row() Row {
	return Row{ColCarID: i.CarID, ColImageURL: i.URL, ColSortOrder: i.SortOrder}
}

// ImageFromRow extracts an Image from a loose row.
func ImageFromRow(row Row) Image {
	return Image{
		CarID:     row.String(ColCarID),
		URL:       row.String(ColImageURL),
		SortOrder: row.IntOr(0, ColSortOrder),
	}
}

// TaskStatus mirrors the ingest task status column.
type TaskStatus string

// Ingest task statuses.
const (
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
)

// Task models one ingestion attempt in the task ledger.
type Task struct {
	ID           string     `json:"id"`
	Status       TaskStatus `json:"status"`
	RetryCount   int        `json:"retry_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CarID        string     `json:"car_id,omitempty"`
	StockNo      string     `json:"stock_no,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TaskFromRow extracts a Task from a loose row.
func TaskFromRow(row Row) Task {
	t := Task{
		ID:           row.String(ColID),
		Status:       TaskStatus(row.String(ColStatus)),
		RetryCount:   row.IntOr(0, ColRetryCount),
		ErrorMessage: row.String(ColErrorMessage),
		CarID:        row.String(ColCarID),
		StockNo:      row.String(ColStockNo),
	}
	if ts, ok := row.Time(ColCreatedAt); ok {
		t.CreatedAt = ts
	}
	return t
}

// ChangeKind labels a ChangeEvent.
type ChangeKind string

// Change kinds published after successful admin writes.
const (
	ChangeIngested      ChangeKind = "car.ingested"
	ChangeUpdated       ChangeKind = "car.updated"
	ChangeHidden        ChangeKind = "car.hidden"
	ChangeImagesChanged ChangeKind = "car.images_changed"
)

// ChangeEvent is the payload published when a car changes.
type ChangeEvent struct {
	Kind    ChangeKind `json:"kind"`
	CarID   string     `json:"car_id"`
	StockNo string     `json:"stock_no,omitempty"`
	At      time.Time  `json:"at"`
}

// EventKind exposes the kind as a message attribute.
func (e ChangeEvent) EventKind() string { return string(e.Kind) }
