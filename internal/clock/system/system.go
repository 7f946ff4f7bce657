// Package system provides the wall clock used by the running storefront.
// Stock numbers and storage names are derived from it, so it always reports UTC.
package system

import (
	"time"

	"github.com/neorise/storefront/internal/car"
)

var _ car.Clock = Clock{}

// Clock reads time.Now in UTC.
type Clock struct{}

// New returns the wall clock.
func New() Clock { return Clock{} }

// Now returns the current instant in UTC.
func (Clock) Now() time.Time { return time.Now().UTC() }
