// Package reports stores user-submitted hazard reports.
//
// New reports enter as "submitted" and are only returned by queries once a
// moderator marks them "verified".
package reports

import (
	"context"
	"errors"
	"fmt"

	"github.com/azybler/safepath/pkg/geo"
)

// Report statuses.
const (
	StatusSubmitted = "submitted"
	StatusVerified  = "verified"
	StatusRejected  = "rejected"
)

// EarthRadiusMeters is the sphere radius used to convert a query radius
// into radians for spherical geo queries.
const EarthRadiusMeters = 6_378_137.0

var (
	// ErrInvalidReport is returned for a report with a missing or
	// out-of-range location.
	ErrInvalidReport = errors.New("invalid report")

	// ErrNotFound is returned when a report id is unknown.
	ErrNotFound = errors.New("report not found")
)

// Location is a WGS84 point.
type Location struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lon float64 `json:"lon" bson:"lon"`
}

// Report is one hazard report.
type Report struct {
	ID        string   `json:"_id" bson:"-"`
	Location  Location `json:"location" bson:"location"`
	Severity  *int     `json:"severity" bson:"severity"`
	Category  string   `json:"category" bson:"category"`
	Details   string   `json:"details" bson:"details"`
	Timestamp string   `json:"timestamp" bson:"timestamp"`
	Status    string   `json:"status" bson:"status"`
}

// Validate checks the location.
func (r *Report) Validate() error {
	if !geo.ValidLatLng(r.Location.Lat, r.Location.Lon) {
		return fmt.Errorf("%w: location (%v, %v)", ErrInvalidReport, r.Location.Lat, r.Location.Lon)
	}
	return nil
}

// Store persists reports.
type Store interface {
	// Insert stores r with status submitted and returns its id.
	Insert(ctx context.Context, r Report) (string, error)
	// Nearby returns verified reports within radiusMeters of (lat, lon).
	Nearby(ctx context.Context, lat, lon, radiusMeters float64) ([]Report, error)
	// AllVerified returns every verified report.
	AllVerified(ctx context.Context) ([]Report, error)
	// SetStatus changes the moderation status of a report.
	SetStatus(ctx context.Context, id, status string) error
	// Close releases backend resources.
	Close(ctx context.Context) error
}

func validStatus(s string) bool {
	return s == StatusSubmitted || s == StatusVerified || s == StatusRejected
}
