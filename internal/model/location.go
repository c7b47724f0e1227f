package model

import (
	"math"
	"strings"

	"github.com/twpayne/go-geom"
)

const earthRadiusMiles = 3958.8

// Location is a postal location with optional WGS84 coordinates.
type Location struct {
	City  string   `json:"city,omitempty"`
	State string   `json:"state,omitempty"`
	Zip   string   `json:"zip,omitempty"`
	Lat   *float64 `json:"lat,omitempty"`
	Lon   *float64 `json:"lon,omitempty"`
}

// IsZero reports whether the location carries no usable data.
func (l *Location) IsZero() bool {
	return l == nil || (l.State == "" && l.City == "" && l.Zip == "" && !l.HasCoordinates())
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Lat != nil && l.Lon != nil
}

// Point returns the location as an SRID 4326 point, or nil without coordinates.
func (l *Location) Point() *geom.Point {
	if !l.HasCoordinates() {
		return nil
	}
	return geom.NewPointFlat(geom.XY, []float64{*l.Lon, *l.Lat}).SetSRID(4326)
}

// SameState reports whether both locations name the same state.
func (l *Location) SameState(other *Location) bool {
	if l == nil || other == nil || l.State == "" {
		return false
	}
	return strings.EqualFold(l.State, other.State)
}

// DistanceMiles returns the great-circle distance between two locations.
// ok is false when either side lacks coordinates.
func DistanceMiles(a, b *Location) (miles float64, ok bool) {
	pa, pb := a.Point(), b.Point()
	if pa == nil || pb == nil {
		return 0, false
	}
	return haversine(pa.Y(), pa.X(), pb.Y(), pb.X()), true
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
}
