// Package model holds the value types shared by the sync pipeline and its readers.
package model

// Default values applied to optional TownRecord fields.
const (
	DefaultAdvisoryLocal   = "Información no disponible"
	DefaultAdvisoryForeign = "Information not available"
	DefaultDistanceLabel   = "N/A"
	NoURL                  = "#"
)

// TownRecord is one validated row of tourism data.
type TownRecord struct {
	Name                    string  `json:"name" yaml:"name"`
	Latitude                float64 `json:"latitude" yaml:"latitude"`
	Longitude               float64 `json:"longitude" yaml:"longitude"`
	SecurityAdvisoryLocal   string  `json:"security_advisory_local" yaml:"security_advisory_local"`
	SecurityAdvisoryForeign string  `json:"security_advisory_foreign" yaml:"security_advisory_foreign"`
	DistanceLabel           string  `json:"distance_label" yaml:"distance_label"`
	RouteURL                string  `json:"route_url" yaml:"route_url"`
	TourismURL              string  `json:"tourism_url" yaml:"tourism_url"`
}

// HasRoute reports whether the record carries a real route link.
func (r TownRecord) HasRoute() bool {
	return r.RouteURL != "" && r.RouteURL != NoURL
}

// HasTourismSite reports whether the record carries a real tourism link.
func (r TownRecord) HasTourismSite() bool {
	return r.TourismURL != "" && r.TourismURL != NoURL
}

// Snapshot maps town name to its record. A Snapshot is never mutated after
// it has been published; a new one replaces it wholesale.
type Snapshot map[string]TownRecord

// NewSnapshot builds a Snapshot from records. Later records win on duplicate names.
func NewSnapshot(records []TownRecord) Snapshot {
	snap := make(Snapshot, len(records))
	for _, r := range records {
		snap[r.Name] = r
	}
	return snap
}

// Records returns the snapshot values in unspecified order.
func (s Snapshot) Records() []TownRecord {
	out := make([]TownRecord, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	return out
}
