package normalize

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Columns maps each TownRecord field to a fixed column index. Positions are
// static: the header row is never consulted.
type Columns struct {
	Name                    int `yaml:"name" mapstructure:"name"`
	Latitude                int `yaml:"latitude" mapstructure:"latitude"`
	Longitude               int `yaml:"longitude" mapstructure:"longitude"`
	SecurityAdvisoryLocal   int `yaml:"security_advisory_local" mapstructure:"security_advisory_local"`
	DistanceLabel           int `yaml:"distance_label" mapstructure:"distance_label"`
	RouteURL                int `yaml:"route_url" mapstructure:"route_url"`
	TourismURL              int `yaml:"tourism_url" mapstructure:"tourism_url"`
	SecurityAdvisoryForeign int `yaml:"security_advisory_foreign" mapstructure:"security_advisory_foreign"`
}

// DefaultColumns returns the export's column layout.
func DefaultColumns() Columns {
	return Columns{
		Name:                    0,
		Latitude:                1,
		Longitude:               2,
		SecurityAdvisoryLocal:   3,
		DistanceLabel:           4,
		RouteURL:                5,
		TourismURL:              6,
		SecurityAdvisoryForeign: 7,
	}
}

// Validate rejects negative indices.
func (c Columns) Validate() error {
	for name, idx := range map[string]int{
		"name":                      c.Name,
		"latitude":                  c.Latitude,
		"longitude":                 c.Longitude,
		"security_advisory_local":   c.SecurityAdvisoryLocal,
		"distance_label":            c.DistanceLabel,
		"route_url":                 c.RouteURL,
		"tourism_url":               c.TourismURL,
		"security_advisory_foreign": c.SecurityAdvisoryForeign,
	} {
		if idx < 0 {
			return eris.Errorf("normalize: column %s has negative index %d", name, idx)
		}
	}
	return nil
}

// LoadColumns reads a column layout from a YAML file. Fields missing from
// the file keep their default position.
func LoadColumns(path string) (Columns, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Columns{}, eris.Wrapf(err, "normalize: read columns %s", path)
	}

	// The YAML has a top-level "columns" key
	wrapper := struct {
		Columns Columns `yaml:"columns"`
	}{Columns: DefaultColumns()}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Columns{}, eris.Wrap(err, "normalize: parse columns")
	}

	if err := wrapper.Columns.Validate(); err != nil {
		return Columns{}, err
	}
	return wrapper.Columns, nil
}
