// Package normalize turns parsed spreadsheet rows into validated town records.
package normalize

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/townmap/internal/model"
)

// SkipReason explains why a data row produced no record.
type SkipReason string

const (
	SkipMissingName      SkipReason = "missing_name"
	SkipMissingLatitude  SkipReason = "missing_latitude"
	SkipMissingLongitude SkipReason = "missing_longitude"
	SkipBadLatitude      SkipReason = "bad_latitude"
	SkipBadLongitude     SkipReason = "bad_longitude"
	SkipPanic            SkipReason = "panic"
)

// RowSkip describes one dropped row. Row is the 0-based index into the
// parsed input, header included.
type RowSkip struct {
	Row    int        `json:"row"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// Batch is the outcome of normalizing one export.
type Batch struct {
	Records  []model.TownRecord `json:"records"`
	Accepted int                `json:"accepted"`
	Skipped  int                `json:"skipped"`
	Skips    []RowSkip          `json:"skips,omitempty"`
}

// Normalizer converts rows into TownRecords using a fixed column layout.
type Normalizer struct {
	cols Columns
}

// New creates a Normalizer for the given column layout.
func New(cols Columns) *Normalizer {
	return &Normalizer{cols: cols}
}

// Normalize converts rows into records. Row 0 is the header and is skipped.
// A bad row is dropped and counted; it never stops the batch.
func (n *Normalizer) Normalize(rows [][]string) Batch {
	log := zap.L().With(zap.String("component", "normalize"))

	var b Batch
	for i := 1; i < len(rows); i++ {
		rec, skip := n.row(i, rows[i])
		if skip != nil {
			b.Skipped++
			b.Skips = append(b.Skips, *skip)
			log.Debug("row skipped",
				zap.Int("row", skip.Row),
				zap.String("reason", string(skip.Reason)),
				zap.String("detail", skip.Detail),
			)
			continue
		}
		b.Records = append(b.Records, rec)
		b.Accepted++
	}
	return b
}

// row normalizes a single data row, converting a panic into a skip.
func (n *Normalizer) row(idx int, row []string) (rec model.TownRecord, skip *RowSkip) {
	defer func() {
		if r := recover(); r != nil {
			rec = model.TownRecord{}
			skip = &RowSkip{Row: idx, Reason: SkipPanic, Detail: fmt.Sprint(r)}
		}
	}()

	rec, reason, err := n.Record(row)
	if reason != "" {
		s := &RowSkip{Row: idx, Reason: reason}
		if err != nil {
			s.Detail = err.Error()
		}
		return model.TownRecord{}, s
	}
	return rec, nil
}

// Record builds one TownRecord from a data row, applying defaults. A
// non-empty SkipReason means the row must be dropped.
func (n *Normalizer) Record(row []string) (model.TownRecord, SkipReason, error) {
	c := n.cols

	name := townName(field(row, c.Name))
	latStr := field(row, c.Latitude)
	lonStr := field(row, c.Longitude)

	switch {
	case name == "":
		return model.TownRecord{}, SkipMissingName, nil
	case latStr == "":
		return model.TownRecord{}, SkipMissingLatitude, nil
	case lonStr == "":
		return model.TownRecord{}, SkipMissingLongitude, nil
	}

	lat, err := parseCoordinate(latStr)
	if err != nil {
		return model.TownRecord{}, SkipBadLatitude, err
	}
	lon, err := parseCoordinate(lonStr)
	if err != nil {
		return model.TownRecord{}, SkipBadLongitude, err
	}

	return model.TownRecord{
		Name:                    name,
		Latitude:                lat,
		Longitude:               lon,
		SecurityAdvisoryLocal:   orDefault(field(row, c.SecurityAdvisoryLocal), model.DefaultAdvisoryLocal),
		SecurityAdvisoryForeign: orDefault(field(row, c.SecurityAdvisoryForeign), model.DefaultAdvisoryForeign),
		DistanceLabel:           orDefault(field(row, c.DistanceLabel), model.DefaultDistanceLabel),
		RouteURL:                orDefault(field(row, c.RouteURL), model.NoURL),
		TourismURL:              orDefault(field(row, c.TourismURL), model.NoURL),
	}, "", nil
}
