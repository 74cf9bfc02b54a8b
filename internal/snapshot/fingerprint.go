package snapshot

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sells-group/townmap/internal/model"
)

// Fingerprint is a cheap digest of a snapshot, used only to tell whether
// two exports differ. Collisions are possible and only cause a missed
// update, never a false one.
type Fingerprint string

const (
	fieldSep  = '\x1f'
	recordSep = '\x1e'
)

// Compute fingerprints snap. The serialization sorts towns by name and
// writes fields in a fixed order, so map iteration order does not matter.
func Compute(snap model.Snapshot) Fingerprint {
	return Fingerprint(fmt.Sprintf("%08x", rollingHash(Canonical(snap))))
}

// HasChanged reports whether candidate differs from previous.
func HasChanged(candidate, previous Fingerprint) bool {
	return candidate != previous
}

// Canonical returns the stable serialization that Compute hashes.
func Canonical(snap model.Snapshot) string {
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		r := snap[name]
		for _, f := range []string{
			r.Name,
			strconv.FormatFloat(r.Latitude, 'g', -1, 64),
			strconv.FormatFloat(r.Longitude, 'g', -1, 64),
			r.SecurityAdvisoryLocal,
			r.SecurityAdvisoryForeign,
			r.DistanceLabel,
			r.RouteURL,
			r.TourismURL,
		} {
			sb.WriteString(f)
			sb.WriteByte(fieldSep)
		}
		sb.WriteByte(recordSep)
	}
	return sb.String()
}

// rollingHash is the 32-bit polynomial hash h = h*31 + b.
func rollingHash(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}
