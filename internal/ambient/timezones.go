package ambient

import (
	"math"
	"time"

	"github.com/geotruth/engine/internal/geo"
)

// tzBand maps a UTC offset in hours to a representative IANA zone. One
// entry per whole-hour offset; solar time picks the band, so this is an
// estimate and the facts carry it at low confidence. North-American bands
// also consult latitude so the continental zones win over Pacific islands.
var tzBands = map[int]string{
	-11: "Pacific/Niue",
	-10: "Pacific/Honolulu",
	-9:  "America/Anchorage",
	-8:  "America/Los_Angeles",
	-7:  "America/Denver",
	-6:  "America/Chicago",
	-5:  "America/New_York",
	-4:  "America/Barbados",
	-3:  "America/Sao_Paulo",
	-2:  "Atlantic/South_Georgia",
	-1:  "Atlantic/Cape_Verde",
	0:   "UTC",
	1:   "Europe/Berlin",
	2:   "Africa/Johannesburg",
	3:   "Africa/Nairobi",
	4:   "Asia/Dubai",
	5:   "Asia/Karachi",
	6:   "Asia/Dhaka",
	7:   "Asia/Bangkok",
	8:   "Asia/Singapore",
	9:   "Asia/Seoul",
	10:  "Australia/Brisbane",
	11:  "Pacific/Bougainville",
	12:  "Pacific/Fiji",
}

// EstimateTimezone returns an IANA zone name for p based on its solar
// offset, or "" when no band is known.
func EstimateTimezone(p geo.Point) string {
	offset := int(math.Round(p.Lon / 15))
	if offset < -11 {
		offset = -11
	}
	if offset > 12 {
		offset = 12
	}
	return tzBands[offset]
}

// ValidTimezone reports whether tz loads from the system tz database.
func ValidTimezone(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}
