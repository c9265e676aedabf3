// Package geo provides great-circle and local-plane geometry used by the
// map matcher, visibility filter and POI resolver.
package geo

import "math"

// EarthRadiusM is the mean Earth radius in meters (IUGG).
const EarthRadiusM = 6371008.8

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// HaversineM returns the great-circle distance between a and b in meters.
func HaversineM(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusM * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}

// BearingDeg returns the initial great-circle bearing from a to b in
// degrees, normalized to [0, 360).
func BearingDeg(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return NormalizeDeg(deg)
}

// NormalizeDeg maps an angle in degrees onto [0, 360).
func NormalizeDeg(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// AngularDiffDeg returns the smallest absolute difference between two
// headings in degrees, in [0, 180].
func AngularDiffDeg(a, b float64) float64 {
	d := math.Abs(NormalizeDeg(a) - NormalizeDeg(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// localXY projects p into a flat meter-denominated plane centered on origin
// using an equirectangular approximation. Accurate enough for the sub-100m
// distances the matcher works at.
func localXY(origin, p Point) (x, y float64) {
	x = (p.Lon - origin.Lon) * math.Pi / 180 * EarthRadiusM * math.Cos(origin.Lat*math.Pi/180)
	y = (p.Lat - origin.Lat) * math.Pi / 180 * EarthRadiusM
	return x, y
}

// PointToSegmentM returns the perpendicular distance in meters from p to the
// segment [a,b], the closest point on the segment, and the fractional
// position of that point along the segment in [0,1].
func PointToSegmentM(p, a, b Point) (distM float64, closest Point, t float64) {
	ax, ay := localXY(p, a)
	bx, by := localXY(p, b)

	dx, dy := bx-ax, by-ay
	segLenSq := dx*dx + dy*dy
	if segLenSq == 0 {
		return math.Hypot(ax, ay), a, 0
	}

	// p is the plane origin, so project (0,0)-a onto a-b.
	t = (-ax*dx - ay*dy) / segLenSq
	t = math.Max(0, math.Min(1, t))

	cx, cy := ax+t*dx, ay+t*dy
	closest = Point{
		Lat: a.Lat + t*(b.Lat-a.Lat),
		Lon: a.Lon + t*(b.Lon-a.Lon),
	}
	return math.Hypot(cx, cy), closest, t
}

// PointToPolylineM returns the minimum distance in meters from p to the
// polyline, the snapped point, the index of the nearest segment, and the
// fractional position within that segment. A polyline with fewer than two
// vertices degenerates to the distance to its single vertex, or +Inf when
// empty.
func PointToPolylineM(p Point, line []Point) (distM float64, snapped Point, seg int, t float64) {
	switch len(line) {
	case 0:
		return math.Inf(1), Point{}, -1, 0
	case 1:
		return HaversineM(p, line[0]), line[0], 0, 0
	}

	best := math.Inf(1)
	for i := 0; i < len(line)-1; i++ {
		d, c, ft := PointToSegmentM(p, line[i], line[i+1])
		if d < best {
			best, snapped, seg, t = d, c, i, ft
		}
	}
	return best, snapped, seg, t
}

// PolylineLengthM returns the cumulative great-circle length of line in meters.
func PolylineLengthM(line []Point) float64 {
	var total float64
	for i := 0; i < len(line)-1; i++ {
		total += HaversineM(line[i], line[i+1])
	}
	return total
}

// AlongPolylineM returns the distance in meters from the start of line to the
// point at segment index seg, fraction t.
func AlongPolylineM(line []Point, seg int, t float64) float64 {
	var total float64
	for i := 0; i < len(line)-1; i++ {
		d := HaversineM(line[i], line[i+1])
		if i == seg {
			return total + t*d
		}
		total += d
	}
	return total
}

// SegmentHeadingDeg returns the bearing of the polyline segment containing
// the snap position, used as the matched travel heading.
func SegmentHeadingDeg(line []Point, seg int) float64 {
	if len(line) < 2 {
		return 0
	}
	if seg < 0 {
		seg = 0
	}
	if seg > len(line)-2 {
		seg = len(line) - 2
	}
	return BearingDeg(line[seg], line[seg+1])
}
