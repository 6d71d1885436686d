package overview

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/peterstace/simplefeatures/geom"
)

// UnionPolygons dissolves the polygons of all inputs into one MultiPolygon.
//
// The result is normalized so it does not depend on input order: shells are
// counter-clockwise, holes clockwise, each ring starts at its smallest point
// and members are sorted. Non-areal geometries are ignored. Inputs the overlay
// rejects, such as self-intersecting rings, leave the distinct input polygons
// unmerged.
func UnionPolygons(geoms []orb.Geometry) orb.Geometry {
	var polys []orb.Polygon
	for _, g := range geoms {
		polys = appendPolygons(polys, g)
	}
	if len(polys) == 0 {
		return nil
	}

	dissolved, err := dissolve(polys)
	if err != nil {
		return canonical(polys)
	}
	if len(dissolved) == 0 {
		return nil
	}
	return canonical(dissolved)
}

// dissolve runs a unary union over polys.
func dissolve(polys []orb.Polygon) ([]orb.Polygon, error) {
	members := make([]geom.Geometry, 0, len(polys))
	for _, p := range polys {
		b, err := wkb.Marshal(p)
		if err != nil {
			return nil, err
		}
		g, err := geom.UnmarshalWKB(b)
		if err != nil {
			return nil, err
		}
		members = append(members, g)
	}

	union, err := geom.UnaryUnion(geom.NewGeometryCollection(members).AsGeometry())
	if err != nil {
		return nil, err
	}
	out, err := wkb.Unmarshal(union.AsBinary())
	if err != nil {
		return nil, err
	}
	return appendPolygons(nil, out), nil
}

// canonical normalizes and sorts polys, dropping exact duplicates.
func canonical(polys []orb.Polygon) orb.MultiPolygon {
	normalized := make([]orb.Polygon, 0, len(polys))
	for _, p := range polys {
		normalized = append(normalized, normalizePolygon(p))
	}

	sort.Slice(normalized, func(i, j int) bool {
		return comparePolygons(normalized[i], normalized[j]) < 0
	})

	out := make(orb.MultiPolygon, 0, len(normalized))
	for i, p := range normalized {
		if i > 0 && comparePolygons(normalized[i-1], p) == 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}

func normalizePolygon(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, len(p))
	for i, r := range p {
		want := orb.CW
		if i == 0 {
			want = orb.CCW
		}
		out = append(out, normalizeRing(r, want))
	}
	if len(out) > 2 {
		holes := out[1:]
		sort.Slice(holes, func(i, j int) bool {
			return compareRings(holes[i], holes[j]) < 0
		})
	}
	return out
}

// normalizeRing returns a closed copy of r with the given orientation, starting at its smallest point.
func normalizeRing(r orb.Ring, want orb.Orientation) orb.Ring {
	pts := append(orb.Ring(nil), r...)
	if len(pts) > 1 && pts.Closed() {
		pts = pts[:len(pts)-1]
	}
	if len(pts) < 3 {
		return r.Clone()
	}
	if o := pts.Orientation(); o != 0 && o != want {
		pts.Reverse()
	}

	start := 0
	for i := range pts {
		if comparePoint(pts[i], pts[start]) < 0 {
			start = i
		}
	}

	out := make(orb.Ring, 0, len(pts)+1)
	out = append(out, pts[start:]...)
	out = append(out, pts[:start]...)
	return append(out, out[0])
}

func appendPolygons(dst []orb.Polygon, g orb.Geometry) []orb.Polygon {
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) > 0 {
			dst = append(dst, v)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			if len(p) > 0 {
				dst = append(dst, p)
			}
		}
	case orb.Bound:
		dst = append(dst, v.ToPolygon())
	case orb.Collection:
		for _, member := range v {
			dst = appendPolygons(dst, member)
		}
	}
	return dst
}

// comparePolygons is a total order over polygons: ring count, ring lengths, then coordinates.
func comparePolygons(a, b orb.Polygon) int {
	if len(a) != len(b) {
		return compareInt(len(a), len(b))
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return compareInt(len(a[i]), len(b[i]))
		}
	}
	for i := range a {
		if c := compareRings(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

func compareRings(a, b orb.Ring) int {
	if len(a) != len(b) {
		return compareInt(len(a), len(b))
	}
	for i := range a {
		if c := comparePoint(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

func comparePoint(a, b orb.Point) int {
	if a[0] != b[0] {
		if a[0] < b[0] {
			return -1
		}
		return 1
	}
	if a[1] != b[1] {
		if a[1] < b[1] {
			return -1
		}
		return 1
	}
	return 0
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
