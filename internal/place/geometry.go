package place

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

// PointInPolygon is the even-odd ray-casting test. Points exactly on an edge
// may land on either side; the grid samplers never place candidates on ROI
// edges so the ambiguity is harmless.
func PointInPolygon(p r2.Vec, polygon []store.Vertex) bool {
	inside := false
	n := len(polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := polygon[i], polygon[j]
		if (vi.Z > p.Y) != (vj.Z > p.Y) &&
			p.X < (vj.X-vi.X)*(p.Y-vi.Z)/(vj.Z-vi.Z)+vi.X {
			inside = !inside
		}
	}
	return inside
}

// PolygonArea returns the absolute shoelace area.
func PolygonArea(polygon []store.Vertex) float64 {
	var sum float64
	n := len(polygon)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += polygon[i].X*polygon[j].Z - polygon[j].X*polygon[i].Z
	}
	return math.Abs(sum) / 2
}

// PolygonCentroid returns the area centroid, falling back to the vertex mean
// for degenerate (zero-area) polygons.
func PolygonCentroid(polygon []store.Vertex) r2.Vec {
	var cx, cz, area float64
	n := len(polygon)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		cross := polygon[i].X*polygon[j].Z - polygon[j].X*polygon[i].Z
		cx += (polygon[i].X + polygon[j].X) * cross
		cz += (polygon[i].Z + polygon[j].Z) * cross
		area += cross
	}
	if math.Abs(area) < 1e-12 {
		var mx, mz float64
		for _, v := range polygon {
			mx += v.X
			mz += v.Z
		}
		return r2.Vec{X: mx / float64(n), Y: mz / float64(n)}
	}
	area /= 2
	return r2.Vec{X: cx / (6 * area), Y: cz / (6 * area)}
}

// RotatedRectCorners derives the four corners of a rectangle from its center,
// dimensions, and rotation about Y.
func RotatedRectCorners(center r2.Vec, dimX, dimZ, rotationRad float64) []store.Vertex {
	hx, hz := dimX/2, dimZ/2
	cos, sin := math.Cos(rotationRad), math.Sin(rotationRad)
	local := [4][2]float64{{-hx, -hz}, {hx, -hz}, {hx, hz}, {-hx, hz}}
	corners := make([]store.Vertex, 4)
	for i, c := range local {
		corners[i] = store.Vertex{
			X: center.X + c[0]*cos - c[1]*sin,
			Z: center.Y + c[0]*sin + c[1]*cos,
		}
	}
	return corners
}

// distanceToSegment returns the distance from p to the segment ab.
func distanceToSegment(p, a, b r2.Vec) float64 {
	ab := r2.Sub(b, a)
	ap := r2.Sub(p, a)
	denom := ab.X*ab.X + ab.Y*ab.Y
	if denom == 0 {
		return r2.Norm(ap)
	}
	t := (ap.X*ab.X + ap.Y*ab.Y) / denom
	t = math.Max(0, math.Min(1, t))
	closest := r2.Add(a, r2.Scale(t, ab))
	return r2.Norm(r2.Sub(p, closest))
}

// DistanceToPolygon returns the minimum distance from p to the polygon
// boundary; zero when p is inside.
func DistanceToPolygon(p r2.Vec, polygon []store.Vertex) float64 {
	if PointInPolygon(p, polygon) {
		return 0
	}
	min := math.Inf(1)
	n := len(polygon)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		d := distanceToSegment(p,
			r2.Vec{X: polygon[i].X, Y: polygon[i].Z},
			r2.Vec{X: polygon[j].X, Y: polygon[j].Z})
		if d < min {
			min = d
		}
	}
	return min
}

// angularDifference returns the absolute difference between two headings,
// folded into [0, pi].
func angularDifference(a, b float64) float64 {
	d := math.Mod(a-b, 2*math.Pi)
	if d < -math.Pi {
		d += 2 * math.Pi
	}
	if d > math.Pi {
		d -= 2 * math.Pi
	}
	return math.Abs(d)
}
