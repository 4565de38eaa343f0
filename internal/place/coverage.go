package place

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

// Coverage summarizes a simulation over the ROI sample grid.
type Coverage struct {
	CoveragePct  float64 `json:"coveragePct"`
	KCoveragePct float64 `json:"kCoveragePct"`
	TotalCells   int     `json:"totalCells"`
	CoveredCells int     `json:"coveredCells"`
	// Cells holds every sampled cell with its covering-sensor count, for
	// debug rendering.
	Cells []CoverageCell `json:"-"`
}

// CoverageCell is one simulated floor cell.
type CoverageCell struct {
	X        float64
	Z        float64
	Sensors  int
	Obstacle bool
}

// Simulate runs the coverage model over the ROI at the sample spacing. A cell
// inside a fixture is never covered. A sensor covers a cell when the cell is
// within its effective radius, inside its horizontal field of view, and, with
// line of sight enabled, no obstacle interrupts the ray between them.
func Simulate(roi []store.Vertex, obstacles [][]store.Vertex, placements []Placement, model *store.SensorModel, settings *Settings) *Coverage {
	cov := &Coverage{}
	if len(roi) < 3 {
		return cov
	}
	radius := EffectiveRadius(model, settings.MountHeight)
	halfHFOV := model.HFOVDeg * math.Pi / 360
	omni := model.DomeMode || model.HFOVDeg >= 360

	minX, minZ, maxX, maxZ := roi[0].X, roi[0].Z, roi[0].X, roi[0].Z
	for _, v := range roi[1:] {
		minX = math.Min(minX, v.X)
		minZ = math.Min(minZ, v.Z)
		maxX = math.Max(maxX, v.X)
		maxZ = math.Max(maxZ, v.Z)
	}

	spacing := settings.SampleSpacing
	kRequired := settings.KRequired
	var covered, kCovered int
	for x := minX + spacing/2; x < maxX; x += spacing {
		for z := minZ + spacing/2; z < maxZ; z += spacing {
			cell := r2.Vec{X: x, Y: z}
			if !PointInPolygon(cell, roi) {
				continue
			}
			if insideAny(cell, obstacles) {
				cov.TotalCells++
				cov.Cells = append(cov.Cells, CoverageCell{X: x, Z: z, Obstacle: true})
				continue
			}

			seen := 0
			for _, p := range placements {
				sensor := r2.Vec{X: p.X, Y: p.Z}
				delta := r2.Sub(cell, sensor)
				if r2.Norm(delta) > radius {
					continue
				}
				if !omni {
					bearing := math.Atan2(delta.Y, delta.X)
					if angularDifference(bearing, p.YawRad) > halfHFOV {
						continue
					}
				}
				if settings.LOSEnabled && rayBlocked(sensor, cell, obstacles, settings.LOSCellSize) {
					continue
				}
				seen++
			}

			cov.TotalCells++
			cov.Cells = append(cov.Cells, CoverageCell{X: x, Z: z, Sensors: seen})
			if seen > 0 {
				covered++
			}
			if seen >= kRequired {
				kCovered++
			}
		}
	}

	if cov.TotalCells > 0 {
		cov.CoveredCells = covered
		cov.CoveragePct = 100 * float64(covered) / float64(cov.TotalCells)
		cov.KCoveragePct = 100 * float64(kCovered) / float64(cov.TotalCells)
	}
	return cov
}

func insideAny(p r2.Vec, polygons [][]store.Vertex) bool {
	for _, poly := range polygons {
		if PointInPolygon(p, poly) {
			return true
		}
	}
	return false
}

// rayBlocked marches from the sensor toward the cell at half-cell steps and
// reports whether any step lands inside an obstacle.
func rayBlocked(from, to r2.Vec, obstacles [][]store.Vertex, cellSize float64) bool {
	delta := r2.Sub(to, from)
	dist := r2.Norm(delta)
	if dist == 0 {
		return false
	}
	step := cellSize * 0.5
	steps := int(dist / step)
	for i := 1; i < steps; i++ {
		p := r2.Add(from, r2.Scale(float64(i)*step/dist, delta))
		if insideAny(p, obstacles) {
			return true
		}
	}
	return false
}
