// Package frame normalizes planner-space coordinates to the venue-local frame
// the edge runtime expects: origin at the ROI south-west corner at floor
// level, X-East, Y-Up, Z-North, meters. The applied offset is carried in the
// output so the inverse transform is recoverable off-line.
package frame

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

// mountBBoxPad widens the planned-mount bounding box when it stands in for a
// missing ROI, so sensors at the edge of the box keep usable margin.
const mountBBoxPad = 10.0

// Offset source labels, recorded so an operator can tell which rule produced
// the frame.
const (
	SourceROI       = "roi"
	SourceMountBBox = "mount_bbox"
	SourceLayout    = "layout_bounds"
	SourceVenue     = "venue_dimensions"
)

// Frame is a resolved venue-local coordinate frame.
type Frame struct {
	Offset r2.Vec // planner coords of the venue-local origin
	Width  float64
	Depth  float64
	Source string
	// ROI holds the translated polygon, nil when the venue has none.
	ROI []store.Vertex
}

// TransformedMount is a planned mount expressed in the venue-local frame.
// DwgX/DwgZ preserve the original planner position.
type TransformedMount struct {
	XM     float64 `json:"x_m"`
	YM     float64 `json:"y_m"`
	ZM     float64 `json:"z_m"`
	YawDeg float64 `json:"yaw_deg"`
	DwgX   float64 `json:"dwg_x"`
	DwgZ   float64 `json:"dwg_z"`
}

// Resolve computes the frame for a layout, falling back through offset
// sources in order: explicit ROI, planned-mount bounding box padded by
// mountBBoxPad, layout bounds, venue dimensions. The last never fails.
func Resolve(roi []store.Vertex, mounts []store.PlannedMount, venue *store.Venue, layoutMinX, layoutMinZ, layoutMaxX, layoutMaxZ float64, layoutOK bool) *Frame {
	if len(roi) >= 3 {
		minX, minZ, maxX, maxZ := polygonBounds(roi)
		f := &Frame{
			Offset: r2.Vec{X: minX, Y: minZ},
			Width:  maxX - minX,
			Depth:  maxZ - minZ,
			Source: SourceROI,
		}
		f.ROI = TranslateVertices(roi, f.Offset)
		return f
	}

	if len(mounts) > 0 {
		minX, minZ := mounts[0].X, mounts[0].Z
		maxX, maxZ := minX, minZ
		for _, m := range mounts[1:] {
			minX = math.Min(minX, m.X)
			minZ = math.Min(minZ, m.Z)
			maxX = math.Max(maxX, m.X)
			maxZ = math.Max(maxZ, m.Z)
		}
		return &Frame{
			Offset: r2.Vec{X: minX - mountBBoxPad, Y: minZ - mountBBoxPad},
			Width:  (maxX - minX) + 2*mountBBoxPad,
			Depth:  (maxZ - minZ) + 2*mountBBoxPad,
			Source: SourceMountBBox,
		}
	}

	if layoutOK {
		return &Frame{
			Offset: r2.Vec{X: layoutMinX, Y: layoutMinZ},
			Width:  layoutMaxX - layoutMinX,
			Depth:  layoutMaxZ - layoutMinZ,
			Source: SourceLayout,
		}
	}

	return &Frame{
		Offset: r2.Vec{},
		Width:  venue.WidthM,
		Depth:  venue.DepthM,
		Source: SourceVenue,
	}
}

// TransformMount maps one planned mount into the frame. Height comes from the
// mount's configured mounting height, not its planner y. No rounding: values
// go to the wire at full double precision.
func (f *Frame) TransformMount(m *store.PlannedMount) TransformedMount {
	local := r2.Sub(r2.Vec{X: m.X, Y: m.Z}, f.Offset)
	return TransformedMount{
		XM:     local.X,
		YM:     m.MountHeightM,
		ZM:     local.Y,
		YawDeg: m.YawRad * 180 / math.Pi,
		DwgX:   m.X,
		DwgZ:   m.Z,
	}
}

// Invert recovers the planner position from a transformed mount using the
// frame's recorded offset.
func (f *Frame) Invert(t TransformedMount) (x, z float64) {
	p := r2.Add(r2.Vec{X: t.XM, Y: t.ZM}, f.Offset)
	return p.X, p.Y
}

// TranslateVertices applies the offset vertex-wise.
func TranslateVertices(vertices []store.Vertex, offset r2.Vec) []store.Vertex {
	out := make([]store.Vertex, len(vertices))
	for i, v := range vertices {
		out[i] = store.Vertex{X: v.X - offset.X, Z: v.Z - offset.Y}
	}
	return out
}

func polygonBounds(vertices []store.Vertex) (minX, minZ, maxX, maxZ float64) {
	minX, minZ = vertices[0].X, vertices[0].Z
	maxX, maxZ = minX, minZ
	for _, v := range vertices[1:] {
		minX = math.Min(minX, v.X)
		minZ = math.Min(minZ, v.Z)
		maxX = math.Max(maxX, v.X)
		maxZ = math.Max(maxZ, v.Z)
	}
	return minX, minZ, maxX, maxZ
}
