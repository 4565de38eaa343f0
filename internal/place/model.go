package place

import (
	"math"

	"github.com/lnesto74/hyperspace-sub000/internal/store"
)

// DomeFloorCoverageFactor scales a dome-mode sensor's range down to its
// usable floor-coverage radius. Overridable per model in the catalog.
const DomeFloorCoverageFactor = 0.9

// EffectiveRadius is the floor-plane coverage radius of a sensor at the given
// mount height. Dome sensors and full-sweep (360 degree HFOV) sensors cover a
// scaled disc; directional sensors are limited by how far their vertical field
// of view reaches the floor.
func EffectiveRadius(model *store.SensorModel, mountHeight float64) float64 {
	if model.DomeMode || model.HFOVDeg >= 360 {
		factor := DomeFloorCoverageFactor
		if model.FloorCoverageFactor != nil {
			factor = *model.FloorCoverageFactor
		}
		return factor * model.RangeM
	}
	halfVFOV := model.VFOVDeg * math.Pi / 360
	reach := mountHeight * math.Tan(halfVFOV)
	return math.Min(model.RangeM, reach)
}
