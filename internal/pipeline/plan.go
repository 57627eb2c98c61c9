package pipeline

import "github.com/Lllllllleong/granuleflow/internal/models"

// Plan is the ordered list of states a run will pass through.
type Plan struct {
	States []models.RunState
}

// Has reports whether the plan visits state.
func (p Plan) Has(state models.RunState) bool {
	for _, s := range p.States {
		if s == state {
			return true
		}
	}
	return false
}

// BuildPlan decides which stages an input needs. A Zarr input goes straight
// to rasterizing; a granule is staged before conversion.
func BuildPlan(in Input, concat bool) Plan {
	states := []models.RunState{models.StateClassifying}
	switch in.(type) {
	case GranuleInput:
		states = append(states, models.StateStaging, models.StateConverting)
	case NetCDFInput:
		states = append(states, models.StateConverting)
	}
	if concat && !isZarr(in) {
		states = append(states, models.StateConcatenating)
	}
	states = append(states, models.StateRasterizing, models.StateCataloging, models.StateDone)
	return Plan{States: states}
}

func isZarr(in Input) bool {
	_, ok := in.(ZarrInput)
	return ok
}
