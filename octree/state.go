package octree

import "fmt"

// State is the lifecycle state of a node.
type State uint8

const (
	// Empty holds no data and has no work in flight.
	Empty State = iota

	// Generating has a density request in flight.
	Generating

	// DensityReady holds a staged density grid awaiting extraction.
	DensityReady

	// Extracting has a surface request in flight.
	Extracting

	// Ready holds a committed grid and mesh.
	Ready

	// Subdividing is an internal node whose data is retained until its
	// children can be rendered.
	Subdividing

	// Merging is entered while a node's children are being collapsed.
	Merging

	// Stale holds data invalidated by an epoch bump; the old mesh stays
	// visible until regeneration completes.
	Stale

	// GenerationFailed exhausted its retries. Its area is rendered with
	// the nearest retained ancestor geometry.
	GenerationFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Empty:
		return "Empty"
	case Generating:
		return "Generating"
	case DensityReady:
		return "DensityReady"
	case Extracting:
		return "Extracting"
	case Ready:
		return "Ready"
	case Subdividing:
		return "Subdividing"
	case Merging:
		return "Merging"
	case Stale:
		return "Stale"
	case GenerationFailed:
		return "GenerationFailed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// InFlight reports whether the state implies outstanding work.
func (s State) InFlight() bool {
	return s == Generating || s == Extracting
}

// transitions lists the legal successor states.
var transitions = map[State][]State{
	Empty:            {Generating, Merging},
	Generating:       {DensityReady, Empty, Stale, GenerationFailed},
	DensityReady:     {Extracting, Empty, Stale},
	Extracting:       {Ready, DensityReady, Empty, Stale, GenerationFailed},
	Ready:            {Subdividing, Merging, Stale, Empty},
	Subdividing:      {Merging, Empty},
	Merging:          {Ready, Stale, Empty},
	Stale:            {Generating, Merging, Empty},
	GenerationFailed: {Generating, Empty, Stale, Merging},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
