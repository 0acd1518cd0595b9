package startup

import (
	"fmt"

	"github.com/core-tools/hsu-startup/pkg/errors"
)

// extraLoadOrderPasses bounds the resolver to len(queue)+extraLoadOrderPasses
// iterations. Deferring a unit costs one iteration, so a chain that cannot
// settle within the bound is treated as a cycle.
const extraLoadOrderPasses = 10

// LoadOrderInput is one unit as seen by the resolver, in host scan order
type LoadOrderInput struct {
	ID        string
	Class     StartupClass
	LoadAfter string
}

// LoadOrder is the dependency-respecting activation sequence
type LoadOrder struct {
	Order      []string `json:"order"`
	Iterations int      `json:"iterations"`
	Truncated  bool     `json:"truncated"`
	Unresolved []string `json:"unresolved,omitempty"`
}

// ComputeLoadOrder orders units so that each comes after its load-after
// parent. The queue is seeded with Instant, then ShortDelay, then LongDelay
// units; Disabled units are left out and never block a dependent. When the
// iteration bound is hit the still-queued units are appended in queue order
// and a CycleDetected error is returned alongside the complete order.
func ComputeLoadOrder(units []LoadOrderInput) (LoadOrder, error) {
	queue := make([]LoadOrderInput, 0, len(units))
	for _, class := range []StartupClass{ClassInstant, ClassShortDelay, ClassLongDelay} {
		for _, unit := range units {
			if unit.Class == class {
				queue = append(queue, unit)
			}
		}
	}

	inPass := make(map[string]bool, len(queue))
	for _, unit := range queue {
		inPass[unit.ID] = true
	}

	result := LoadOrder{Order: make([]string, 0, len(queue))}
	placed := make(map[string]bool, len(queue))
	bound := len(queue) + extraLoadOrderPasses

	for len(queue) > 0 {
		if result.Iterations >= bound {
			result.Truncated = true
			for _, unit := range queue {
				result.Unresolved = append(result.Unresolved, unit.ID)
				result.Order = append(result.Order, unit.ID)
			}
			return result, errors.NewCycleDetectedError(
				fmt.Sprintf("load order unresolved after %d iterations", result.Iterations), result.Unresolved)
		}
		result.Iterations++

		unit := queue[0]
		queue = queue[1:]

		// A unit naming itself has no parent to wait for
		parent := unit.LoadAfter
		if parent != "" && parent != unit.ID && inPass[parent] && !placed[parent] {
			queue = append(queue, unit)
			continue
		}

		placed[unit.ID] = true
		result.Order = append(result.Order, unit.ID)
	}

	return result, nil
}
