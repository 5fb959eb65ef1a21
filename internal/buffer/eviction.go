package buffer

import (
	"sort"

	"github.com/signalsfoundry/cgs-simulator/model"
)

// LowestPriorityFirst evicts unclaimed bundles of strictly lower priority than
// the incoming one, lowest priority first and soonest deadline first within a
// priority, until enough space is freed.
type LowestPriorityFirst struct{}

func (LowestPriorityFirst) SelectVictims(incoming model.Bundle, residents []Resident, need int64) []string {
	pool := make([]model.Bundle, 0, len(residents))
	for _, r := range residents {
		if !r.Claimed && r.Bundle.Priority > incoming.Priority {
			pool = append(pool, r.Bundle)
		}
	}
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.Deadline.Equal(b.Deadline) {
			return a.Deadline.Before(b.Deadline)
		}
		return a.ID < b.ID
	})

	var (
		victims []string
		freed   int64
	)
	for _, b := range pool {
		if freed >= need {
			break
		}
		victims = append(victims, b.ID)
		freed += b.Size
	}
	if freed < need {
		return nil
	}
	return victims
}

// NoEviction never evicts; a full buffer rejects every new bundle.
type NoEviction struct{}

func (NoEviction) SelectVictims(model.Bundle, []Resident, int64) []string { return nil }

// PolicyByName resolves a configured policy name. Unknown names return nil.
func PolicyByName(name string) EvictionPolicy {
	switch name {
	case "", "lowest-priority":
		return LowestPriorityFirst{}
	case "none":
		return NoEviction{}
	}
	return nil
}
