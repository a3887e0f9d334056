package assessment

import (
	"math"
	"sort"

	"github.com/tamgam/diya/internal/model"
)

// tierShares is the target difficulty mix of an assessment: below and at
// the student's level carry 40% each, above carries 20%.
var tierShares = []struct {
	tier  model.DifficultyTier
	share float64
}{
	{model.TierBelow, 0.40},
	{model.TierAt, 0.40},
	{model.TierAbove, 0.20},
}

// Apportion distributes total items across the tiers by largest remainder,
// so the counts always sum to total exactly. Remainder ties resolve in
// below, at, above order, which keeps the result deterministic.
func Apportion(total int) map[model.DifficultyTier]int {
	counts := make(map[model.DifficultyTier]int, len(tierShares))
	type rem struct {
		tier model.DifficultyTier
		frac float64
		ord  int
	}
	var rems []rem
	assigned := 0
	for i, ts := range tierShares {
		quota := float64(total) * ts.share
		floor := int(math.Floor(quota))
		counts[ts.tier] = floor
		assigned += floor
		rems = append(rems, rem{tier: ts.tier, frac: quota - float64(floor), ord: i})
	}
	sort.SliceStable(rems, func(i, j int) bool {
		if rems[i].frac != rems[j].frac {
			return rems[i].frac > rems[j].frac
		}
		return rems[i].ord < rems[j].ord
	})
	for i := 0; i < total-assigned; i++ {
		counts[rems[i%len(rems)].tier]++
	}
	return counts
}
