package outcomes

import (
	"math"
	"time"
)

// delayBasedOnTransport implements the DelayBasedOnTransport curve (spec
// §4.2). The exact shape is explicitly left open by the source; this one
// is chosen to satisfy the three required properties — monotone
// non-decreasing in failureCount, bounded by MaxDelay, zero for stale
// history — and is documented as the Open Question resolution in
// DESIGN.md.
//
// Shape: a zero failureCount (the last recorded outcome was a success)
// gives no delay. Otherwise the base cooldown grows as
// cooldown_growth_factor^failureCount seconds. If the last attempt was
// more recent than that base cooldown would suggest is safe,
// count_growth_factor is applied as an additional multiplier — this is
// what lets a flurry of very-recent failures escalate faster than the
// base curve alone.
func delayBasedOnTransport(params Params, sinceLastAttempt time.Duration, failureCount uint32) time.Duration {
	if params.AgeCutoff > 0 && sinceLastAttempt >= params.AgeCutoff {
		return 0
	}
	if failureCount == 0 {
		return 0
	}

	capped := failureCount
	if capped > params.MaxCount {
		capped = params.MaxCount
	}

	base := time.Duration(math.Pow(params.CooldownGrowthFactor, float64(capped)) * float64(time.Second))

	if sinceLastAttempt < base {
		scaled := math.Pow(params.CooldownGrowthFactor, float64(capped)) * math.Pow(params.CountGrowthFactor, float64(capped)) * float64(time.Second)
		base = time.Duration(scaled)
	}

	if params.MaxDelay > 0 && base > params.MaxDelay {
		base = params.MaxDelay
	}
	return base
}
