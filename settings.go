package treerender

import "sync/atomic"

// Process-wide rendering policies. Tree renders snapshot them at
// construction, so flipping a setting never changes a render mid-flight.

var (
	nanHandling     atomic.Bool
	tfConcatenation atomic.Bool
)

func init() {
	nanHandling.Store(true)
	tfConcatenation.Store(true)
}

// SetNaNHandlingEnabled controls whether effects should scrub NaN pixel
// values from their outputs. Enabled by default.
func SetNaNHandlingEnabled(enabled bool) { nanHandling.Store(enabled) }

// NaNHandlingEnabled reports the current NaN handling policy.
func NaNHandlingEnabled() bool { return nanHandling.Load() }

// SetConcatenationEnabled controls whether chains of transform effects
// may concatenate their matrices into a single resampling pass. Enabled
// by default.
func SetConcatenationEnabled(enabled bool) { tfConcatenation.Store(enabled) }

// ConcatenationEnabled reports the current transform concatenation
// policy.
func ConcatenationEnabled() bool { return tfConcatenation.Load() }
