// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

// EarlyStopPolicy decides after every validation whether training ends.
// It may update the counters on state.
type EarlyStopPolicy interface {
	Observe(state *RunState, improved bool) (stop bool)
}

// PatiencePolicy stops after Patience consecutive validations without a new
// best loss. Patience 0 never stops.
type PatiencePolicy struct {
	Patience int
}

// Observe resets the counter on improvement and increments it otherwise.
func (p PatiencePolicy) Observe(state *RunState, improved bool) bool {
	if improved {
		state.StopIncreasing = 0
	} else {
		state.StopIncreasing++
	}
	return p.Patience > 0 && state.StopIncreasing >= p.Patience
}
