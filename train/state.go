// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

import "math"

// Phase is the controller's position in its state machine.
type Phase int

const (
	PhaseTraining Phase = iota
	PhaseValidating
	PhaseCheckpointDecision
	PhaseEarlyStopped
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseTraining:
		return "training"
	case PhaseValidating:
		return "validating"
	case PhaseCheckpointDecision:
		return "checkpoint_decision"
	case PhaseEarlyStopped:
		return "early_stopped"
	case PhaseCompleted:
		return "completed"
	}
	return "unknown"
}

// Terminal reports whether no further batches will run.
func (p Phase) Terminal() bool { return p == PhaseEarlyStopped || p == PhaseCompleted }

// RunState is the mutable lifecycle of one run. It is owned by the
// Controller and persisted with every checkpoint.
type RunState struct {
	Epoch          int
	BatchInEpoch   int
	TotalBatch     int // batches processed so far, across epochs
	BestLoss       float64
	Checkpoints    []string
	StopIncreasing int
	EarlyStopped   bool
	Phase          Phase
	Anomalies      int // non-finite losses seen
}

// NewRunState returns the state of a fresh run.
func NewRunState() RunState {
	return RunState{BestLoss: math.Inf(1), Phase: PhaseTraining}
}

// Clone returns a deep copy.
func (s RunState) Clone() RunState {
	s.Checkpoints = append([]string(nil), s.Checkpoints...)
	return s
}
