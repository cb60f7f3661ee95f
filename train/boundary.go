// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package train

// Markers are the token ids that close a keyphrase: the separator between
// keyphrases and the end-of-sequence marker.
type Markers struct {
	Sep int
	EOS int
}

// Is reports whether tok is a boundary marker.
func (m Markers) Is(tok int) bool { return tok == m.Sep || tok == m.EOS }

// Alignment selects which decoder step is paired with a boundary.
type Alignment int

const (
	// AtBoundary uses the step holding the marker itself.
	AtBoundary Alignment = iota
	// AfterBoundary uses the step right after the marker.
	AfterBoundary
)

func (a Alignment) String() string {
	if a == AfterBoundary {
		return "post"
	}
	return "sep"
}

// ParseAlignment maps "sep" and "post" to an Alignment.
func ParseAlignment(s string) (Alignment, bool) {
	switch s {
	case "sep":
		return AtBoundary, true
	case "post":
		return AfterBoundary, true
	}
	return AtBoundary, false
}

// BoundaryPositions returns the positions of tokens that are markers, in
// order. A boundary on the final position is valid; no boundary yields nil.
func BoundaryPositions(tokens []int, m Markers) []int {
	var out []int
	for i, tok := range tokens {
		if m.Is(tok) {
			out = append(out, i)
		}
	}
	return out
}

// AlignedPositions maps the boundaries of tokens to decoder steps. With
// AfterBoundary, steps that fall past the row or onto padding are dropped.
func AlignedPositions(tokens []int, m Markers, align Alignment, padID int) []int {
	bounds := BoundaryPositions(tokens, m)
	if align == AtBoundary {
		return bounds
	}
	var out []int
	for _, p := range bounds {
		if p+1 < len(tokens) && tokens[p+1] != padID {
			out = append(out, p+1)
		}
	}
	return out
}
