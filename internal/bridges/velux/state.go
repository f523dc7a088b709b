package velux

// CoverState is the Home Assistant state label for a cover.
type CoverState string

const (
	StateOpen    CoverState = "open"
	StateClosed  CoverState = "closed"
	StateOpening CoverState = "opening"
	StateClosing CoverState = "closing"
)

// MappedState is the result of mapping one telemetry sample.
type MappedState struct {
	State    CoverState
	Position int
	Target   int

	// PositionCorrected and TargetCorrected flag inputs that were out of
	// range and substituted before mapping. Callers log a warning.
	PositionCorrected bool
	TargetCorrected   bool
}

// MapState derives the cover state from a position/target pair, both in
// percent with 0 = fully retracted and 100 = fully extended. An inverted
// cover (awnings, where extended means open) swaps the closed endpoint
// and the direction labels.
//
// Out-of-range inputs are never an error: a bad position becomes 0, a bad
// target becomes the corrected position (the actuator is assumed
// stationary). The result always carries exactly one of the four states.
func MapState(position, target int, inverted bool) MappedState {
	m := MappedState{Position: position, Target: target}
	if position < 0 || position > 100 {
		m.Position = 0
		m.PositionCorrected = true
	}
	if target < 0 || target > 100 {
		m.Target = m.Position
		m.TargetCorrected = true
	}

	switch {
	case m.Position == m.Target:
		closedAt := 100
		if inverted {
			closedAt = 0
		}
		if m.Position == closedAt {
			m.State = StateClosed
		} else {
			m.State = StateOpen
		}
	case m.Target < m.Position:
		if inverted {
			m.State = StateClosing
		} else {
			m.State = StateOpening
		}
	default: // m.Target > m.Position
		if inverted {
			m.State = StateOpening
		} else {
			m.State = StateClosing
		}
	}
	return m
}
