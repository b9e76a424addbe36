package session

import "github.com/stemsi/exstem-proctor/internal/model"

const DefaultMaxExits = 5

// ExitOutcome says what a reported fullscreen exit did to the monitor.
type ExitOutcome int

const (
	ExitIgnored ExitOutcome = iota
	ExitWarning
	ExitFinal
)

// IntegrityMonitor counts fullscreen exits. Reaching the maximum moves it to
// exited_final, after which the owner must auto-submit.
type IntegrityMonitor struct {
	state model.IntegrityState
	exits int
	max   int
}

func NewIntegrityMonitor(maxExits int) *IntegrityMonitor {
	if maxExits <= 0 {
		maxExits = DefaultMaxExits
	}
	return &IntegrityMonitor{state: model.IntegrityFullscreen, max: maxExits}
}

// ReportExit records one exit. Exits after the final one or after submission
// are ignored.
func (m *IntegrityMonitor) ReportExit() ExitOutcome {
	switch m.state {
	case model.IntegrityExitedFinal, model.IntegritySubmitted:
		return ExitIgnored
	}
	m.exits++
	if m.exits >= m.max {
		m.state = model.IntegrityExitedFinal
		return ExitFinal
	}
	m.state = model.IntegrityExitedWarning
	return ExitWarning
}

// Reenter returns to fullscreen from a warning. It reports whether the state
// changed.
func (m *IntegrityMonitor) Reenter() bool {
	if m.state != model.IntegrityExitedWarning {
		return false
	}
	m.state = model.IntegrityFullscreen
	return true
}

func (m *IntegrityMonitor) MarkSubmitted() {
	m.state = model.IntegritySubmitted
}

func (m *IntegrityMonitor) Exits() int { return m.exits }

func (m *IntegrityMonitor) Snapshot() model.IntegritySnapshot {
	return model.IntegritySnapshot{
		State:          m.state,
		ExitAttempts:   m.exits,
		MaxAttempts:    m.max,
		Fullscreen:     m.state == model.IntegrityFullscreen,
		WarningVisible: m.state == model.IntegrityExitedWarning || m.state == model.IntegrityExitedFinal,
	}
}
