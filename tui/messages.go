package tui

import "time"

// deliveredMsg reports the outcome of delivering the candidate at index.
type deliveredMsg struct {
	index int
	err   error
}

// A message for timed status updates.
type statusTickMsg struct{ Time time.Time }

// Message to clear a temporary status message after a timeout.
type clearTempStatusMsg struct{}
