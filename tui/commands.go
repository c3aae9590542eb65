package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bassamadnan/delivnotify/pipeline"
)

// DeliverFunc sends one candidate and marks it read.
type DeliverFunc func(ctx context.Context, c pipeline.Candidate) error

// deliverCmd runs the delivery off the update loop and reports back with a
// deliveredMsg.
func deliverCmd(ctx context.Context, deliver DeliverFunc, index int, c pipeline.Candidate) tea.Cmd {
	return func() tea.Msg {
		return deliveredMsg{index: index, err: deliver(ctx, c)}
	}
}

// statusTickCmd creates a ticker for updating the status bar periodically.
func statusTickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return statusTickMsg{Time: t}
	})
}
