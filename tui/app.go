package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bassamadnan/delivnotify/pipeline"
)

// Run shows the review screen until the user quits or ctx is done.
func Run(ctx context.Context, candidates []pipeline.Candidate, deliver DeliverFunc) error {
	p := tea.NewProgram(
		NewModel(ctx, candidates, deliver),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running review screen: %w", err)
	}
	return nil
}
