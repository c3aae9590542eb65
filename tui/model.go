package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bassamadnan/delivnotify/pipeline"
)

type deliveryState int

const (
	statePending deliveryState = iota
	stateSending
	stateSent
	stateSentUnread
	stateFailed
)

const (
	listItemHeight      = 4
	minListPaneWidth    = 30
	minPreviewPaneWidth = 40
)

type item struct {
	candidate pipeline.Candidate
	state     deliveryState
	err       error
}

// Model is the review screen: candidates on the left, the rendered
// notification of the selected one on the right.
type Model struct {
	ctx     context.Context
	deliver DeliverFunc

	items            []item
	selectedIdx      int
	viewportTopLine  int
	previewScrollPos int

	width, height int
	statusBarText string
	statusIsError bool
	statusIsTemp  bool
}

func NewModel(ctx context.Context, candidates []pipeline.Candidate, deliver DeliverFunc) Model {
	items := make([]item, len(candidates))
	for i, c := range candidates {
		items[i] = item{candidate: c}
	}
	m := Model{ctx: ctx, deliver: deliver, items: items}
	m.setStandardStatus()
	return m
}

func (m Model) Init() tea.Cmd {
	return statusTickCmd(time.Second)
}

func (m Model) numItemsThatFit() int {
	h := m.height - 1 - lipgloss.Height(ListTitleStyle.Render(" "))
	if h < 0 {
		return 0
	}
	return h / listItemHeight
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ensureSelectedVisible()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.updateStatusBar("Quitting...")
			return m, tea.Quit
		case "up", "k":
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.ensureSelectedVisible()
				m.previewScrollPos = 0
			}
		case "down", "j":
			if m.selectedIdx < len(m.items)-1 {
				m.selectedIdx++
				m.ensureSelectedVisible()
				m.previewScrollPos = 0
			}
		case "K":
			if m.previewScrollPos > 0 {
				m.previewScrollPos--
			}
		case "J":
			if it, ok := m.selected(); ok {
				if m.previewScrollPos < len(strings.Split(it.candidate.Markdown, "\n"))-1 {
					m.previewScrollPos++
				}
			}
		case "s", "enter":
			if cmd := m.startDelivery(); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}

	case deliveredMsg:
		if msg.index < 0 || msg.index >= len(m.items) {
			break
		}
		it := &m.items[msg.index]
		it.err = msg.err
		subject := truncate(it.candidate.Email.Subject, 30)
		var markErr *pipeline.MarkReadError
		switch {
		case msg.err == nil:
			it.state = stateSent
			m.showTemporaryStatus("Sent: "+subject, 4*time.Second, &cmds)
		case errors.As(msg.err, &markErr):
			it.state = stateSentUnread
			m.updateStatusError(fmt.Sprintf("Sent but not marked read: %v", markErr.Err))
		default:
			it.state = stateFailed
			m.updateStatusError(fmt.Sprintf("Send failed: %v", msg.err))
		}

	case statusTickMsg:
		if !m.statusIsTemp && !m.statusIsError {
			m.setStandardStatus()
		}
		cmds = append(cmds, statusTickCmd(time.Second))

	case clearTempStatusMsg:
		if m.statusIsTemp {
			m.statusIsTemp = false
			m.setStandardStatus()
		}
	}

	return m, tea.Batch(cmds...)
}

func (m Model) selected() (item, bool) {
	if m.selectedIdx < 0 || m.selectedIdx >= len(m.items) {
		return item{}, false
	}
	return m.items[m.selectedIdx], true
}

// startDelivery marks the selected item as sending and returns the command
// that delivers it. Items already sent or in flight are left alone.
func (m *Model) startDelivery() tea.Cmd {
	it, ok := m.selected()
	if !ok {
		return nil
	}
	switch it.state {
	case stateSending, stateSent, stateSentUnread:
		m.updateStatusBar("Already delivered: " + truncate(it.candidate.Email.Subject, 30))
		return nil
	}
	m.items[m.selectedIdx].state = stateSending
	m.items[m.selectedIdx].err = nil
	m.updateStatusBar("Sending: " + truncate(it.candidate.Email.Subject, 30))
	return deliverCmd(m.ctx, m.deliver, m.selectedIdx, it.candidate)
}

func (m *Model) showTemporaryStatus(text string, duration time.Duration, cmds *[]tea.Cmd) {
	m.statusBarText = text
	m.statusIsError = false
	m.statusIsTemp = true
	*cmds = append(*cmds, tea.Tick(duration, func(time.Time) tea.Msg {
		return clearTempStatusMsg{}
	}))
}

func (m *Model) updateStatusBar(text string) {
	m.statusBarText = text
	m.statusIsError = false
	m.statusIsTemp = false
}

func (m *Model) updateStatusError(text string) {
	m.statusBarText = text
	m.statusIsError = true
	m.statusIsTemp = false
}

func (m Model) counts() (sent, failed int) {
	for _, it := range m.items {
		switch it.state {
		case stateSent, stateSentUnread:
			sent++
		case stateFailed:
			failed++
		}
	}
	return sent, failed
}

func (m *Model) setStandardStatus() {
	if m.statusIsTemp {
		return
	}
	sent, failed := m.counts()
	status := fmt.Sprintf(" %s | %d candidates, %d sent, %d failed ",
		time.Now().Format("15:04:05"), len(m.items), sent, failed)
	m.updateStatusBar(status + "| [Q/Ctrl+C]:Quit | [↑↓/jk]:Nav | [S/Enter]:Send | [KJ]:Scroll Preview")
}

func (m *Model) ensureSelectedVisible() {
	if len(m.items) == 0 {
		m.viewportTopLine = 0
		return
	}
	fit := m.numItemsThatFit()
	if fit <= 0 {
		m.viewportTopLine = m.selectedIdx
		return
	}
	if m.selectedIdx < m.viewportTopLine {
		m.viewportTopLine = m.selectedIdx
	} else if m.selectedIdx >= m.viewportTopLine+fit {
		m.viewportTopLine = m.selectedIdx - fit + 1
	}
	m.viewportTopLine = max(0, min(m.viewportTopLine, len(m.items)-fit))
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing terminal size..."
	}
	contentHeight := max(0, m.height-1)

	listWidth := max(int(float64(m.width)*0.35), minListPaneWidth)
	if listWidth > m.width-minPreviewPaneWidth && m.width > minPreviewPaneWidth {
		listWidth = m.width - minPreviewPaneWidth
	}
	listWidth = max(0, min(listWidth, m.width))
	previewWidth := m.width - listWidth

	panes := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderList(listWidth, contentHeight),
		m.renderPreview(previewWidth, contentHeight),
	)
	return AppStyle.Render(lipgloss.JoinVertical(lipgloss.Left, panes, m.renderStatusBar()))
}

func (m Model) renderList(paneWidth, paneHeight int) string {
	title := ListTitleStyle.Render("Deliveries")
	itemsHeight := max(0, paneHeight-lipgloss.Height(title))
	textWidth := max(10, paneWidth-ListItemStyle.GetHorizontalPadding()-4)

	start := min(max(0, m.viewportTopLine), len(m.items))
	end := min(start+itemsHeight/listItemHeight, len(m.items))

	var rows []string
	if paneWidth > 0 && paneHeight > 0 {
		for i := start; i < end; i++ {
			rows = append(rows, formatListItem(m.items[i], i == m.selectedIdx, textWidth))
		}
	}
	if len(m.items) == 0 {
		rows = append(rows, NormalSecondaryTextStyle.Render(" Nothing to deliver."))
	}
	return ListStyle.Width(paneWidth).Height(paneHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(rows, "\n")),
	)
}

func (m Model) renderPreview(paneWidth, paneHeight int) string {
	if paneWidth <= 0 || paneHeight <= 0 {
		return ""
	}
	titleHeight := lipgloss.Height(TitleStyle.Render(" "))
	innerWidth := paneWidth - ContentBoxStyle.GetHorizontalPadding()
	innerHeight := max(0, paneHeight-titleHeight-ContentBoxStyle.GetVerticalPadding())

	it, ok := m.selected()
	if !ok {
		return ContentBoxStyle.Width(paneWidth).Height(paneHeight).Render(
			lipgloss.JoinVertical(lipgloss.Top, TitleStyle.Render("Preview"),
				lipgloss.NewStyle().Width(innerWidth).MaxHeight(innerHeight).Padding(1).Render("No candidate selected.")),
		)
	}

	var header strings.Builder
	fmt.Fprintf(&header, "%s %s\n", HeaderKeyStyle.Render("Message:"), HeaderValStyle.Render(it.candidate.Email.ID))
	fmt.Fprintf(&header, "%s %s\n", HeaderKeyStyle.Render("Subject:"), HeaderValStyle.Render(truncate(it.candidate.Email.Subject, paneWidth-12)))
	fmt.Fprintf(&header, "%s %s", HeaderKeyStyle.Render("Status:"), stateBadge(it.state))
	if it.err != nil {
		fmt.Fprintf(&header, "\n%s %s", HeaderKeyStyle.Render("Error:"), FailedBadgeStyle.Render(truncate(it.err.Error(), paneWidth-10)))
	}
	header.WriteString("\n" + strings.Repeat(BoxHorizontal, paneWidth/2))
	headers := header.String()

	bodyHeight := max(0, innerHeight-lipgloss.Height(headers)-BodyStyle.GetMarginTop())
	lines := strings.Split(it.candidate.Markdown, "\n")
	startLine := min(max(0, m.previewScrollPos), max(0, len(lines)-1))
	endLine := min(startLine+bodyHeight, len(lines))

	content := lipgloss.JoinVertical(lipgloss.Left, headers, BodyStyle.Render(strings.Join(lines[startLine:endLine], "\n")))
	content = lipgloss.NewStyle().Width(innerWidth).MaxHeight(innerHeight).Render(content)

	title := TitleStyle.Render("Preview: " + truncate(it.candidate.Email.Subject, paneWidth-(TitleStyle.GetHorizontalPadding()+12)))
	return ContentBoxStyle.Width(paneWidth).Height(paneHeight).Render(
		lipgloss.JoinVertical(lipgloss.Top, title, content),
	)
}

func (m Model) renderStatusBar() string {
	style := StatusBarNormalStyle
	if m.statusIsError {
		style = StatusBarErrorStyle
	} else if m.statusIsTemp {
		style = StatusBarSuccessStyle
	}
	return style.Width(m.width).Render(truncate(m.statusBarText, m.width))
}
