package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bassamadnan/delivnotify/mailbox"
)

// truncate shortens s to at most maxWidth terminal cells, adding "..." if
// truncated. Wide runes count as two cells.
func truncate(s string, maxWidth int) string {
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	if maxWidth <= 0 {
		return ""
	}
	ellipsis := "..."
	if maxWidth < 3 {
		ellipsis = ""
	}
	limit := maxWidth - len(ellipsis)
	var b strings.Builder
	w := 0
	for _, r := range s {
		rw := lipgloss.Width(string(r))
		if w+rw > limit {
			break
		}
		b.WriteRune(r)
		w += rw
	}
	return b.String() + ellipsis
}

// pad right-fills s with spaces up to width cells.
func pad(s string, width int) string {
	if gap := width - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}

func stateBadge(st deliveryState) string {
	switch st {
	case stateSending:
		return PendingBadgeStyle.Render("sending")
	case stateSent:
		return SentBadgeStyle.Render("sent")
	case stateSentUnread:
		return FailedBadgeStyle.Render("sent, still unread")
	case stateFailed:
		return FailedBadgeStyle.Render("failed")
	default:
		return PendingBadgeStyle.Render("pending")
	}
}

// formatListItem renders one candidate as a 4-line box. contentWidth is the
// width of the text between the box edges.
func formatListItem(it item, isSelected bool, contentWidth int) string {
	var boxCharStyle, subjectStyle, secondaryTextStyle, blockStyle lipgloss.Style
	if isSelected {
		boxCharStyle = SelectedBoxCharStyle
		subjectStyle = SelectedSubjectStyle
		secondaryTextStyle = SelectedSecondaryTextStyle
		blockStyle = SelectedListItemStyle
	} else {
		boxCharStyle = NormalBoxCharStyle
		subjectStyle = NormalSubjectStyle
		secondaryTextStyle = NormalSecondaryTextStyle
		blockStyle = ListItemStyle
	}

	subject := it.candidate.Email.Subject
	if subject == "" {
		subject = mailbox.NoSubject
	}
	subjectText := pad(truncate(subject, contentWidth), contentWidth)

	rec := it.candidate.Record
	number := rec.RequestNumber
	if number == "" {
		number = "-"
	}
	meta := fmt.Sprintf("No.%s ", number)
	badge := stateBadge(it.state)
	if rec.Urgent() {
		badge = UrgentBadgeStyle.Render("大至急") + " " + badge
	}
	metaWidth := contentWidth - lipgloss.Width(badge)
	var metaLine string
	if metaWidth > 0 {
		metaLine = secondaryTextStyle.Render(pad(truncate(meta, metaWidth), metaWidth)) + badge
	} else {
		metaLine = badge
	}

	bar := strings.Repeat(BoxHorizontal, contentWidth+2)
	lines := []string{
		boxCharStyle.Render(BoxTopLeft) + boxCharStyle.Render(bar) + boxCharStyle.Render(BoxTopRight),
		fmt.Sprintf("%s %s %s", boxCharStyle.Render(BoxVertical), subjectStyle.Render(subjectText), boxCharStyle.Render(BoxVertical)),
		fmt.Sprintf("%s %s %s", boxCharStyle.Render(BoxVertical), metaLine, boxCharStyle.Render(BoxVertical)),
		boxCharStyle.Render(BoxBottomLeft) + boxCharStyle.Render(bar) + boxCharStyle.Render(BoxBottomRight),
	}
	return blockStyle.Render(strings.Join(lines, "\n"))
}
