package notify

import (
	"fmt"
	"strings"

	"github.com/bassamadnan/delivnotify/extract"
)

const (
	titleNormal = "【📢 納品連絡】"
	titleUrgent = "【🚨 大至急！納品連絡】"

	instructionHeader = "**メールからの指示・情報：**"
	fallbackOffice    = "- 受け取り後、納品書等の書類は速やかに精密事務室へ提出してください。"
	reviewLine        = "- 担当者は内容を確認し、対応をお願いします。"
	shareLine         = "- 取りに行ったら、他の人にも共有しましょう！"

	bodyOpen  = "--- ▼元のメール本文▼ ---"
	bodyClose = "--- ▲元のメール本文▲ ---"

	noSubject = "件名情報なし"
)

// Render formats a record as the markdown message posted to the room.
func Render(r extract.Record) string {
	title := titleNormal
	if r.Urgent() {
		title = titleUrgent
	}
	lines := []string{title}

	if r.ItemName != "" {
		lines = append(lines, fmt.Sprintf("- **品名**: %s", r.ItemName))
	} else {
		subject := r.Subject
		if subject == "" {
			subject = noSubject
		}
		lines = append(lines, fmt.Sprintf("- **件名(品名不明)**: %s", subject))
	}
	if r.RequestNumber != "" {
		lines = append(lines, fmt.Sprintf("- **申請番号**: %s", r.RequestNumber))
	}
	if r.Remarks != "" {
		lines = append(lines, fmt.Sprintf("- **その他**: %s", r.Remarks))
	}

	lines = append(lines, "", instructionHeader)
	if r.Office != "" {
		lines = append(lines, OfficeLine(r.Office))
	} else {
		lines = append(lines, fallbackOffice)
	}
	lines = append(lines, reviewLine, shareLine)

	if r.Body != "" {
		fence := codeFence(r.Body)
		lines = append(lines, "", bodyOpen, fence, r.Body, fence, bodyClose)
	}
	return strings.Join(lines, "\n")
}

// OfficeLine is the instruction naming a known submission office.
func OfficeLine(office string) string {
	return fmt.Sprintf("- 書類は **%s** へ提出してください。", office)
}

// codeFence returns a backtick fence longer than any backtick run in s, so
// the quoted mail body cannot close the block early.
func codeFence(s string) string {
	fence := "```"
	for strings.Contains(s, fence) {
		fence += "`"
	}
	return fence
}
