package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bassamadnan/delivnotify/extract"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"emphasis", "Hello **world**", "Hello world"},
		{"heading and list", "# Title\n\n- a\n- b", "Title\n- a\n- b"},
		{"soft break", "line one\nline two", "line one\nline two"},
		{"fenced code kept raw", "```\ncode *x*\n```", "code *x*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlainText(tt.in))
		})
	}
}

func TestPlainTextOfRenderedRecord(t *testing.T) {
	md := Render(extract.Record{
		ItemName:      "トナーカートリッジ",
		RequestNumber: "62",
		Body:          "申請番号：62",
	})

	got := PlainText(md)

	assert.Contains(t, got, "品名: トナーカートリッジ")
	assert.Contains(t, got, "申請番号: 62")
	assert.Contains(t, got, "申請番号：62")
	assert.NotContains(t, got, "**")
	assert.NotContains(t, got, "```")
}
