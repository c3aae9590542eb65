package mailbox

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// NoSubject stands in for a message that carries no Subject header.
const NoSubject = "件名なし"

// RawEmail holds the parts of a mailbox message the extractor needs.
type RawEmail struct {
	ID      string // Backend message id (Gmail id or IMAP UID)
	Subject string
	Body    string // Decoded, trimmed plain text body
}

// Query selects candidate messages. Backends translate it into their own
// search syntax.
type Query struct {
	SubjectMarker string
	MaxAge        time.Duration
	UnreadOnly    bool
	Raw           string // Gmail search string overriding the fields above
}

// Gmail renders the query in Gmail search syntax, e.g.
// `subject:"[実験実習購入]" newer_than:1d is:unread`.
func (q Query) Gmail() string {
	if q.Raw != "" {
		return q.Raw
	}
	var parts []string
	if q.SubjectMarker != "" {
		parts = append(parts, fmt.Sprintf("subject:%q", q.SubjectMarker))
	}
	if q.MaxAge > 0 {
		parts = append(parts, fmt.Sprintf("newer_than:%dd", ageInDays(q.MaxAge)))
	}
	if q.UnreadOnly {
		parts = append(parts, "is:unread")
	}
	return strings.Join(parts, " ")
}

// Since is the oldest message time the query accepts relative to now.
func (q Query) Since(now time.Time) time.Time {
	if q.MaxAge <= 0 {
		return time.Time{}
	}
	return now.Add(-q.MaxAge)
}

// Gmail only understands day granularity for relative ages.
func ageInDays(d time.Duration) int {
	days := int(math.Ceil(d.Hours() / 24))
	if days < 1 {
		days = 1
	}
	return days
}
