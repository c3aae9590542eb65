package pipeline

import "fmt"

// SendError means the notification for a message was not posted. The
// message stays unread and will be picked up again by a later run.
type SendError struct {
	MessageID string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("notifying about message %s: %v", e.MessageID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// MarkReadError means the notification was posted but the message could
// not be marked read.
type MarkReadError struct {
	MessageID string
	Err       error
}

func (e *MarkReadError) Error() string {
	return fmt.Sprintf("marking message %s read after notifying: %v", e.MessageID, e.Err)
}

func (e *MarkReadError) Unwrap() error { return e.Err }
