package mailbox

import "fmt"

// AuthError reports missing credentials or a rejected token exchange.
// It is fatal for a run.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mailbox auth: %s: %v", e.Reason, e.Err)
	}
	return "mailbox auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError reports a single message that could not be retrieved.
type FetchError struct {
	MessageID string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch message %s: %v", e.MessageID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UpdateError reports a failure to clear the unread marker on a message.
type UpdateError struct {
	MessageID string
	Err       error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("mark message %s read: %v", e.MessageID, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }
