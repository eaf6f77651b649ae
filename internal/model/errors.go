package model

import "time"

// ValidationError reports input that was rejected before any request or write.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NoticeKind classifies a transient message.
type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeSuccess
	NoticeError
)

// Notice is a transient user-facing message that expires at a fixed time.
type Notice struct {
	ID        uint64
	Kind      NoticeKind
	Text      string
	ExpiresAt time.Time
}

// Expired reports whether the notice should no longer be shown.
func (n Notice) Expired(now time.Time) bool {
	if n.Text == "" {
		return true
	}
	if n.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(n.ExpiresAt)
}
