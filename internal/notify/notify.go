// Package notify holds the outbound side channels of a run: emailing
// captured output and HTTP ping hooks. Both are narrow collaborators; the
// engine never depends on their internals.
package notify

import "context"

// Message carries the envelope for a raw-text mail.
type Message struct {
	To      []string
	Subject string
}

// Mailer sends a raw-text body with the given envelope.
type Mailer interface {
	SendRaw(ctx context.Context, text string, msg Message) error
}

// DefaultSubject is used when a task has no description.
const DefaultSubject = "Scheduled Job Output"
