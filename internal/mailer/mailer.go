// Package mailer sends generated e-books to a reader's device address.
package mailer

import (
	"context"
	"errors"
)

// ErrSendFailed is returned when the mail transport could not deliver.
var ErrSendFailed = errors.New("mail send failed")

// Message is one outbound delivery: a subject line plus a single e-book
// attachment. Kindle ingestion keys off the attachment, not the body.
type Message struct {
	To         string
	Subject    string
	Body       string
	FileName   string
	Attachment []byte
}

// Transport delivers a message to a recipient.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}
