// Package gateway holds the Delivery Gateway adapters: one call sends one
// notification to one address and either succeeds or fails.
package gateway

import (
	"context"
	"regexp"
)

// Sender delivers a single notification.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to, subject, body string) error

func (f SenderFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}

var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// IsPhoneNumber reports whether addr looks like an E.164 number.
func IsPhoneNumber(addr string) bool {
	return phonePattern.MatchString(addr)
}

// Router sends E.164 contacts over SMS when an SMS sender is configured and
// everything else over email.
type Router struct {
	Email Sender
	SMS   Sender
}

func (r *Router) Send(ctx context.Context, to, subject, body string) error {
	if r.SMS != nil && IsPhoneNumber(to) {
		return r.SMS.Send(ctx, to, subject, body)
	}
	return r.Email.Send(ctx, to, subject, body)
}
