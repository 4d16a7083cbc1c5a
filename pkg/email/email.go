// Package email holds the message shape handed to mail transports and the
// address helpers shared by request validation.
package email

import "strings"

// Message is a single-part HTML email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Normalize trims whitespace and lowercases an address.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
