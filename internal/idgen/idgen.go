// Package idgen generates short, URL-safe identifiers for relay records
// and live connections, backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for each kind of generated ID.
const (
	PrefixConversation = "cv-"
	PrefixMessage      = "msg-"
	PrefixCartItem     = "ci-"
	PrefixConnection   = "cn-"
	PrefixNode         = "node-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// New returns a new unique ID with the given prefix.
func New(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// Conversation returns a new conversation ID.
func Conversation() (string, error) { return New(PrefixConversation) }

// Message returns a new message ID.
func Message() (string, error) { return New(PrefixMessage) }

// CartItem returns a new cart item ID.
func CartItem() (string, error) { return New(PrefixCartItem) }

// Connection returns a new live-connection ID. Connection IDs only appear
// in logs, so a generator failure degrades to a fixed placeholder.
func Connection() string {
	id, err := New(PrefixConnection)
	if err != nil {
		return PrefixConnection + "unknown"
	}
	return id
}

// Nonce returns a random string of n alphabet characters.
func Nonce(n int) (string, error) {
	s, err := nanoid.Generate(Alphabet, n)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return s, nil
}
