package idgen

import (
	"regexp"
	"strings"
	"testing"
)

func TestNew_LengthAndCharset(t *testing.T) {
	for _, prefix := range []string{PrefixConversation, PrefixMessage, PrefixCartItem, PrefixNode, "test-"} {
		t.Run(prefix, func(t *testing.T) {
			id, err := New(prefix)
			if err != nil {
				t.Fatalf("New(%q) error: %v", prefix, err)
			}
			if want := len(prefix) + Length; len(id) != want {
				t.Errorf("New(%q) length = %d, want %d (id=%q)", prefix, len(id), want, id)
			}
			pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `[a-zA-Z0-9]+$`)
			if !pattern.MatchString(id) {
				t.Errorf("New(%q) = %q, does not match expected charset pattern", prefix, id)
			}
		})
	}
}

func TestNew_Uniqueness(t *testing.T) {
	const count = 10_000
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		id, err := Message()
		if err != nil {
			t.Fatalf("Message() error on iteration %d: %v", i, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID after %d generations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestTypedHelpers(t *testing.T) {
	for _, tc := range []struct {
		name   string
		gen    func() (string, error)
		prefix string
	}{
		{"Conversation", Conversation, PrefixConversation},
		{"Message", Message, PrefixMessage},
		{"CartItem", CartItem, PrefixCartItem},
	} {
		t.Run(tc.name, func(t *testing.T) {
			id, err := tc.gen()
			if err != nil {
				t.Fatalf("error: %v", err)
			}
			if !strings.HasPrefix(id, tc.prefix) {
				t.Errorf("id %q missing prefix %q", id, tc.prefix)
			}
		})
	}
	if id := Connection(); !strings.HasPrefix(id, PrefixConnection) {
		t.Errorf("Connection() = %q, want prefix %q", id, PrefixConnection)
	}
}

func TestNonce(t *testing.T) {
	n, err := Nonce(16)
	if err != nil {
		t.Fatalf("Nonce error: %v", err)
	}
	if len(n) != 16 {
		t.Errorf("Nonce length = %d, want 16", len(n))
	}
}
