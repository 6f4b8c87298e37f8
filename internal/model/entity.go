package model

import (
	"fmt"
	"strings"
)

// EntityKind identifies the unit of broadcast ownership.
type EntityKind string

const (
	EntityConversation EntityKind = "conversation"
	EntityCart         EntityKind = "cart"
	EntityUser         EntityKind = "user"
)

// String returns the string representation of the entity kind.
func (k EntityKind) String() string {
	return string(k)
}

// IsValid checks whether the entity kind is a known value.
func (k EntityKind) IsValid() bool {
	switch k {
	case EntityConversation, EntityCart, EntityUser:
		return true
	}
	return false
}

// Role is the capacity in which a user acts on an entity.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAgent    Role = "agent"
	RoleAdmin    Role = "admin"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid checks whether the role is a known value.
func (r Role) IsValid() bool {
	switch r {
	case RoleCustomer, RoleProvider, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// EntityKey names one broadcast entity. Exactly one live actor exists per key.
type EntityKey struct {
	Kind EntityKind `json:"entity_kind"`
	ID   string     `json:"entity_id"`
}

// String renders the key as "kind:id", the form used in logs.
func (k EntityKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

// ParseEntityKey parses the "kind:id" form produced by String.
func ParseEntityKey(s string) (EntityKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return EntityKey{}, fmt.Errorf("malformed entity key %q", s)
	}
	k := EntityKey{Kind: EntityKind(kind), ID: id}
	if !k.Kind.IsValid() {
		return EntityKey{}, fmt.Errorf("unknown entity kind %q", kind)
	}
	return k, nil
}

// Actor identifies who triggered a state change.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}
