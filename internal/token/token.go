// Package token issues and verifies capability tokens that scope one live
// connection to one entity and one identity.
//
// # Wire format
//
// A token is the unpadded base64url encoding of
//
//	[CBOR claims bytes] [32-byte HMAC-SHA256 over the claims bytes]
//
// The split point is always len(raw) - 32. Tokens are never stored
// server-side: verification recomputes the MAC with the shared secret, so
// Verify is a pure function of the secret, the token and the current time.
package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/alfredjeanlab/relay/internal/clock"
	"github.com/alfredjeanlab/relay/internal/idgen"
	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/store"
)

// Lifetime is how long an issued token stays valid. It is fixed: callers
// cannot request longer-lived tokens.
const Lifetime = 5 * time.Minute

// MinSecretLength is the minimum accepted shared-secret size in bytes.
const MinSecretLength = 32

const (
	macSize = sha256.Size

	// maxEncodedLength bounds the input accepted by Verify.
	maxEncodedLength = 2048
)

var encoding = base64.RawURLEncoding.Strict()

// Claims is the signed payload of a capability token.
type Claims struct {
	Subject    string           `cbor:"1,keyasint" json:"subject"`
	EntityKind model.EntityKind `cbor:"2,keyasint" json:"entity_kind"`
	EntityID   string           `cbor:"3,keyasint" json:"entity_id"`
	Role       model.Role       `cbor:"4,keyasint" json:"role"`
	IssuedAt   int64            `cbor:"5,keyasint" json:"issued_at"`
	ExpiresAt  int64            `cbor:"6,keyasint" json:"expires_at"`
	ID         string           `cbor:"7,keyasint" json:"id"`
}

// Entity returns the entity the token is scoped to.
func (c *Claims) Entity() model.EntityKey {
	return model.EntityKey{Kind: c.EntityKind, ID: c.EntityID}
}

// Expiry returns ExpiresAt as a time.Time.
func (c *Claims) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// invalidError is a verification failure. Every invalidError matches
// ErrInvalid under errors.Is, so callers can treat all of them alike.
type invalidError struct{ reason string }

func (e *invalidError) Error() string { return "token: invalid: " + e.reason }

func (e *invalidError) Is(target error) bool { return target == ErrInvalid }

// Errors returned by Verify and Issue.
var (
	ErrInvalid        = errors.New("token: invalid")
	ErrMalformed      = &invalidError{"malformed"}
	ErrBadSignature   = &invalidError{"signature mismatch"}
	ErrExpired        = &invalidError{"expired"}
	ErrEntityMismatch = &invalidError{"entity mismatch"}

	ErrUnauthorized   = errors.New("token: subject may not access entity")
	ErrEntityNotFound = errors.New("token: entity not found")
	ErrSecretLength   = fmt.Errorf("token: secret must be at least %d bytes", MinSecretLength)
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("token: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic("token: CBOR decoder initialization failed: " + err.Error())
	}
}

// Authorizer reports whether a user may read or manage an entity. A
// missing entity is reported as store.ErrNotFound, not as a denial.
type Authorizer interface {
	CanAccess(ctx context.Context, userID string, entity model.EntityKey) (bool, error)
}

// Verifier is the read side of the service, used by the hub to re-check
// tokens at admission.
type Verifier interface {
	VerifyFor(token string, entity model.EntityKey) (*Claims, error)
}

// Service mints and verifies tokens with a shared secret.
type Service struct {
	secret []byte
	auth   Authorizer
	clock  clock.Clock
}

var _ Verifier = (*Service)(nil)

// NewService returns a Service. auth may be nil for verify-only use, in
// which case Issue always fails.
func NewService(secret []byte, auth Authorizer, clk clock.Clock) (*Service, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretLength
	}
	if clk == nil {
		clk = clock.Real()
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Service{secret: s, auth: auth, clock: clk}, nil
}

// Issue mints a token for subject on entity after checking access.
func (s *Service) Issue(ctx context.Context, subject string, entity model.EntityKey, role model.Role) (string, *Claims, error) {
	if subject == "" || entity.ID == "" || !entity.Kind.IsValid() || !role.IsValid() {
		return "", nil, fmt.Errorf("token: incomplete issue request for %s", entity)
	}
	if s.auth == nil {
		return "", nil, ErrUnauthorized
	}
	ok, err := s.auth.CanAccess(ctx, subject, entity)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, fmt.Errorf("%w: %s", ErrEntityNotFound, entity)
	}
	if err != nil {
		return "", nil, fmt.Errorf("token: authorizing %s: %w", entity, err)
	}
	if !ok {
		return "", nil, ErrUnauthorized
	}

	id, err := idgen.Nonce(16)
	if err != nil {
		return "", nil, fmt.Errorf("token: %w", err)
	}
	now := s.clock.Now()
	claims := &Claims{
		Subject:    subject,
		EntityKind: entity.Kind,
		EntityID:   entity.ID,
		Role:       role,
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(Lifetime).Unix(),
		ID:         id,
	}
	tok, err := s.Mint(claims)
	if err != nil {
		return "", nil, err
	}
	return tok, claims, nil
}

// Mint signs claims without any access check. Issue is the normal entry
// point; Mint exists for tooling and tests.
func (s *Service) Mint(claims *Claims) (string, error) {
	payload, err := encMode.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("token: encoding claims: %w", err)
	}
	raw := make([]byte, len(payload), len(payload)+macSize)
	copy(raw, payload)
	raw = append(raw, s.sign(payload)...)
	return encoding.EncodeToString(raw), nil
}

// Verify checks the signature, structure and expiry of tok.
func (s *Service) Verify(tok string) (*Claims, error) {
	return s.VerifyAt(tok, s.clock.Now())
}

// VerifyAt is Verify with an explicit current time.
func (s *Service) VerifyAt(tok string, now time.Time) (*Claims, error) {
	if tok == "" || len(tok) > maxEncodedLength {
		return nil, ErrMalformed
	}
	raw, err := encoding.DecodeString(tok)
	if err != nil || len(raw) <= macSize {
		return nil, ErrMalformed
	}
	split := len(raw) - macSize
	payload, mac := raw[:split], raw[split:]
	if !hmac.Equal(mac, s.sign(payload)) {
		return nil, ErrBadSignature
	}

	var claims Claims
	if err := decMode.Unmarshal(payload, &claims); err != nil {
		return nil, ErrMalformed
	}
	if claims.Subject == "" || claims.EntityID == "" || claims.ID == "" ||
		!claims.EntityKind.IsValid() || !claims.Role.IsValid() ||
		claims.ExpiresAt <= claims.IssuedAt {
		return nil, ErrMalformed
	}
	if now.Unix() >= claims.ExpiresAt {
		return nil, ErrExpired
	}
	return &claims, nil
}

// VerifyFor is Verify plus an exact match against the entity the
// connection targets.
func (s *Service) VerifyFor(tok string, entity model.EntityKey) (*Claims, error) {
	claims, err := s.Verify(tok)
	if err != nil {
		return nil, err
	}
	if claims.Entity() != entity {
		return nil, ErrEntityMismatch
	}
	return claims, nil
}

func (s *Service) sign(payload []byte) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write(payload)
	return h.Sum(nil)
}
