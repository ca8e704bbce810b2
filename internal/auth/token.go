package auth

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"hongson-portal/internal/models"

	"github.com/jonboulle/clockwork"
)

// DefaultMaxAge is how long an admin session stays valid after login.
const DefaultMaxAge = 24 * time.Hour

var (
	ErrMalformedToken = errors.New("malformed session token")
	ErrBadSignature   = errors.New("session token signature mismatch")
)

// Signer produces and checks the opaque trailing component of a token.
type Signer interface {
	Sign(msg string) string
	VerifySignature(msg, sig string) bool
}

// Decision is the outcome of validating a presented session token.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionLogin
	DecisionExpired
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionExpired:
		return "expired"
	default:
		return "login"
	}
}

// TokenCodec issues and validates admin_session values of the form
// base64("<epoch-ms>-<component>").
type TokenCodec struct {
	signer          Signer
	clock           clockwork.Clock
	maxAge          time.Duration
	verifySignature bool
}

type TokenOption func(*TokenCodec)

func WithClock(clock clockwork.Clock) TokenOption {
	return func(c *TokenCodec) { c.clock = clock }
}

func WithMaxAge(maxAge time.Duration) TokenOption {
	return func(c *TokenCodec) { c.maxAge = maxAge }
}

// WithSignatureCheck makes Check reject tokens whose component is not the
// signer's MAC of the timestamp.
func WithSignatureCheck(enabled bool) TokenOption {
	return func(c *TokenCodec) { c.verifySignature = enabled }
}

func NewTokenCodec(signer Signer, opts ...TokenOption) *TokenCodec {
	c := &TokenCodec{
		signer: signer,
		clock:  clockwork.NewRealClock(),
		maxAge: DefaultMaxAge,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TokenCodec) MaxAge() time.Duration {
	return c.maxAge
}

// Issue mints a token stamped with the current time.
func (c *TokenCodec) Issue() (string, models.AdminSession) {
	now := c.clock.Now()
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	component := c.signer.Sign(ts)

	value := base64.StdEncoding.EncodeToString([]byte(ts + "-" + component))
	return value, models.AdminSession{
		IssuedAt:  time.UnixMilli(now.UnixMilli()),
		Component: component,
	}
}

// Parse decodes a token without looking at its age.
func (c *TokenCodec) Parse(value string) (models.AdminSession, error) {
	raw, err := decodeBase64(value)
	if err != nil {
		return models.AdminSession{}, ErrMalformedToken
	}

	parts := strings.Split(string(raw), "-")
	if len(parts) < 2 {
		return models.AdminSession{}, ErrMalformedToken
	}

	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return models.AdminSession{}, ErrMalformedToken
	}

	session := models.AdminSession{
		IssuedAt:  time.UnixMilli(ms),
		Component: strings.Join(parts[1:], "-"),
	}

	if c.verifySignature && !c.signer.VerifySignature(parts[0], session.Component) {
		return models.AdminSession{}, ErrBadSignature
	}

	return session, nil
}

// Check classifies a cookie value. It never fails: every problem maps to a
// redirect decision.
func (c *TokenCodec) Check(value string) (Decision, models.AdminSession) {
	if value == "" {
		return DecisionLogin, models.AdminSession{}
	}

	session, err := c.Parse(value)
	if err != nil {
		return DecisionLogin, models.AdminSession{}
	}

	age := c.clock.Now().UnixMilli() - session.IssuedAt.UnixMilli()
	if age > c.maxAge.Milliseconds() {
		return DecisionExpired, session
	}

	return DecisionAllow, session
}

func decodeBase64(value string) ([]byte, error) {
	if raw, err := base64.StdEncoding.DecodeString(value); err == nil {
		return raw, nil
	}
	return base64.RawStdEncoding.DecodeString(value)
}
