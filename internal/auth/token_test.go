package auth

import (
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// prefixSigner is a deterministic Signer for tests.
type prefixSigner struct{}

func (prefixSigner) Sign(msg string) string { return "sig" + msg }

func (prefixSigner) VerifySignature(msg, sig string) bool { return sig == "sig"+msg }

var testNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func encodeToken(raw string) string {
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func tokenAt(t time.Time, component string) string {
	return encodeToken(strconv.FormatInt(t.UnixMilli(), 10) + "-" + component)
}

func newTestCodec(clock clockwork.Clock, opts ...TokenOption) *TokenCodec {
	return NewTokenCodec(prefixSigner{}, append([]TokenOption{WithClock(clock)}, opts...)...)
}

func TestIssue_RoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	codec := newTestCodec(clock)

	value, session := codec.Issue()

	raw, err := base64.StdEncoding.DecodeString(value)
	require.NoError(t, err)
	ms := strconv.FormatInt(testNow.UnixMilli(), 10)
	assert.Equal(t, ms+"-sig"+ms, string(raw))
	assert.Equal(t, testNow.UnixMilli(), session.IssuedAt.UnixMilli())

	parsed, err := codec.Parse(value)
	require.NoError(t, err)
	assert.Equal(t, session.Component, parsed.Component)
	assert.True(t, session.IssuedAt.Equal(parsed.IssuedAt))
}

func TestCheck_MalformedValuesAskForLogin(t *testing.T) {
	codec := newTestCodec(clockwork.NewFakeClockAt(testNow))

	cases := map[string]string{
		"empty":             "",
		"not base64":        "%%%not-base64%%%",
		"single part":       encodeToken("1700000000000"),
		"no dash":           encodeToken("justtext"),
		"non numeric ts":    encodeToken("abc-def"),
		"empty ts":          encodeToken("-123-abc"),
		"partially numeric": encodeToken("12ab-xyz"),
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			decision, _ := codec.Check(value)
			assert.Equal(t, DecisionLogin, decision)
		})
	}
}

func TestCheck_AgeBoundary(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	codec := newTestCodec(clock)

	tests := []struct {
		name string
		age  time.Duration
		want Decision
	}{
		{"fresh", 0, DecisionAllow},
		{"one hour", time.Hour, DecisionAllow},
		{"exactly max age", DefaultMaxAge, DecisionAllow},
		{"one ms past max age", DefaultMaxAge + time.Millisecond, DecisionExpired},
		{"a week old", 7 * 24 * time.Hour, DecisionExpired},
		{"issued in the future", -time.Minute, DecisionAllow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, _ := codec.Check(tokenAt(testNow.Add(-tt.age), "anything"))
			assert.Equal(t, tt.want, decision)
		})
	}
}

func TestCheck_ComponentMayContainDashes(t *testing.T) {
	codec := newTestCodec(clockwork.NewFakeClockAt(testNow))

	decision, session := codec.Check(tokenAt(testNow, "a-b-c"))
	assert.Equal(t, DecisionAllow, decision)
	assert.Equal(t, "a-b-c", session.Component)
}

func TestCheck_UnpaddedBase64(t *testing.T) {
	codec := newTestCodec(clockwork.NewFakeClockAt(testNow))
	raw := strconv.FormatInt(testNow.UnixMilli(), 10) + "-x"
	value := base64.RawStdEncoding.EncodeToString([]byte(raw))

	decision, _ := codec.Check(value)
	assert.Equal(t, DecisionAllow, decision)
}

func TestCheck_SignatureVerification(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	strict := newTestCodec(clock, WithSignatureCheck(true))
	lenient := newTestCodec(clock)

	forged := tokenAt(testNow, "forged")
	issued, _ := strict.Issue()

	decision, _ := strict.Check(forged)
	assert.Equal(t, DecisionLogin, decision)
	decision, _ = strict.Check(issued)
	assert.Equal(t, DecisionAllow, decision)

	decision, _ = lenient.Check(forged)
	assert.Equal(t, DecisionAllow, decision)
}

func TestCheck_CustomMaxAge(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	codec := newTestCodec(clock, WithMaxAge(time.Hour))

	value, _ := codec.Issue()
	clock.Advance(time.Hour + time.Millisecond)

	decision, _ := codec.Check(value)
	assert.Equal(t, DecisionExpired, decision)
	assert.Equal(t, time.Hour, codec.MaxAge())
}
