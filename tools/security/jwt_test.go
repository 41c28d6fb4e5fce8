package security

import (
	"context"
	"testing"
	"time"

	"DeepGround/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestInspectValidToken(t *testing.T) {
	tok, _, exp, err := Generate(DefaultOptions(secret), "42", nil)
	require.NoError(t, err)

	cred, err := Inspect("Bearer "+tok, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "42", cred.Subject)
	assert.Equal(t, tok, cred.Token)
	assert.Equal(t, exp.Unix(), cred.ExpiresAt.Unix())
	assert.Equal(t, "Bearer "+tok, cred.Header())
}

func TestInspectRejectsMissingAndMalformed(t *testing.T) {
	for _, raw := range []string{"", "  ", "null", "Bearer "} {
		_, err := Inspect(raw, time.Now())
		assert.ErrorIs(t, err, errs.ErrCredentialMissing, raw)
		assert.True(t, errs.IsFatalPrecondition(err))
	}
	for _, raw := range []string{"abc", "a.b", "a.b.c"} {
		_, err := Inspect(raw, time.Now())
		assert.ErrorIs(t, err, errs.ErrCredentialMalformed, raw)
	}
}

func TestInspectExpired(t *testing.T) {
	tok, _, _, err := Generate(Options{Secret: secret, TTL: time.Minute}, "7", nil)
	require.NoError(t, err)
	_, err = Inspect(tok, time.Now().Add(2*time.Minute))
	assert.ErrorIs(t, err, errs.ErrCredentialExpired)
	assert.True(t, errs.IsFatalPrecondition(err))
}

func TestVerify(t *testing.T) {
	tok, _, _, err := Generate(DefaultOptions(secret), "1", []string{"chat"})
	require.NoError(t, err)
	claims, err := Verify(DefaultOptions(secret), tok)
	require.NoError(t, err)
	assert.Equal(t, "1", claims["sub"])

	_, err = Verify(DefaultOptions([]byte("other")), tok)
	assert.True(t, errs.IsAuthRejected(err))
}

func TestStaticProviderRefresh(t *testing.T) {
	p := NewStaticProvider("old", func(context.Context) (string, error) { return "new", nil })
	tok, _ := p.Token(context.Background())
	assert.Equal(t, "old", tok)

	tok, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", tok)
	tok, _ = p.Token(context.Background())
	assert.Equal(t, "new", tok)

	_, err = NewStaticProvider("x", nil).Refresh(context.Background())
	assert.Error(t, err)
}
