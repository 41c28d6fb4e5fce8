package security

import (
	"context"
	"sync"

	"DeepGround/tools/errs"
)

// TokenSource hands out the current bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// CredentialProvider can additionally obtain a fresh token after the server
// rejected the current one.
type CredentialProvider interface {
	TokenSource
	Refresh(ctx context.Context) (string, error)
}

// RefreshFunc fetches a new access token, e.g. from a refresh-token endpoint.
type RefreshFunc func(ctx context.Context) (string, error)

// StaticProvider holds a token in memory; Refresh delegates to an optional
// RefreshFunc and stores the result.
type StaticProvider struct {
	mu      sync.RWMutex
	token   string
	refresh RefreshFunc
}

func NewStaticProvider(token string, refresh RefreshFunc) *StaticProvider {
	return &StaticProvider{token: token, refresh: refresh}
}

func (p *StaticProvider) Token(context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token, nil
}

func (p *StaticProvider) Set(token string) {
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
}

func (p *StaticProvider) Refresh(ctx context.Context) (string, error) {
	if p.refresh == nil {
		return "", errs.ErrCredentialMissing.WrapMsg("no refresh source")
	}
	tok, err := p.refresh(ctx)
	if err != nil {
		return "", err
	}
	p.Set(tok)
	return tok, nil
}
