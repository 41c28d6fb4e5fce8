package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"DeepGround/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options controls signing and token lifetime.
type Options struct {
	Secret []byte        // HMAC key
	Alg    string        // HS256/HS384/HS512, default HS256
	TTL    time.Duration // token lifetime, default 2h
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Credential is a bearer token that passed client-side inspection.
type Credential struct {
	Token     string
	Subject   string
	ExpiresAt time.Time // zero when the token carries no exp
}

// Header returns the Authorization header value.
func (c *Credential) Header() string { return "Bearer " + c.Token }

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Inspect checks that raw looks like a usable JWT bearer token without
// verifying its signature; the server stays the authority on validity.
func Inspect(raw string, now time.Time) (*Credential, error) {
	token := strings.TrimSpace(raw)
	if strings.EqualFold(token, "bearer") {
		token = ""
	} else if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" || token == "null" || token == "undefined" {
		return nil, errs.ErrCredentialMissing.Wrap()
	}
	if strings.Count(token, ".") != 2 {
		return nil, errs.ErrCredentialMalformed.WrapMsg("token is not a jwt")
	}

	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, errs.ErrCredentialMalformed.WrapMsg(err.Error())
	}

	cred := &Credential{Token: token}
	if sub, err := claims.GetSubject(); err == nil {
		cred.Subject = sub
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, errs.ErrCredentialMalformed.WrapMsg("bad exp claim")
	}
	if exp != nil {
		cred.ExpiresAt = exp.Time
		if !now.Before(exp.Time) {
			return nil, errs.ErrCredentialExpired.WrapMsg("", "exp", exp.Time.Format(time.RFC3339))
		}
	}
	return cred, nil
}

// Generate mints an HMAC-signed token; used by the stub backend and tests.
func Generate(opts Options, userID string, scopes []string) (token string, accessTokenHash string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	if len(scopes) > 0 {
		claims["scope"] = scopes
	}

	tok := jwtlib.NewWithClaims(method, claims)
	signed, err := tok.SignedString(opts.Secret)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return signed, HashToken(signed), exp, nil
}

// Verify validates signature and time claims; the stub backend uses it to
// answer 401 like the real server.
func Verify(opts Options, token string) (jwtlib.MapClaims, error) {
	if _, err := signingMethod(opts.Alg); err != nil {
		return nil, err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// HMAC family only
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	})
	if err != nil {
		return nil, errs.ErrAuthRejected.WrapMsg(err.Error())
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errs.ErrAuthRejected.WrapMsg("invalid token")
	}
	return claims, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
