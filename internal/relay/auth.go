package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/domain"

	"github.com/golang-jwt/jwt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
)

type ctxKey string

const ctxKeyUserID ctxKey = "user_id"

// Claims are HS256 access claims with the user id in sub.
type Claims struct {
	jwt.StandardClaims
}

// Authenticator identifies callers. With a secret every request needs a
// valid bearer token; without one, the caller is trusted to name itself
// through X-User-ID or the user_id query parameter.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

// Issue signs a token for id valid for ttl from now.
func (a *Authenticator) Issue(id domain.UserID, ttl time.Duration, now time.Time) (string, error) {
	if !a.Enabled() {
		return "", errors.New("relay: no signing secret configured")
	}
	claims := Claims{StandardClaims: jwt.StandardClaims{
		Subject:   id.String(),
		Issuer:    a.issuer,
		IssuedAt:  now.Unix(),
		NotBefore: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) parse(tokenStr string) (domain.UserID, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return 0, ErrInvalidToken
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return 0, fmt.Errorf("%w: issuer", ErrInvalidToken)
	}
	id, err := domain.ParseUserID(claims.Subject)
	if err != nil {
		return 0, fmt.Errorf("%w: subject", ErrInvalidToken)
	}
	return id, nil
}

// Identify returns the caller of r, or 0 when auth is off and the
// caller did not name itself.
func (a *Authenticator) Identify(r *http.Request) (domain.UserID, error) {
	claimed := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if claimed == "" {
		claimed = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}

	if !a.Enabled() {
		if claimed == "" {
			return 0, nil
		}
		return domain.ParseUserID(claimed)
	}

	token := bearer(r)
	if token == "" {
		return 0, ErrUnauthorized
	}
	id, err := a.parse(token)
	if err != nil {
		return 0, err
	}
	if claimed != "" && claimed != strconv.FormatInt(int64(id), 10) {
		return 0, fmt.Errorf("%w: user id does not match token", ErrUnauthorized)
	}
	return id, nil
}

func bearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && len(auth) > 7 {
		return strings.TrimSpace(auth[7:])
	}
	// browsers cannot set headers on a websocket handshake
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// Middleware rejects unidentifiable callers and stores the id in the
// request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Identify(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
			return
		}
		if id != 0 {
			r = r.WithContext(context.WithValue(r.Context(), ctxKeyUserID, id))
		}
		next.ServeHTTP(w, r)
	})
}

func UserIDFromCtx(ctx context.Context) domain.UserID {
	if id, ok := ctx.Value(ctxKeyUserID).(domain.UserID); ok {
		return id
	}
	return 0
}
