/*
identity.go - Caller identity resolution

Authentication itself lives elsewhere; this middleware only verifies the
bearer token the auth service issued and exposes the caller's account ID
and role to handlers. Role checks stay in the route wiring so a handler
body never has to re-ask who is calling.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/mealrescue/points-engine/ledger"
)

// Role is the caller's position in the marketplace.
type Role string

const (
	RoleCustomer Role = "customer"
	RolePartner  Role = "partner"
	RoleAdmin    Role = "admin"
)

// Identity is the verified caller.
type Identity struct {
	AccountID ledger.AccountID
	Role      Role
}

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

type contextKey string

const identityKey contextKey = "identity"

// IssueToken signs an identity token. Used by the account bootstrap
// endpoint and by tests; production callers arrive with tokens from the
// auth service.
func IssueToken(secret string, accountID ledger.AccountID, role Role, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(accountID),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Role: role,
	})
	return token.SignedString([]byte(secret))
}

// Authenticator verifies the bearer token and stores the Identity in the
// request context. Requests without a valid token get 401.
func Authenticator(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims := &Claims{}
			_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims,
				func(t *jwt.Token) (any, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
					}
					return []byte(secret), nil
				})
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			id := Identity{AccountID: ledger.AccountID(claims.Subject), Role: claims.Role}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
		})
	}
}

// RequireRole rejects callers whose role is not in the allowed set.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identityFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing identity")
				return
			}
			if !allowed[id.Role] {
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func identityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
