// Package auth issues and verifies the JWT bearer tokens the websocket
// and SSE adapters check in a connection's Authorization header (the
// establish-request message itself carries the channel's own session
// token, not a JWT), and provides HTTP middleware for
// the node's own admin/metrics endpoints — grounded on
// internal/auth/auth.go kept structurally identical, with Claims
// repurposed from a wallet-holder identity to a peer identity and
// Permission imported from internal/permission instead of redefined,
// so a single Permission vocabulary governs both the reducer's
// predicate rules and the tokens that populate a Context's
// Permissions map.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/knirvcorp/syncbase/internal/permission"
)

// Claims identifies a peer and the permissions it was granted at
// token-issue time. Type distinguishes a human-operated peer from a
// service/storage-kind channel, mirroring the distinction
// internal/channel's wire protocol never needs but an operator's admin
// API does.
type Claims struct {
	PeerId      string                  `json:"peer_id"`
	Name        string                  `json:"name"`
	Type        string                  `json:"type"`
	Permissions []permission.Permission `json:"permissions"`
	jwt.RegisteredClaims
}

type TokenManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

func NewTokenManager(secretKey string) *TokenManager {
	return &TokenManager{
		secretKey:     []byte(secretKey),
		tokenDuration: 1 * time.Hour,
	}
}

// GenerateToken creates a new JWT token identifying peerID.
func (tm *TokenManager) GenerateToken(
	peerID, name string,
	permissions []permission.Permission,
) (string, error) {
	claims := Claims{
		PeerId:      peerID,
		Name:        name,
		Type:        "peer",
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tm.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

// ValidateToken verifies and parses a JWT token
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return tm.secretKey, nil
		},
	)

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// RefreshToken generates a new token with extended expiration
func (tm *TokenManager) RefreshToken(oldToken string) (string, error) {
	claims, err := tm.ValidateToken(oldToken)
	if err != nil {
		return "", err
	}

	return tm.GenerateToken(claims.PeerId, claims.Name, claims.Permissions)
}

// HasPermission checks if claims contain required permission
func (c *Claims) HasPermission(required permission.Permission) bool {
	for _, p := range c.Permissions {
		if p == required || p == permission.PermissionAdmin {
			return true
		}
	}
	return false
}

// PermissionMap converts Claims.Permissions into the map shape
// permission.Context.Permissions expects, for wiring a channel's
// validated token straight into the reducer's permission checks.
func (c *Claims) PermissionMap() map[permission.Permission]bool {
	out := make(map[permission.Permission]bool, len(c.Permissions))
	for _, p := range c.Permissions {
		out[p] = true
	}
	return out
}

// Middleware for HTTP authentication
type AuthMiddleware struct {
	tokenManager *TokenManager
}

func NewAuthMiddleware(tokenManager *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokenManager: tokenManager}
}

type contextKey string

const claimsKey contextKey = "claims"

func (am *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)
			return
		}

		tokenString := authHeader[7:]
		claims, err := am.tokenManager.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}
