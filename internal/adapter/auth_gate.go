package adapter

import (
	"fmt"
	"net/http"

	"github.com/knirvcorp/syncbase/internal/auth"
)

// bearerClaims extracts and validates the "Bearer <jwt>" Authorization
// header, the same parsing auth.AuthMiddleware.Authenticate does for
// the node's admin endpoints — repeated here rather than wrapping
// WSServer/SSEServer in that middleware directly, since both need to
// reject before the protocol-specific upgrade/stream setup runs, not
// after it via a wrapped next.ServeHTTP.
func bearerClaims(r *http.Request, tokens *auth.TokenManager) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || header[:7] != "Bearer " {
		return nil, fmt.Errorf("missing or malformed authorization header")
	}
	claims, err := tokens.ValidateToken(header[7:])
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}
