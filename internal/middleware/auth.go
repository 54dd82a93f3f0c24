package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/forgo/queuedesk/internal/model"
	"github.com/forgo/queuedesk/pkg/jwt"
)

// ActorHeader names the platform user an adapter token acts for
const ActorHeader = "X-Actor-ID"

// TokenValidator validates bearer tokens
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// Auth returns a middleware that validates bearer tokens and resolves the
// acting user. Adapter tokens act for the user named in X-Actor-ID (or
// their own subject when the header is absent); every other token acts as
// its subject and may not name anyone else.
func Auth(validator TokenValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				model.NewUnauthorizedError("missing authorization header").WriteJSON(w)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				model.NewUnauthorizedError("invalid authorization header format").WriteJSON(w)
				return
			}

			claims, err := validator.Validate(parts[1])
			if err != nil {
				switch {
				case errors.Is(err, jwt.ErrTokenExpired):
					model.NewUnauthorizedError("token expired").WriteJSON(w)
				case errors.Is(err, jwt.ErrInvalidSignature):
					model.NewUnauthorizedError("invalid token signature").WriteJSON(w)
				default:
					model.NewUnauthorizedError("invalid token").WriteJSON(w)
				}
				return
			}
			if claims.Subject == "" {
				model.NewUnauthorizedError("token has no subject").WriteJSON(w)
				return
			}

			actorID, ok := resolveActor(claims, strings.TrimSpace(r.Header.Get(ActorHeader)))
			if !ok {
				model.NewForbiddenError("token may not act for another user").WriteJSON(w)
				return
			}

			noteActor(r.Context(), actorID)
			ctx := context.WithValue(r.Context(), ActorIDKey, actorID)
			ctx = context.WithValue(ctx, ClaimsKey, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveActor(claims *jwt.Claims, header string) (string, bool) {
	if header == "" || header == claims.Subject {
		return claims.Subject, true
	}
	if claims.IsAdapter() {
		return header, true
	}
	return "", false
}

// GetActorID extracts the acting user from context
func GetActorID(ctx context.Context) string {
	if id, ok := ctx.Value(ActorIDKey).(string); ok {
		return id
	}
	return ""
}

// GetClaims extracts the JWT claims from context
func GetClaims(ctx context.Context) *jwt.Claims {
	if claims, ok := ctx.Value(ClaimsKey).(*jwt.Claims); ok {
		return claims
	}
	return nil
}

// CanAccessCommunity reports whether the caller's token is scoped to
// communityID. Requests without claims are refused.
func CanAccessCommunity(ctx context.Context, communityID string) bool {
	claims := GetClaims(ctx)
	return claims != nil && claims.AllowsCommunity(communityID)
}
