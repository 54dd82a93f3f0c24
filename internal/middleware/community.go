package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/forgo/queuedesk/internal/model"
)

// CommunityIDKey is the context key for the community in the request path
const CommunityIDKey contextKey = "communityID"

// GetCommunityID extracts the community ID from context
func GetCommunityID(ctx context.Context) string {
	if id, ok := ctx.Value(CommunityIDKey).(string); ok {
		return id
	}
	return ""
}

// CommunityAccess refuses requests under /communities/{id} whose token is
// scoped to other communities. Routes without a community segment pass
// through; their handlers check the community of the resource they load.
func CommunityAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		communityID, ok := extractCommunityID(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if communityID == "" {
			model.NewBadRequestError("invalid community ID").WriteJSON(w)
			return
		}
		if GetClaims(r.Context()) == nil {
			model.NewUnauthorizedError("authentication required").WriteJSON(w)
			return
		}
		if !CanAccessCommunity(r.Context(), communityID) {
			model.NewForbiddenError("token is not scoped to this community").WriteJSON(w)
			return
		}

		noteCommunity(r.Context(), communityID)
		ctx := context.WithValue(r.Context(), CommunityIDKey, communityID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestScope names the community a request acts in: the community in
// the path, or the only community a single-community token allows. It is
// empty for ticket routes called with a token valid in several communities.
// Rate limits and stored command replies are kept apart per scope.
func RequestScope(ctx context.Context) string {
	if id := GetCommunityID(ctx); id != "" {
		return id
	}
	if claims := GetClaims(ctx); claims != nil && len(claims.Communities) == 1 {
		return claims.Communities[0]
	}
	return ""
}

// extractCommunityID finds the segment after "communities". The bool is
// false when the path has no communities segment at all.
// Expected formats:
// - /v1/communities/{communityId}/tickets
// - /v1/communities/{communityId}/staff/{userId}/duty
func extractCommunityID(path string) (string, bool) {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "communities" {
			if i+1 < len(parts) {
				return parts[i+1], true
			}
			return "", true
		}
	}
	return "", false
}
