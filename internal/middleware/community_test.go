package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/forgo/queuedesk/pkg/jwt"
)

func withClaims(r *http.Request, claims *jwt.Claims) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ClaimsKey, claims))
}

func TestCommunityAccess(t *testing.T) {
	t.Parallel()

	var seen string
	handler := CommunityAccess(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCommunityID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		path       string
		claims     *jwt.Claims
		wantStatus int
		wantSeen   string
	}{
		{"unscoped token", "/v1/communities/g1/queue", userClaims("u1"), http.StatusOK, "g1"},
		{"scoped to community", "/v1/communities/g1/tickets", adapterClaims("g1"), http.StatusOK, "g1"},
		{"scoped elsewhere", "/v1/communities/g2/tickets", adapterClaims("g1"), http.StatusForbidden, ""},
		{"no claims", "/v1/communities/g1/queue", nil, http.StatusUnauthorized, ""},
		{"empty segment", "/v1/communities//queue", userClaims("u1"), http.StatusBadRequest, ""},
		{"ticket route passes", "/v1/tickets/t1", adapterClaims("g1"), http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.claims != nil {
				req = withClaims(req, tt.claims)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
			if seen != tt.wantSeen {
				t.Errorf("community in context = %q, want %q", seen, tt.wantSeen)
			}
		})
	}
}

func TestExtractCommunityID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path   string
		wantID string
		wantOK bool
	}{
		{"/v1/communities/g1", "g1", true},
		{"/v1/communities/g1/staff/u1/duty", "g1", true},
		{"/v1/communities", "", true},
		{"/v1/tickets/t1/claim", "", false},
		{"/health", "", false},
	}

	for _, tt := range tests {
		id, ok := extractCommunityID(tt.path)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("extractCommunityID(%q) = %q, %v; want %q, %v", tt.path, id, ok, tt.wantID, tt.wantOK)
		}
	}
}
