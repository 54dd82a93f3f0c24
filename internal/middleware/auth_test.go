package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/forgo/queuedesk/pkg/jwt"
)

// ============================================================================
// Test Helpers
// ============================================================================

type mockValidator struct {
	ValidateFunc func(token string) (*jwt.Claims, error)
}

func (m *mockValidator) Validate(token string) (*jwt.Claims, error) {
	return m.ValidateFunc(token)
}

func validatorFor(claims *jwt.Claims) *mockValidator {
	return &mockValidator{
		ValidateFunc: func(token string) (*jwt.Claims, error) {
			if token != "good" {
				return nil, jwt.ErrInvalidToken
			}
			return claims, nil
		},
	}
}

func userClaims(subject string, communities ...string) *jwt.Claims {
	return &jwt.Claims{
		Role:             jwt.RoleUser,
		Communities:      communities,
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: subject},
	}
}

func adapterClaims(communities ...string) *jwt.Claims {
	c := userClaims("bridge", communities...)
	c.Role = jwt.RoleAdapter
	return c
}

// runAuth sends one request through Auth and returns the recorder and the
// actor the handler saw
func runAuth(t *testing.T, v TokenValidator, header, actor string) (*httptest.ResponseRecorder, string) {
	t.Helper()

	var seen string
	handler := Auth(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetActorID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tickets/t1", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, seen
}

// ============================================================================
// Auth Tests
// ============================================================================

func TestAuth_RejectsBadCredentials(t *testing.T) {
	t.Parallel()
	v := validatorFor(userClaims("u1"))

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"no bearer prefix", "good"},
		{"basic scheme", "Basic Z29vZA=="},
		{"invalid token", "Bearer bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := runAuth(t, v, tt.header, "")
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rr.Code)
			}
		})
	}
}

func TestAuth_ExpiredToken_ReturnsUnauthorized(t *testing.T) {
	t.Parallel()
	v := &mockValidator{ValidateFunc: func(string) (*jwt.Claims, error) {
		return nil, jwt.ErrTokenExpired
	}}

	rr, _ := runAuth(t, v, "Bearer good", "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestAuth_EmptySubject_ReturnsUnauthorized(t *testing.T) {
	t.Parallel()
	rr, _ := runAuth(t, validatorFor(userClaims("")), "Bearer good", "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestAuth_UserToken_ActsAsSubject(t *testing.T) {
	t.Parallel()
	rr, actor := runAuth(t, validatorFor(userClaims("u1")), "Bearer good", "")
	if rr.Code != http.StatusOK || actor != "u1" {
		t.Errorf("expected u1 with 200, got %q with %d", actor, rr.Code)
	}

	rr, actor = runAuth(t, validatorFor(userClaims("u1")), "bearer good", "u1")
	if rr.Code != http.StatusOK || actor != "u1" {
		t.Errorf("naming yourself should pass, got %q with %d", actor, rr.Code)
	}
}

func TestAuth_UserToken_CannotImpersonate(t *testing.T) {
	t.Parallel()
	rr, actor := runAuth(t, validatorFor(userClaims("u1")), "Bearer good", "u2")
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
	if actor != "" {
		t.Error("handler must not run")
	}
}

func TestAuth_AdapterToken_ActsForNamedUser(t *testing.T) {
	t.Parallel()
	rr, actor := runAuth(t, validatorFor(adapterClaims()), "Bearer good", "discord-user-7")
	if rr.Code != http.StatusOK || actor != "discord-user-7" {
		t.Errorf("expected discord-user-7 with 200, got %q with %d", actor, rr.Code)
	}

	_, actor = runAuth(t, validatorFor(adapterClaims()), "Bearer good", "")
	if actor != "bridge" {
		t.Errorf("adapter without header acts as itself, got %q", actor)
	}
}

func TestAuth_StoresClaims(t *testing.T) {
	t.Parallel()
	claims := adapterClaims("g1")

	var got *jwt.Claims
	handler := Auth(validatorFor(claims))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetClaims(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != claims {
		t.Errorf("expected claims in context")
	}
}

func TestContextGetters_Empty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if GetActorID(ctx) != "" || GetClaims(ctx) != nil || GetCommunityID(ctx) != "" {
		t.Error("expected empty values on a bare context")
	}
	if CanAccessCommunity(ctx, "g1") {
		t.Error("no claims means no access")
	}
}
