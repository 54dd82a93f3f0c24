// Package helpers provides HTTP test utilities for queuedesk.
//
// # JWT Helpers
//
// Mint tokens against an in-memory key pair:
//
//	jh := helpers.NewJWTHelper(t)
//	token := jh.UserToken(t, "u1", "901")  // scoped to community 901
//	adapter := jh.AdapterToken(t, "bot")
//	mw := middleware.Auth(jh.Validator())
//
// # Request Builder
//
//	rec := helpers.NewRequest(t, http.MethodPost, "/v1/communities/901/tickets").
//		WithAuth(adapter).
//		WithActor("u1").
//		Do(handler)
//
// # Assertion Helpers
//
//	helpers.AssertStatus(t, rec, http.StatusCreated)
//	helpers.AssertProblemDetails(t, rec, http.StatusConflict, model.ErrCodeDuplicateTicket)
//	out := helpers.DecodeOutcome(t, rec)
package helpers
