// Package middleware provides HTTP middleware for the queuedesk API.
//
// The stack applied by the server, outermost first:
//
//   - RequestID: assigns or propagates X-Request-ID
//   - Logger: one access line per request, with actor and community
//   - Recovery: turns panics into a problem document
//   - CORS
//   - Compress: gzip, skipped for the instruction stream
//   - Auth: validates the bearer token and resolves the acting user
//   - CommunityAccess: refuses communities outside the token's scope
//   - RateLimit: token bucket per community and acting user
//   - Idempotency: replays commands sent again with the same Idempotency-Key
//     in the same community
//
// # Acting user
//
// Adapter tokens speak for the platform user named in X-Actor-ID. Handlers
// read the result with GetActorID and never look at the header themselves.
package middleware
