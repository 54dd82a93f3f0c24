// Package jwt issues and validates the RS256 service tokens that guard the
// queuedesk HTTP API.
//
// Tokens are signed with a private key held by the token CLI and validated
// by the server with the matching public key:
//
//	svc, err := jwt.NewService(jwt.Config{
//	    PublicKeyPath: "./keys/public.pem",
//	    Issuer:        "queuedesk",
//	})
//	claims, err := svc.Validate(tokenString)
//
// # Claims
//
// The subject is the platform user the token acts as. A token with role
// "adapter" belongs to a chat-platform bridge and may act for any user it
// names in the X-Actor-ID header. The optional communities claim limits
// the token to the listed communities.
package jwt
