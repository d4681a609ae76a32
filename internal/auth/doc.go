// Package auth resolves the actor behind a request.
//
// Actors authenticate with HS256 JWTs signed with the configured jwt_secret.
// The "sub" claim is the actor ID and the optional "name" claim is the
// display name shown to other participants.
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate(auth.Actor{ID: "u1", Name: "Ada"}, 24*time.Hour)
//
// HTTPAuthMiddleware reads the token from "Authorization: Bearer <token>",
// or from the "token" query parameter for WebSocket clients that cannot set
// headers, and stores the Actor in the request context:
//
//	actor := auth.FromContext(r.Context())
//
// Requests without a valid token get 401 before any handler runs.
package auth
