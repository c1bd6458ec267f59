// Package authcore is the authentication and session core of a client-facing
// backend: password and Google sign-in, short-lived HS256 access tokens, and
// rotating refresh sessions guarded by a brute-force lockout.
//
// The public surface is [Engine], assembled with [Builder]:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithIdentityStore(postgres.NewIdentityStore(pool)).
//		Build()
//
// Engine methods are safe to call from multiple goroutines.
//
// # Errors
//
// Every error returned by Engine belongs to one class reported by [Kind]:
// validation, unauthenticated, conflict, service unavailable, or internal.
// Unauthenticated errors carry the same message whatever the cause, so a
// caller cannot tell an unknown email from a wrong password, an expired
// session, or an active lockout.
//
// # Keys
//
// JWTConfig.Secret is a root secret. Access-token signing, refresh-secret
// hashing and OAuth state signing each use their own HKDF-derived key.
package authcore
