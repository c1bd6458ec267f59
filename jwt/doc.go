// Package jwt mints and validates HS256 access tokens.
//
// Tokens carry sub, email, role, iss, aud, iat, exp and jti. Validation is
// pure: signature, expiry, and exact issuer/audience equality, no I/O.
// Key rotation is supported through a kid-indexed set of verify keys.
package jwt
