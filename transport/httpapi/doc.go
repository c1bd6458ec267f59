// Package httpapi serves authcore.Engine as a JSON API over net/http.
//
// Routes:
//
//	POST /auth/register          {email, password}      201 auth body
//	POST /auth/login             {email, password}      200 auth body
//	POST /auth/refresh           {refresh_token}        200 token body
//	POST /auth/logout            {refresh_token}        204
//	GET  /auth/google/start      ?state&code_challenge  200 {url}
//	GET  /auth/google/callback   ?code&state            200 auth body
//	GET  /auth/me                Bearer                 200 {user}
//	GET  /healthz                                       200
//
// Errors are written as {"error": {"code": ..., "message": ...}} with the
// status taken from authcore.Kind.
package httpapi
