// Package oauth implements the relying-party side of an OAuth2 authorization
// code login against Google, with PKCE and a stateless signed state.
//
// # Handshake
//
//  1. [Flow.Start] mints a state token (HMAC over timestamp, nonce and an
//     optional caller value) and returns the provider authorization URL.
//  2. [Flow.Complete] verifies the state tag and its 10 minute window,
//     exchanges the code through golang.org/x/oauth2, and asks the provider's
//     tokeninfo endpoint who the access token belongs to. The token must be
//     for our client id, unexpired, and carry a verified email.
//  3. [Upsert] maps the external identity onto a local one.
//
// Provider network calls use a 5s connect and 10s total timeout.
package oauth
