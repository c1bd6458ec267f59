package authcore

import (
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/oauth"
)

// TokenTypeBearer is the token_type reported with every access token.
const TokenTypeBearer = "Bearer"

// TokenPair is a fresh access token and refresh token. ExpiresIn is the
// access-token lifetime in seconds.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

// AuthResult is returned by every operation that establishes a session.
type AuthResult struct {
	Identity *identity.Identity
	TokenPair
	// ClientState echoes the opaque value passed to StartFederatedLogin.
	ClientState string
}

type (
	// FederatedStartRequest is the input to StartFederatedLogin.
	FederatedStartRequest = oauth.StartRequest
	// FederatedStartResult carries the provider URL and signed state.
	FederatedStartResult = oauth.StartResult
	// FederatedCallback is the provider redirect presented to CompleteFederatedLogin.
	FederatedCallback = oauth.CallbackRequest
)
