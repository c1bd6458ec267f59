package httpapi

import (
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/identity"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type authResponse struct {
	User userResponse `json:"user"`
	tokenResponse
	State string `json:"state,omitempty"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type startResponse struct {
	URL          string `json:"url"`
	CodeVerifier string `json:"code_verifier,omitempty"`
}

func newUserResponse(ident *identity.Identity) userResponse {
	return userResponse{
		ID:        ident.ID.String(),
		Email:     ident.Email,
		Role:      ident.Role,
		CreatedAt: ident.CreatedAt.UTC(),
	}
}

func newTokenResponse(pair authcore.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	}
}

func newAuthResponse(res *authcore.AuthResult) authResponse {
	return authResponse{
		User:          newUserResponse(res.Identity),
		tokenResponse: newTokenResponse(res.TokenPair),
		State:         res.ClientState,
	}
}
