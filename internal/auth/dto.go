package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest captures the user credentials sent to the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// LoginResponse contains the persisted pair and the user decoded from the access token.
type LoginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

// User is the signed-in account as described by the access token claims.
type User struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
}

// accessTokenClaims are the claims the backend embeds in access tokens. The
// signature is verified by the backend, never by the client.
type accessTokenClaims struct {
	UserID string `json:"user_id,omitempty"`
	ID     string `json:"id,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func userFromAccessToken(raw string) (User, error) {
	var claims accessTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return User{}, err
	}
	id := firstNonEmpty(claims.UserID, claims.ID, claims.Subject)
	return User{ID: id, Email: claims.Email}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
