package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/packfinderz-storefront/internal/tokens"
	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
	"github.com/angelmondragon/packfinderz-storefront/pkg/validate"
)

// Service signs users in and out and restores sessions from persisted tokens.
type Service interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	Logout(ctx context.Context) error
	Restore(ctx context.Context) (User, bool, error)
}

type service struct {
	client apiClient
	tokens tokenStore
	state  *State
	logg   *logger.Logger
}

type apiClient interface {
	Login(ctx context.Context, email, password string) (tokens.Pair, error)
	ClearTokens(ctx context.Context) error
}

type tokenStore interface {
	Load(ctx context.Context) (tokens.Pair, error)
}

// ServiceParams bundles the dependencies required to build an auth service.
type ServiceParams struct {
	Client apiClient
	Tokens tokenStore
	State  *State
	Logger *logger.Logger
}

// NewService constructs an auth service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("api client is required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if params.State == nil {
		return nil, fmt.Errorf("auth state is required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		client: params.Client,
		tokens: params.Tokens,
		state:  params.State,
		logg:   logg,
	}, nil
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	req.Email = strings.ToLower(validate.SanitizeString(req.Email, 254))
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	pair, err := s.client.Login(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	user := s.userFor(ctx, pair.AccessToken)
	if user.Email == "" {
		user.Email = req.Email
	}
	s.state.MarkAuthenticated(user)
	s.logg.Info(s.logg.WithField(ctx, "user_id", user.ID), "signed in")

	return &LoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         user,
	}, nil
}

// Logout clears the persisted tokens and resets the auth state even when clearing fails.
func (s *service) Logout(ctx context.Context) error {
	err := s.client.ClearTokens(ctx)
	s.state.Logout()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "clear tokens")
	}
	return nil
}

// Restore marks the state authenticated when a complete token pair is persisted.
func (s *service) Restore(ctx context.Context) (User, bool, error) {
	pair, err := s.tokens.Load(ctx)
	if err != nil {
		return User{}, false, err
	}
	if !pair.Valid() {
		return User{}, false, nil
	}
	user := s.userFor(ctx, pair.AccessToken)
	s.state.MarkAuthenticated(user)
	return user, true, nil
}

func (s *service) userFor(ctx context.Context, accessToken string) User {
	user, err := userFromAccessToken(accessToken)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "access token claims unreadable")
		return User{}
	}
	return user
}
