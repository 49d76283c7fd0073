package tokens

import (
	"context"
	"errors"
	"strings"
	"sync"

	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/storage"
	"go.uber.org/multierr"
)

const (
	AccessTokenKey  = "@auth_token"
	RefreshTokenKey = "@refresh_token"
)

// Pair is the bearer credential pair issued by login and refresh.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Valid reports whether both tokens are present.
func (p Pair) Valid() bool {
	return strings.TrimSpace(p.AccessToken) != "" && strings.TrimSpace(p.RefreshToken) != ""
}

// Store persists the token pair. A pair is either fully present or fully absent.
// Reads and writes of the pair are serialized within the process.
type Store struct {
	mu sync.Mutex
	kv storage.KV
}

func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv}
}

// Load returns the persisted pair. A partially persisted pair is cleared and reported as empty.
func (s *Store) Load(ctx context.Context) (Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) (Pair, error) {
	access, err := s.get(ctx, AccessTokenKey)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.get(ctx, RefreshTokenKey)
	if err != nil {
		return Pair{}, err
	}
	pair := Pair{AccessToken: access, RefreshToken: refresh}
	if pair.Valid() {
		return pair, nil
	}
	if access != "" || refresh != "" {
		if err := s.clear(ctx); err != nil {
			return Pair{}, err
		}
	}
	return Pair{}, nil
}

// AccessToken returns the current access token, or "" when no valid pair is stored.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	pair, err := s.Load(ctx)
	return pair.AccessToken, err
}

// RefreshToken returns the current refresh token, or "" when no valid pair is stored.
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	pair, err := s.Load(ctx)
	return pair.RefreshToken, err
}

// Save persists both tokens. Partial pairs are rejected.
func (s *Store) Save(ctx context.Context, pair Pair) error {
	if !pair.Valid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "token pair requires both access and refresh tokens")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if multi, ok := s.kv.(storage.MultiSetter); ok {
		if err := multi.SetMany(ctx, map[string]string{
			AccessTokenKey:  pair.AccessToken,
			RefreshTokenKey: pair.RefreshToken,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "persist tokens")
		}
		return nil
	}

	if err := s.kv.Set(ctx, RefreshTokenKey, pair.RefreshToken); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "persist refresh token")
	}
	if err := s.kv.Set(ctx, AccessTokenKey, pair.AccessToken); err != nil {
		// the refresh token alone would be a partial pair
		rollbackErr := s.kv.Remove(ctx, AccessTokenKey, RefreshTokenKey)
		return pkgerrors.Wrap(pkgerrors.CodeStorage, multierr.Append(err, rollbackErr), "persist access token")
	}
	return nil
}

// Clear removes both tokens.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clear(ctx)
}

func (s *Store) clear(ctx context.Context) error {
	err := multierr.Combine(
		s.kv.Remove(ctx, AccessTokenKey),
		s.kv.Remove(ctx, RefreshTokenKey),
	)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "clear tokens")
	}
	return nil
}

// HasValidTokens reports whether a complete pair is persisted.
func (s *Store) HasValidTokens(ctx context.Context) bool {
	pair, err := s.Load(ctx)
	return err == nil && pair.Valid()
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	val, err := s.kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeStorage, err, "read "+key)
	}
	return val, nil
}
