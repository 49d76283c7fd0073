package apiclient

import (
	"context"
	"net/http"
	"sync"

	"github.com/angelmondragon/packfinderz-storefront/internal/tokens"
	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	loginPath   = "/api/auth/login"
	refreshPath = "/api/auth/refresh-token"
	refreshKey  = "refresh"
)

// State is the refresh state machine of a Client.
type State int

const (
	Idle State = iota
	RefreshInFlight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RefreshInFlight:
		return "refresh_in_flight"
	default:
		return "unknown"
	}
}

// refresher serializes token refreshes. Every caller that arrives while an exchange is
// running joins it and receives the same outcome; the failure cascade runs once per exchange.
type refresher struct {
	client *Client
	group  singleflight.Group

	mu        sync.Mutex
	state     State
	waiters   int
	attempted bool
}

func newRefresher(c *Client) *refresher {
	return &refresher{client: c}
}

func (r *refresher) current() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// handleUnauthorized handles a 401 for a request sent with staleAccess. It returns the pair to replay with.
func (r *refresher) handleUnauthorized(ctx context.Context, staleAccess string, trigger error) (tokens.Pair, error) {
	return r.do(ctx, func(ctx context.Context) (tokens.Pair, error) {
		current, err := r.client.tokens.Load(ctx)
		if err != nil {
			return tokens.Pair{}, r.fail(ctx, err)
		}
		switch {
		case current.Valid() && current.AccessToken != staleAccess:
			// rotated by an exchange that settled after this request was sent
			return current, nil
		case !current.Valid() && staleAccess != "":
			// the session this request belonged to has already been torn down
			return tokens.Pair{}, pkgerrors.Wrap(pkgerrors.CodeSessionExpired, trigger, "session ended")
		}
		return r.exchange(ctx, current.RefreshToken)
	})
}

// force runs an exchange unconditionally, joining one that is already in flight.
func (r *refresher) force(ctx context.Context) (tokens.Pair, error) {
	return r.do(ctx, func(ctx context.Context) (tokens.Pair, error) {
		current, err := r.client.tokens.Load(ctx)
		if err != nil {
			return tokens.Pair{}, r.fail(ctx, err)
		}
		return r.exchange(ctx, current.RefreshToken)
	})
}

// do runs fn as the single flight or joins the one already running. Joining a
// flight and settling it both happen under r.mu.
func (r *refresher) do(ctx context.Context, fn func(context.Context) (tokens.Pair, error)) (tokens.Pair, error) {
	// the exchange outlives any single caller's cancellation
	detached := context.WithoutCancel(ctx)

	r.mu.Lock()
	if r.state == RefreshInFlight {
		r.waiters++
	} else {
		r.state = RefreshInFlight
		r.waiters = 0
		r.attempted = false
	}
	ch := r.group.DoChan(refreshKey, func() (any, error) {
		pair, err := fn(detached)
		r.end(err)
		return pair, err
	})
	r.mu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			return tokens.Pair{}, res.Err
		}
		return res.Val.(tokens.Pair), nil
	case <-ctx.Done():
		return tokens.Pair{}, ctx.Err()
	}
}

// end settles the running flight. Callers arriving afterwards start a new one.
func (r *refresher) end(err error) {
	r.mu.Lock()
	waiters := r.waiters
	attempted := r.attempted
	r.state = Idle
	r.waiters = 0
	r.attempted = false
	r.group.Forget(refreshKey)
	r.mu.Unlock()

	if !attempted {
		return
	}
	outcome := metrics.RefreshSuccess
	if err != nil {
		outcome = metrics.RefreshFailure
	}
	r.client.metrics.ObserveRefresh(outcome, waiters)
}

// exchange trades refreshToken for a new pair. Runs inside the single flight.
func (r *refresher) exchange(ctx context.Context, refreshToken string) (tokens.Pair, error) {
	r.mu.Lock()
	r.attempted = true
	r.mu.Unlock()

	if refreshToken == "" {
		return tokens.Pair{}, r.fail(ctx, pkgerrors.New(pkgerrors.CodeUnauthorized, "no refresh token available"))
	}

	c := r.client
	req := Request{
		Method:   http.MethodPost,
		Path:     refreshPath,
		SkipAuth: true,
		Body: refreshRequest{
			RefreshToken:   refreshToken,
			TokenExpiresIn: c.expiryHint,
		},
	}
	body, err := encodeBody(req)
	if err != nil {
		return tokens.Pair{}, r.fail(ctx, err)
	}
	resp, err := c.send(ctx, req, body, "")
	if err != nil {
		return tokens.Pair{}, r.fail(ctx, err)
	}

	next, err := decodePair(resp)
	if err != nil {
		return tokens.Pair{}, r.fail(ctx, err)
	}
	if err := c.tokens.Save(ctx, next); err != nil {
		return tokens.Pair{}, r.fail(ctx, err)
	}
	c.logg.Debug(ctx, "access token refreshed")
	return next, nil
}

// fail clears the session, notifies the logout sink and returns the error handed to every waiter.
func (r *refresher) fail(ctx context.Context, cause error) error {
	c := r.client
	if err := c.tokens.Clear(ctx); err != nil {
		c.logg.Error(ctx, "failed to clear tokens after refresh failure", err)
	}
	c.logg.Warn(ctx, "token refresh failed, logging out")
	c.onUnauthorized(ctx)
	return pkgerrors.Wrap(pkgerrors.CodeSessionExpired, cause, "token refresh failed")
}

// RefreshToken performs a refresh exchange through the same single flight as the
// automatic path and reports whether a new pair was stored.
func (c *Client) RefreshToken(ctx context.Context) bool {
	_, err := c.refresher.force(ctx)
	return err == nil
}

// Login exchanges credentials for a token pair and persists it.
func (c *Client) Login(ctx context.Context, email, password string) (tokens.Pair, error) {
	req := Request{
		Method:   http.MethodPost,
		Path:     loginPath,
		SkipAuth: true,
		Body:     loginRequest{Email: email, Password: password},
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return tokens.Pair{}, err
	}
	pair, err := decodePair(resp)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeUpstream {
			return tokens.Pair{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, typed.Message())
		}
		return tokens.Pair{}, err
	}
	if err := c.tokens.Save(ctx, pair); err != nil {
		return tokens.Pair{}, err
	}
	return pair, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken   string `json:"refreshToken"`
	TokenExpiresIn string `json:"token_expires_in,omitempty"`
}

func decodePair(resp *Response) (tokens.Pair, error) {
	var pair tokens.Pair
	if err := resp.DecodeData(&pair); err != nil {
		return tokens.Pair{}, err
	}
	if !pair.Valid() {
		return tokens.Pair{}, pkgerrors.New(pkgerrors.CodeDecode, "response is missing the token pair")
	}
	return pair, nil
}
