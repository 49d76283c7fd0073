package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/angelmondragon/packfinderz-storefront/internal/apiclient"
	"github.com/angelmondragon/packfinderz-storefront/internal/auth"
	"github.com/angelmondragon/packfinderz-storefront/internal/cart"
	product "github.com/angelmondragon/packfinderz-storefront/internal/products"
	"github.com/angelmondragon/packfinderz-storefront/internal/tokens"
	"github.com/angelmondragon/packfinderz-storefront/pkg/config"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
	"github.com/angelmondragon/packfinderz-storefront/pkg/metrics"
	"github.com/angelmondragon/packfinderz-storefront/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

type app struct {
	logg     *logger.Logger
	registry *prometheus.Registry
	storage  io.Closer
	state    *auth.State
	client   *apiclient.Client
	auth     auth.Service
	products product.Service
	cart     *cart.Store
}

func newApp(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*app, error) {
	kv, closer, err := storage.Open(ctx, cfg.Storage, cfg.Redis, logg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	clientMetrics := metrics.NewClientMetrics(registry)
	tokenStore := tokens.NewStore(kv)
	state := auth.NewState()
	state.Subscribe(func() {
		logg.Info(ctx, "session ended, signed out")
	})

	params := apiclient.Params{
		BaseURL:        cfg.API.BaseURL,
		Timeout:        cfg.API.Timeout,
		TokenExpiresIn: cfg.API.TokenExpiryHint(),
		Tokens:         tokenStore,
		OnUnauthorized: func(context.Context) { state.Logout() },
		Tracing:        cfg.API.Tracing,
		Logger:         logg,
		Metrics:        clientMetrics,
	}
	if cfg.API.Debug {
		params.Hooks = apiclient.LoggingHooks(logg)
	}
	client, err := apiclient.New(params)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("build api client: %w", err), closer.Close())
	}

	authService, err := auth.NewService(auth.ServiceParams{
		Client: client,
		Tokens: tokenStore,
		State:  state,
		Logger: logg,
	})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("build auth service: %w", err), closer.Close())
	}

	productService, err := product.NewService(client, logg)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("build product service: %w", err), closer.Close())
	}

	cartStore := cart.New(cart.Params{
		Storage:        kv,
		PersistKey:     cfg.Cart.PersistKey,
		PersistTimeout: cfg.Cart.PersistTimeout,
		RecentLimit:    cfg.Cart.RecentLimit,
		Logger:         logg,
		Metrics:        clientMetrics,
	})

	a := &app{
		logg:     logg,
		registry: registry,
		storage:  closer,
		state:    state,
		client:   client,
		auth:     authService,
		products: productService,
		cart:     cartStore,
	}

	if _, _, err := authService.Restore(ctx); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "could not restore session")
	}
	if err := cartStore.Load(ctx); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "could not restore cart, starting empty")
	}
	return a, nil
}

// close flushes the cart before releasing storage.
func (a *app) close(ctx context.Context) error {
	err := a.cart.Close(ctx)
	return multierr.Append(err, a.storage.Close())
}

// writeMetrics prints every gathered sample as "name{labels} value".
func (a *app) writeMetrics(w io.Writer) error {
	families, err := a.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := ""
			pairs := m.GetLabel()
			sort.Slice(pairs, func(i, j int) bool { return pairs[i].GetName() < pairs[j].GetName() })
			for i, lp := range pairs {
				if i > 0 {
					labels += ","
				}
				labels += fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue())
			}
			if labels != "" {
				labels = "{" + labels + "}"
			}
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			}
			fmt.Fprintf(w, "%s%s %g\n", mf.GetName(), labels, value)
		}
	}
	return nil
}
