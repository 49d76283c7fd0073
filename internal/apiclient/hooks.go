package apiclient

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
)

// Hooks observe the request/response lifecycle. They never influence control flow.
type Hooks struct {
	OnRequest  func(ctx context.Context, req *http.Request)
	OnResponse func(ctx context.Context, req *http.Request, res *http.Response, elapsed time.Duration, err error)
}

func (h Hooks) request(ctx context.Context, req *http.Request) {
	if h.OnRequest != nil {
		h.OnRequest(ctx, req)
	}
}

func (h Hooks) response(ctx context.Context, req *http.Request, res *http.Response, elapsed time.Duration, err error) {
	if h.OnResponse != nil {
		h.OnResponse(ctx, req, res, elapsed, err)
	}
}

// LoggingHooks logs every request and response at debug level.
func LoggingHooks(logg *logger.Logger) Hooks {
	return Hooks{
		OnRequest: func(ctx context.Context, req *http.Request) {
			ctx = logg.WithFields(ctx, map[string]any{
				"method":        req.Method,
				"url":           req.URL.String(),
				"authenticated": req.Header.Get("Authorization") != "",
			})
			logg.Debug(ctx, "api request")
		},
		OnResponse: func(ctx context.Context, req *http.Request, res *http.Response, elapsed time.Duration, err error) {
			fields := map[string]any{
				"method":      req.Method,
				"url":         req.URL.String(),
				"duration_ms": elapsed.Milliseconds(),
			}
			if res != nil {
				fields["status"] = res.StatusCode
			}
			if err != nil {
				fields["error"] = err.Error()
			}
			logg.Debug(logg.WithFields(ctx, fields), "api response")
		},
	}
}
