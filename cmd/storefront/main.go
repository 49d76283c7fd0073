package main

import (
	"context"
	"fmt"
	"os"

	"github.com/angelmondragon/packfinderz-storefront/pkg/config"
	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "storefront"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "storefront",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.IsDev(),
	})
	ctx := logg.WithField(context.Background(), "env", cfg.App.Env)
	ctx = logg.WithRequestID(ctx, uuid.NewString())

	if err := run(ctx, cfg, logg, os.Args[1:], os.Stdout); err != nil {
		if err == errUsage {
			os.Exit(2)
		}
		logFailure(ctx, logg, err)
		fmt.Fprintln(os.Stderr, userMessage(err))
		os.Exit(1)
	}
}

// logFailure logs err with its flattened chain, backend status and any Postgres fields.
func logFailure(ctx context.Context, logg *logger.Logger, err error) {
	logg.Error(logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "command failed", err)
}

// userMessage renders err for the terminal.
func userMessage(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return err.Error()
	}
	if typed.Code() == pkgerrors.CodeValidation {
		if details, ok := typed.Details().(map[string]string); ok && len(details) > 0 {
			msg := typed.Message()
			for field, reason := range details {
				msg += fmt.Sprintf("\n  %s %s", field, reason)
			}
			return msg
		}
		return typed.Message()
	}
	if typed.Code() == pkgerrors.CodeNotFound || typed.Code() == pkgerrors.CodeUnauthorized {
		return typed.Message()
	}
	return pkgerrors.MetadataFor(typed.Code()).PublicMessage
}
