// Devapi serves the in-process fake of the remote storefront API for local
// development. OTPs are readable at GET /api/v1/dev/otp?purpose=&phone=.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"storefront/internal/apitest"
	"storefront/internal/logger"
)

func main() {
	addr := flag.String("addr", ":5003", "listen address")
	accessTTL := flag.Duration("access-ttl", 15*time.Minute, "access token lifetime")
	fixedOTP := flag.String("otp", "", "answer every OTP request with this code")
	flag.Parse()

	zl, err := logger.New("info", "development")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	api := apitest.New(apitest.Options{AccessTTL: *accessTTL, FixedOTP: *fixedOTP, ExposeOTP: true})
	srv := &http.Server{Addr: *addr, Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zl.Info("dev API listening", zap.String("addr", *addr), zap.String("base", "/api/v1"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zl.Fatal("serve", zap.Error(err))
	}
}
