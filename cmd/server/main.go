package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hongson-portal/internal/config"
	"hongson-portal/internal/factory"
	"hongson-portal/internal/handler"
	"hongson-portal/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	router := setupRouter(f)

	serverAddr := cfg.GetServerAddress()
	if cfg.Server.EnableTLS {
		serverAddr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	}

	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	if cfg.Server.EnableTLS {
		server.TLSConfig = f.TLSManager().TLSConfig()

		if cfg.Server.AutoCert {
			startServerWithAutoCert(f, server, cfg)
			return
		}
	} else {
		util.Info("TLS is disabled; expecting a TLS-terminating proxy in front",
			util.String("environment", cfg.Environment))
	}

	startServer(f, server, cfg)
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	cfg := f.Config()
	logger := util.Get()

	var images handler.ImageStore
	if store := f.ImageStore(); store != nil {
		images = store
	}

	return handler.NewRouter(handler.RouterConfig{
		Portal:         handler.NewPortalHandler(logger),
		Apps:           handler.NewAppHandler(f.AppService(), images, cfg.Storage.MaxUploadSize, logger),
		Auth:           handler.NewAuthHandler(f.AuthService(), f.CookieOptions(), logger),
		Guard:          f.Guard(),
		Health:         f,
		AdminPrefix:    cfg.Admin.PathPrefix,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.WriteTimeout,
	}, logger)
}

// startServerWithAutoCert serves ACME challenges on :80 next to the HTTPS
// listener.
func startServerWithAutoCert(f *factory.Factory, server *http.Server, cfg *config.Config) {
	challengeServer := &http.Server{
		Addr:              ":80",
		Handler:           f.TLSManager().AutocertManager().HTTPHandler(nil),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		util.Info("Starting ACME challenge server on port 80")
		if err := challengeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Error("ACME challenge server failed", util.ErrorField(err))
		}
	}()

	go func() {
		util.Info("Starting HTTPS server with AutoCert",
			util.String("domain", cfg.Server.Domain),
			util.String("address", server.Addr))
		if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("HTTPS server failed", util.ErrorField(err))
		}
	}()

	waitForShutdown(f, server, challengeServer)
}

func startServer(f *factory.Factory, server *http.Server, cfg *config.Config) {
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			// Certificates come from TLSConfig.GetCertificate.
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	healthy := f.IsHealthy(ctx)
	cancel()

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("healthy", healthy),
		util.String("address", server.Addr),
	)

	waitForShutdown(f, server)
}

func waitForShutdown(f *factory.Factory, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully",
				util.String("address", srv.Addr),
				util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}
	f.Close()
}
