package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/buyornot/internal/api"
	"github.com/Veraticus/buyornot/internal/certs"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		port     int
		useTLS   bool
		tlsHosts []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve decisions, the ledger and the assistant over HTTP under /api/v1.
Requests identify their user with the X-User-ID header.

The ledger is rebuilt for every known user before the server starts accepting requests.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := appConfig
			if port == 0 {
				port = cfg.Server.Port
			}

			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			eng := newEngine(store)
			if _, err := eng.RebuildAll(ctx); err != nil {
				slog.Warn("startup ledger rebuild finished with errors", "error", err)
			}

			stack, err := newContextStack(ctx, cfg, store)
			if err != nil {
				return err
			}
			defer stack.Close()

			deps := api.Deps{
				Engine:        eng,
				Context:       stack.Service,
				Assembler:     stack.Assembler,
				Conversations: store,
				Logger:        slog.Default(),
				AllowOrigins:  cfg.Server.AllowOrigins,
				Version:       version,
				AccessLog:     cfg.Server.AccessLog,
			}

			client, err := createLLMClient(ctx, cfg)
			if err != nil {
				slog.Warn("assistant and image recognition disabled", "error", err)
			} else {
				defer func() { _ = client.Close() }()
				chat, err := newAssistant(stack, client, store, cfg)
				if err != nil {
					return err
				}
				deps.Assistant = chat
				deps.Recognizer = client
			}

			server := api.NewServer(deps)
			addr := fmt.Sprintf(":%d", port)
			errCh := make(chan error, 1)
			if useTLS || cfg.Server.TLS {
				pair, err := certs.Ensure(cfg.Server.TLSDir, tlsHosts...)
				if err != nil {
					return fmt.Errorf("failed to prepare TLS certificate: %w", err)
				}
				slog.Info("Using self-signed certificate", "cert", pair.CertFile)
				go func() {
					errCh <- server.ListenTLS(addr, pair.CertFile, pair.KeyFile)
				}()
			} else {
				go func() {
					errCh <- server.Listen(addr)
				}()
			}

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			slog.Info("Shutting down HTTP server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from server.port)")
	cmd.Flags().BoolVar(&useTLS, "tls", false, "serve HTTPS with a self-signed certificate")
	cmd.Flags().StringSliceVar(&tlsHosts, "tls-host", nil, "extra host names or IPs the certificate must cover")
	return cmd
}
