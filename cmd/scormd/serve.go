package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stefando/scormhost/internal/logging"
)

const shutdownTimeout = 15 * time.Second

// NewServeCommand runs the HTTP API until the context is cancelled.
func NewServeCommand(fs afero.Fs, ctx context.Context, opts *rootOptions, logger *logging.Logger) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Run the HTTP API",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.build(ctx, fs, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			addr := a.Config.ListenAddr
			if listen != "" {
				addr = listen
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           a.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Listening", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides LISTEN_ADDR")
	return cmd
}
