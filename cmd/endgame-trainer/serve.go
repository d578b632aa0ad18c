package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Endgame-Trainer/internal/trainer"
	"github.com/park285/Cheese-Endgame-Trainer/internal/trainerbuilder"
	"github.com/park285/Cheese-Endgame-Trainer/internal/wsapi"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve training sessions over a websocket",
		Long: heredoc.Doc(`serve listens on TRAINER_LISTEN_ADDR (or --addr) and runs one
			training session per websocket connection on /ws. Clients send
			JSON commands (start, move, next, continue, takeback, resume,
			stats, profile, positions) and receive a snapshot after every
			state change.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := g.setup(true)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if addr != "" {
				cfg.ListenAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps, err := trainerbuilder.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer deps.Close()

			factory := func(playerID string) (*trainer.Coordinator, error) {
				return deps.NewCoordinator(playerID)
			}
			srv := wsapi.NewServer(factory, logger.Named("wsapi"),
				wsapi.WithPositions(deps.Catalog),
				wsapi.WithProfiles(deps.Repo),
				wsapi.WithDefaultPlayer(cfg.PlayerID),
			)
			httpSrv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				// hijacked websocket connections end with the process context
				BaseContext: func(net.Listener) context.Context { return ctx },
			}

			errCh := make(chan error, 1)
			go func() { errCh <- httpSrv.ListenAndServe() }()
			logger.Info("server_started", zap.String("addr", cfg.ListenAddr))

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				logger.Info("server_stopping")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := httpSrv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("server_shutdown_failed", zap.Error(err))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
