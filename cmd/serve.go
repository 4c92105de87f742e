package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborintel/port-research/internal/api"
	"github.com/harborintel/port-research/internal/jobs"
)

var (
	servePort    int
	serveNoJobs  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the research API server and job processor",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		addr := fmt.Sprintf(":%d", port)

		server := api.NewServer(env.Store, env.Orch, env.Approval, env.Quality, cfg.Server.AllowedOrigins)

		if !serveNoJobs {
			opener := jobs.NewHTTPStreamOpener("http://127.0.0.1" + addr)
			dispatcher := jobs.NewDispatcher(env.Store, opener, jobs.Config{
				MaxConcurrent:     cfg.Jobs.MaxConcurrent,
				DispatchDelay:     time.Duration(cfg.Jobs.DispatchDelayMs) * time.Millisecond,
				HeartbeatInterval: time.Duration(cfg.Jobs.HeartbeatSecs) * time.Second,
				StaleAfter:        time.Duration(cfg.Jobs.StaleAfterMins) * time.Minute,
				ReadTimeout:       time.Duration(cfg.Jobs.ReadTimeoutSecs) * time.Second,
				StreamTimeout:     time.Duration(cfg.Jobs.StreamTimeoutSecs) * time.Second,
			})
			go dispatcher.Run(ctx)
		}

		srv := &http.Server{
			Addr:        addr,
			Handler:     server.Router(),
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 120 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoJobs, "no-jobs", false, "disable the background job processor")
	rootCmd.AddCommand(serveCmd)
}
