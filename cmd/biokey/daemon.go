package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benaskins/biokey/internal/api"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the biokey daemon",
	Long:  "Serve credential operations over a Unix socket. Challenges are shown by the daemon's session.",
	RunE:  runDaemon,
}

var apiAddr string

func init() {
	daemonCmd.Flags().StringVar(&apiAddr, "api-addr", "", "Optional TCP address for API (e.g. 127.0.0.1:9090)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if apiAddr == "" {
		apiAddr = cfg.APIAddr
	}

	sess, err := openSession(cfg, "daemon")
	if err != nil {
		return err
	}
	defer sess.Close()

	slog.Info("biokey daemon starting",
		"namespace", cfg.Namespace,
		"policy", sess.vault.Policy(),
		"index", cfg.IndexPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	// Pick up saves and deletes made by CLI invocations running locally.
	go func() {
		if err := sess.index.Watch(ctx); err != nil {
			slog.Error("presence watcher stopped", "error", err)
		}
	}()

	socketPath := cfg.Socket
	// Remove stale socket
	os.Remove(socketPath)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return fmt.Errorf("creating socket dir: %w", err)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.PerSecond), cfg.RateLimit.Burst)
	srv := api.NewServer(sess.vault, limiter, ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenUnix(socketPath)
	}()

	if apiAddr != "" {
		go func() {
			if err := srv.ListenTCP(apiAddr); err != nil {
				slog.Error("TCP API error", "error", err)
			}
		}()
	}

	slog.Info("biokey daemon ready", "socket", socketPath)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("API server error", "error", err)
		}
	}

	// Canceling ctx dismisses any challenge still on screen.
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	srv.Shutdown(shutdownCtx)
	os.Remove(socketPath)

	slog.Info("biokey daemon stopped")
	return nil
}
