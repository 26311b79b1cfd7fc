// Command paramhubd is the daemon process that hosts one paramhub instance:
// it opens the working/backup databases, starts the multicast notifier and
// the reconciler, and serves the JSON-RPC/WebSocket/info surface. It
// optionally drops into the interactive admin shell instead of serving,
// for local operation.
//
// The command tree and flag-binding style follows the teacher's
// cmd/goclode/main.go (now removed — see DESIGN.md) generalized onto
// spf13/cobra + spf13/viper, matching the rest of this module's dependency
// pack.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/paramhub/paramhub/internal/adminshell"
	"github.com/paramhub/paramhub/internal/config"
	"github.com/paramhub/paramhub/internal/instance"
	"github.com/paramhub/paramhub/internal/notify"
	"github.com/paramhub/paramhub/internal/rpc"
	"github.com/paramhub/paramhub/internal/schema"
)

var (
	cfgFile   string
	shellMode bool
)

func main() {
	v := viper.New()

	root := &cobra.Command{
		Use:   "paramhubd",
		Short: "paramhubd hosts one paramhub configuration instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			if shellMode {
				return runShell(cfg)
			}
			return runDaemon(cfg)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a TOML configuration file")
	root.Flags().BoolVar(&shellMode, "shell", false, "open the interactive admin shell instead of serving")
	config.BindFlags(root, v)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openInstance(cfg config.Config, log *slog.Logger) (*instance.Instance, error) {
	f, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	table, err := schema.Compile(f)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	reg := schema.NewRegistry(table)

	opts := instance.Options{
		WorkingPath:       cfg.WorkingDBPath,
		BackupPath:        cfg.BackupDBPath,
		DefaultAssetsPath: cfg.DefaultAssetsPath,
		Logger:            log,
		Notify: &notify.Config{
			Group: cfg.MulticastGroup,
			Port:  cfg.MulticastPort,
			TTL:   cfg.MulticastTTL,
			Iface: cfg.MulticastIface,
		},
	}
	return instance.Open(reg, opts)
}

func runDaemon(cfg config.Config) error {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	inst, err := openInstance(cfg, log)
	if err != nil {
		return err
	}
	defer inst.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := inst.Start(ctx); err != nil {
		return fmt.Errorf("start instance: %w", err)
	}
	if err := inst.SetUpTimerPoll(ctx, cfg.PollIntervalMS); err != nil {
		return fmt.Errorf("set up timer poll: %w", err)
	}

	srv := rpc.NewServer(inst, log)
	srv.SetWSPath(cfg.RPCWebSocketPath)
	httpServer := &http.Server{Addr: cfg.RPCListenAddr, Handler: srv.Mux()}

	go func() {
		log.Info("serving", "addr", cfg.RPCListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func runShell(cfg config.Config) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	inst, err := openInstance(cfg, log)
	if err != nil {
		return err
	}
	defer inst.Close()

	if err := inst.Start(context.Background()); err != nil {
		return fmt.Errorf("start instance: %w", err)
	}

	sh, err := adminshell.New(inst, historyFilePath())
	if err != nil {
		return err
	}
	return sh.Run()
}

func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.paramhub_history"
}
