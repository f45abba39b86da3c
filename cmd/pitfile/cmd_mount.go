package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/pitfile/internal/errx"
	"github.com/jingkaihe/pitfile/pkg/analysis"
	"github.com/jingkaihe/pitfile/pkg/config"
	"github.com/jingkaihe/pitfile/pkg/fusefs"
	"github.com/jingkaihe/pitfile/pkg/notify"
	"github.com/jingkaihe/pitfile/pkg/policy"
	"github.com/jingkaihe/pitfile/pkg/quarantine"
	"github.com/jingkaihe/pitfile/pkg/vfs"
)

func init() {
	f := rootCmd.Flags()
	f.String("smtp-addr", notify.DefaultSMTPAddr, `SMTP relay for notifications, or "log" to only log them`)
	f.Bool("allow-other", false, "Let other users access the mount")
	f.Bool("debug-fuse", false, "Log every FUSE request")
	f.Bool("watch-config", false, "Also reload .pitfilerc when it changes on disk")
	f.Bool("ledger", true, "Record quarantines in <repository>.quarantine/ledger.db")
	f.Bool("device-nodes", false, "Allow creating character and block devices")

	viper.BindPFlag("smtp-addr", f.Lookup("smtp-addr"))
	viper.BindPFlag("allow-other", f.Lookup("allow-other"))
	viper.BindPFlag("debug-fuse", f.Lookup("debug-fuse"))
	viper.BindPFlag("watch-config", f.Lookup("watch-config"))
	viper.BindPFlag("ledger", f.Lookup("ledger"))
	viper.BindPFlag("device-nodes", f.Lookup("device-nodes"))
}

func runMount(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd.ErrOrStderr(), viper.GetString("log-level"), viper.GetBool("syslog"))
	if err != nil {
		return err
	}

	repo, err := resolveRepository(args[0])
	if err != nil {
		return err
	}
	mountpoint := args[1]

	store := config.NewStore(config.Options{Repository: repo, Logger: logger})
	if err := store.Load(); err != nil {
		return errx.Wrap(ErrLoadPolicy, err)
	}

	notifier, err := newNotifier(viper.GetString("smtp-addr"), logger)
	if err != nil {
		return err
	}

	qopts := quarantine.Options{Repository: repo, Notifier: notifier, Logger: logger}
	if viper.GetBool("ledger") {
		qopts.LedgerPath = quarantine.LedgerPath(quarantine.AreaFor(repo))
	}
	manager := quarantine.NewManager(qopts)
	defer manager.Close()
	if err := manager.Prepare(); err != nil {
		return errx.Wrap(ErrQuarantineArea, err)
	}
	logger.Info("quarantine area ready", "area", manager.Area())

	pipeline := analysis.NewPipeline(store, policy.NewEngine(logger), manager, logger)
	pt := vfs.NewPassthrough(vfs.Options{
		Repository:  repo,
		DeviceNodes: viper.GetBool("device-nodes"),
		OnRelease:   pipeline.OnRelease,
		Logger:      logger,
	})

	srv, err := fusefs.Mount(fusefs.Options{
		Mountpoint:  mountpoint,
		Passthrough: pt,
		AllowOther:  viper.GetBool("allow-other"),
		Debug:       viper.GetBool("debug-fuse"),
		Logger:      logger,
	})
	if err != nil {
		return errx.Wrap(ErrMount, err)
	}

	if viper.GetBool("watch-config") {
		w, err := config.NewWatcher(store, 0, logger)
		if err != nil {
			unmountLogged(srv, logger)
			return errx.Wrap(ErrWatchPolicy, err)
		}
		w.Start()
		defer w.Stop()
	}

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()
	go handleSignals(ctx, store, srv, logger)

	srv.Wait()
	return nil
}

func resolveRepository(arg string) (string, error) {
	repo, err := filepath.Abs(arg)
	if err != nil {
		return "", errx.Wrap(ErrRepository, err)
	}
	info, err := os.Stat(repo)
	if err != nil {
		return "", errx.Wrap(ErrRepository, err)
	}
	if !info.IsDir() {
		return "", errx.With(ErrRepository, ": %s is not a directory", repo)
	}
	return repo, nil
}

func newNotifier(addr string, logger *slog.Logger) (notify.Notifier, error) {
	if addr == "log" {
		return notify.NewLogNotifier(logger), nil
	}
	secrets, err := notify.LoadSecrets()
	if err != nil {
		return nil, errx.Wrap(ErrLoadSecrets, err)
	}
	n, err := notify.NewSMTPNotifier(addr, secrets)
	if err != nil {
		return nil, errx.Wrap(ErrNotifier, err)
	}
	return n, nil
}

// handleSignals reloads the policy on SIGHUP and unmounts on SIGINT or
// SIGTERM.
func handleSignals(ctx context.Context, store *config.Store, srv *fusefs.Server, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("reload requested")
				_ = store.Reload()
				continue
			}
			logger.Info("shutting down", "signal", sig.String())
			if !unmountLogged(srv, logger) {
				continue
			}
			return
		}
	}
}

type unmounter interface {
	Unmount() error
}

// unmountLogged unmounts srv and logs a failure. It reports whether the
// unmount succeeded.
func unmountLogged(srv unmounter, logger *slog.Logger) bool {
	if err := srv.Unmount(); err != nil {
		logger.Error("unmount failed", "error", err)
		return false
	}
	return true
}
