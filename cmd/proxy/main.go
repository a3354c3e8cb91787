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

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qualified/lsp-ws-proxy/internal/adminapi"
	"github.com/qualified/lsp-ws-proxy/internal/cliconfig"
	"github.com/qualified/lsp-ws-proxy/internal/filesync"
	"github.com/qualified/lsp-ws-proxy/internal/httpmw"
	"github.com/qualified/lsp-ws-proxy/internal/proxysession"
	"github.com/qualified/lsp-ws-proxy/internal/registry"
	"github.com/qualified/lsp-ws-proxy/internal/wsupgrade"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Exit codes, per the process's external interface contract.
const (
	exitOK            = 0
	exitCLIParseError = 1
	exitBindFailure   = 2
	exitNoServerSpecs = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	defaults := cliconfig.Load(cliconfig.Defaults{
		Listen:  "0.0.0.0:9999",
		Timeout: 0,
		Sync:    false,
		Remap:   false,
	})

	var (
		listen      string
		timeoutSecs int
		sync        bool
		remap       bool
		showVersion bool
	)

	exitCode := exitOK
	cmd := &cobra.Command{
		Use:   "lsp-ws-proxy -- CMD [ARGS...] [-- CMD [ARGS...]]...",
		Short: "Bridges a WebSocket client to one or more stdio LSP servers",
		Long: `lsp-ws-proxy accepts WebSocket connections and forwards their traffic,
framed as LSP's Content-Length-prefixed JSON-RPC, to a child process
reading stdin/writing stdout. Everything after the first -- is handed
to the child-process registry verbatim: each additional -- starts a
new named server spec.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Println(Version)
				return nil
			}
			// cobra/pflag swallow the first "--" token that marks the
			// end of flag parsing, so args here starts with the first
			// server command directly. registry.Parse expects every
			// segment delimited by a literal "--", so restore it.
			tail := append([]string{"--"}, args...)
			return runProxy(cmd.Context(), tail, proxyConfig{
				listen:  cliconfig.NormalizeListen(listen),
				timeout: time.Duration(timeoutSecs) * time.Second,
				sync:    sync,
				remap:   remap,
			})
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", defaults.Listen, "bind address; a bare integer means 0.0.0.0:<int>")
	cmd.Flags().IntVarP(&timeoutSecs, "timeout", "t", defaults.Timeout, "inactivity timeout in seconds, 0 disables")
	cmd.Flags().BoolVarP(&sync, "sync", "s", defaults.Sync, "enable file sync and the /files admin endpoint")
	cmd.Flags().BoolVarP(&remap, "remap", "r", defaults.Remap, "enable source:// URI remapping")
	cmd.Flags().BoolVarP(&showVersion, "version", "v", false, "print version and exit")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	cmd.SetContext(ctx)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		switch {
		case errors.Is(err, errBindFailure):
			exitCode = exitBindFailure
		case errors.Is(err, errNoServerSpecs):
			exitCode = exitNoServerSpecs
		default:
			exitCode = exitCLIParseError
		}
	}
	return exitCode
}

type proxyConfig struct {
	listen  string
	timeout time.Duration
	sync    bool
	remap   bool
}

var (
	errBindFailure   = fmt.Errorf("failed to bind listen address")
	errNoServerSpecs = fmt.Errorf("no server specs provided after --")
)

func runProxy(ctx context.Context, tail []string, cfg proxyConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync()

	reg, err := registry.Parse(tail)
	if err != nil {
		return fmt.Errorf("%w: %v", errNoServerSpecs, err)
	}
	for _, name := range registry.ShadowedNames(tail) {
		logger.Warn("server spec name shadowed by a later entry", zap.String("name", name))
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return err
	}

	var syncer *filesync.Syncer
	if cfg.sync {
		syncer, err = filesync.New(workingDir)
		if err != nil {
			return err
		}
	}

	sessionOpts := proxysession.Options{
		WorkingDir: workingDir,
		Remap:      cfg.remap,
		Sync:       cfg.sync,
		Timeout:    cfg.timeout,
		Logger:     logger,
	}
	supervisor := proxysession.NewSupervisor(ctx, sessionOpts)

	router := chi.NewRouter()
	mw := httpmw.NewChain(httpmw.RequestID(), httpmw.Recovery(logger), httpmw.Logging(logger))

	upgrader := wsupgrade.New(reg, supervisor, logger)
	router.Handle("/", mw.Then(upgrader))

	if cfg.sync {
		admin := adminapi.New(syncer, logger)
		router.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler { return mw.Then(next) })
			admin.Mount(r)
		})
	}

	srv := &http.Server{
		Addr:    cfg.listen,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("address", cfg.listen),
			zap.Bool("sync", cfg.sync),
			zap.Bool("remap", cfg.remap),
			zap.Strings("servers", reg.Names()))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("%w: %v", errBindFailure, err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown error", zap.Error(err))
		}
	}

	supervisor.Shutdown()
	return nil
}
