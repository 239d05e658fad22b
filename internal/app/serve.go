package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"workflowaudit/internal/httpx"
	slacknotify "workflowaudit/internal/integrations/slack"
	"workflowaudit/internal/reenrich"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// reenrichPassTimeout bounds one scheduled pass over the partial projects.
const reenrichPassTimeout = 30 * time.Minute

const readyTimeout = 5 * time.Second

func newReenrichCommand() *cobra.Command {
	var overrides runOverrides
	cmd := &cobra.Command{
		Use:   "reenrich",
		Short: "Retry the generative stage for partially enriched projects once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()
			result, err := reenrich.RunOnce(cmd.Context(), rt.db, rt.orchestrator(overrides), rt.logger, rt.metrics)
			fmt.Fprintln(cmd.OutOrStdout(), reenrich.FormatSummary(result))
			return err
		},
	}
	cmd.Flags().StringVar(&overrides.provider, "provider", "", "text-generation provider for this pass")
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Expose /metrics and run scheduled re-enrichment until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.serve(ctx)
		},
	}
}

func (rt *runtime) serve(ctx context.Context) error {
	rt.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	runner := reenrich.NewRunner(rt.db, rt.orchestrator(runOverrides{}), reenrichPassTimeout, rt.logger, rt.metrics)
	if rt.cfg.SlackConfigured() {
		api := slack.New(rt.cfg.SlackBotToken, slack.OptionHTTPClient(httpx.ExternalHTTPClient()))
		runner.OnResult = func(ctx context.Context, r reenrich.Result) {
			if r.Picked == 0 {
				return
			}
			if err := slacknotify.PostText(ctx, api, rt.cfg.SlackProgressChannel, reenrich.FormatSummary(r)); err != nil {
				rt.logger.Warn("reenrich summary not posted", zap.Error(err))
			}
		}
	}
	if err := runner.Start(rt.cfg.ReenrichSchedule); err != nil {
		return err
	}
	defer runner.Stop()

	srv := &http.Server{
		Addr:              rt.cfg.MetricsAddr,
		Handler:           rt.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("metrics server listening", zap.String("addr", rt.cfg.MetricsAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	rt.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (rt *runtime) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.promReg, promhttp.HandlerOpts{Registry: rt.promReg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rt.db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := rt.ready(r.Context()); err != nil {
			rt.logger.Warn("not ready", zap.Error(err))
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ready checks the store and that the configured provider answers.
func (rt *runtime) ready(ctx context.Context) error {
	if err := rt.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unavailable: %w", err)
	}
	client, err := rt.registry.Client(rt.cfg.LLMProvider)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("provider %s unavailable: %w", client.Provider(), err)
	}
	return nil
}
