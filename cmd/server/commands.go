package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prudhvinik1/pharmasync/internal/handlers"
	"github.com/prudhvinik1/pharmasync/internal/models"
	"github.com/prudhvinik1/pharmasync/internal/services"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pharmasync",
		Short:        "Offline mutation queue and background sync for the Pharma ERP",
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newEnqueueCmd())

	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the queue API and run background sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			scheduler := services.NewSyncScheduler(a.syncer, a.remote,
				services.WithSyncTag(a.cfg.SyncTag),
				services.WithProbeInterval(a.cfg.ProbeInterval),
				services.WithRegisterOnStart(),
			)

			router := chi.NewRouter()
			router.Use(middleware.RequestID)
			router.Use(handlers.RequestLogger(slog.Default()))
			router.Use(middleware.Recoverer)

			// Health check endpoints
			router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("OK"))
			})
			router.Route("/api", handlers.NewQueueHandler(a.queue, scheduler, a.syncer, slog.Default()).Routes)

			server := &http.Server{
				Addr:    fmt.Sprintf(":%s", a.cfg.ServerPort),
				Handler: router,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return scheduler.Start(gctx)
			})
			g.Go(func() error {
				slog.Info("Starting server", "port", a.cfg.ServerPort)
				if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			})
			// graceful shutdown
			g.Go(func() error {
				<-gctx.Done()
				slog.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil {
				return err
			}
			slog.Info("Server stopped gracefully")
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			result := a.syncer.RunSyncPass(cmd.Context())
			if err := printJSON(result); err != nil {
				return err
			}
			if result.Stopped {
				return fmt.Errorf("sync pass stopped (%s) at entry %d", result.Reason, result.FailedID)
			}
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending mutations in replay order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := a.queue.ListPending(cmd.Context())
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []*models.QueueEntry{}
			}
			return printJSON(entries)
		},
	}
}

func newEnqueueCmd() *cobra.Command {
	var endpoint, method, payload string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a mutation for the next sync pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			entry, err := a.queue.Enqueue(cmd.Context(), endpoint, models.Method(strings.ToUpper(method)), json.RawMessage(payload))
			if err != nil {
				return err
			}
			return printJSON(entry)
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Remote resource path, e.g. /api/expenses")
	cmd.Flags().StringVar(&method, "method", string(models.MethodPost), "POST, PUT, PATCH or DELETE")
	cmd.Flags().StringVar(&payload, "payload", "null", "JSON request body")
	cmd.MarkFlagRequired("endpoint")

	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
