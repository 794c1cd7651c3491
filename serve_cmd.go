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

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/homespeak/internal/ingest"
)

const shutdownTimeout = 10 * time.Second

var (
	announce string
	withNATS bool
	noHTTP   bool
	embedded bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the speech service",
		Long: paragraph(fmt.Sprintf("\n%s phrases from NATS and HTTP, synthesize them through the configured backends and play them in arrival order.",
			keyword("Accept"))),
		Example: paragraph("homespeak serve\nhomespeak serve --nats --nats-url nats://hub:4222\nhomespeak serve --announce \"It's {time}\""),
		Args:    cobra.NoArgs,
		RunE:    runServe,
	}
)

func runServe(cmd *cobra.Command, _ []string) error {
	if cmd.Flags().Changed("nats") {
		cfg.NATS.Enabled = withNATS
	}
	if cmd.Flags().Changed("embedded-nats") {
		cfg.NATS.Embedded = embedded
		cfg.NATS.Enabled = cfg.NATS.Enabled || embedded
	}
	if noHTTP {
		cfg.HTTP.Enabled = false
	}
	if !cfg.HTTP.Enabled && !cfg.NATS.Enabled {
		return errors.New("nothing to serve: enable http or nats")
	}

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			log.Warn("shutdown", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.queue.Run(ctx)
	})

	if cfg.HTTP.Enabled {
		srv := &http.Server{
			Addr: cfg.HTTP.Addr,
			Handler: ingest.NewRouter(a.adapter, ingest.RouterOptions{
				Hub:      a.hub,
				Gatherer: a.metrics,
				Logger:   log.WithPrefix("http"),
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info("http listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if a.nats != nil {
		sub := ingest.NewSubscriber(a.nats, cfg.NATS.Subject, a.adapter, log.WithPrefix("nats"))
		g.Go(func() error {
			return sub.Run(ctx)
		})
	}

	if a.sounds != nil && cfg.Sounds.Watch {
		g.Go(func() error {
			if err := a.sounds.Watch(ctx); err != nil {
				// A missing watcher only costs live rescans.
				log.Warn("sound library watch stopped", "err", err)
			}
			return nil
		})
	}

	if a.alarms != nil {
		g.Go(func() error {
			return a.alarms.Run(ctx, a.adapter)
		})
	}

	if announce != "" {
		host, _ := os.Hostname()
		if _, err := a.adapter.Submit(ctx, ingest.Phrase{
			Text:     announce,
			Template: true,
			Source:   "startup:" + host,
		}); err != nil {
			log.Warn("startup announcement", "err", err)
		}
	}

	log.Info("homespeak ready",
		"backends", a.backends.IDs(),
		"default", cfg.Speech.DefaultBackend,
		"sink", cfg.Playback.Sink,
		"nats", a.nats != nil,
		"alarms", a.alarms != nil,
	)

	err = g.Wait()
	a.adapter.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("homespeak stopped")
	return nil
}

func init() {
	serveCmd.Flags().String("addr", "", "HTTP listen address")
	serveCmd.Flags().String("nats-url", "", "NATS server URL")
	serveCmd.Flags().String("subject", "", "NATS base subject")
	serveCmd.Flags().String("sink", "", "playback sink (device, none)")
	serveCmd.Flags().BoolVar(&withNATS, "nats", false, "subscribe to NATS")
	serveCmd.Flags().BoolVar(&embedded, "embedded-nats", false, "run an in-process NATS server")
	serveCmd.Flags().BoolVar(&noHTTP, "no-http", false, "disable the HTTP API")
	serveCmd.Flags().StringVar(&announce, "announce", "", "phrase to speak on startup, e.g. \"It's {time}\"")

	_ = viper.BindPFlag("http.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("nats.url", serveCmd.Flags().Lookup("nats-url"))
	_ = viper.BindPFlag("nats.subject", serveCmd.Flags().Lookup("subject"))
	_ = viper.BindPFlag("playback.sink", serveCmd.Flags().Lookup("sink"))
}
