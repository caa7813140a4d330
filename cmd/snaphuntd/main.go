// snaphuntd runs the SnapHunt engine as a daemon: it re-adopts the game
// threads named in its config, polls them for new comments, and mirrors the
// decoded updates onto JetStream. Game control (rounds, winners, phases) is
// driven through the game service by the embedding host.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/snaphunt/snaphunt/clients/reddit"
	"github.com/snaphunt/snaphunt/internal/config"
	"github.com/snaphunt/snaphunt/internal/game"
	"github.com/snaphunt/snaphunt/internal/poller"
	"github.com/snaphunt/snaphunt/internal/relay"
	"github.com/snaphunt/snaphunt/internal/thread"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.App.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("target", cfg.App.Target).
		Str("listen_addr", cfg.App.ListenAddr).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Int("configured_games", len(cfg.Games)).
		Msg("starting snaphunt daemon")

	gw := reddit.NewClient(reddit.Config{
		BaseURL:      cfg.Reddit.BaseURL,
		TokenURL:     cfg.Reddit.TokenURL,
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		Username:     cfg.Reddit.Username,
		Password:     cfg.Reddit.Password,
		UserAgent:    cfg.Reddit.UserAgent,
	})

	app := game.NewApp(gw, clockwork.NewRealClock(), game.Config{
		Target:      cfg.App.Target,
		RoundLength: cfg.App.RoundLength.Std(),
	})

	var pub *relay.Publisher
	if cfg.NATS.Enabled {
		relayCfg := relay.DefaultConfig()
		relayCfg.URL = cfg.NATS.URL
		relayCfg.StreamName = cfg.NATS.Stream
		relayCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
		pub, err = relay.NewPublisher(relayCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up JetStream relay")
		}
		defer pub.Close()
	}

	engine := poller.NewEngine(gw, poller.Config{
		Interval:    cfg.Poll.Interval.Std(),
		BackoffBase: cfg.Poll.BackoffBase.Std(),
		MaxInterval: cfg.Poll.MaxInterval.Std(),
		MaxRetries:  cfg.Poll.MaxRetries,
		BufferSize:  cfg.Poll.BufferSize,
	})

	deliver := func(ev poller.Event) {
		log.Info().
			Str("post_id", ev.PostID).
			Str("kind", string(ev.Update.Kind())).
			Str("comment_id", ev.Comment.ID).
			Msg("update observed")
		if pub == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pub.Publish(ctx, ev); err != nil {
			log.Error().Err(err).Str("comment_id", ev.Comment.ID).Msg("failed to relay update")
		}
	}

	for _, gc := range cfg.Games {
		th, err := thread.Restore(gc.PostID, gc.GameCommentID, gc.RulesCommentID, gc.StatusCommentID, gc.RoundIDs)
		if err != nil {
			log.Error().Err(err).Str("post_id", gc.PostID).Msg("failed to restore game thread")
			continue
		}
		if _, err := app.Adopt(th, gc.Title, gc.RoundLength.Std()); err != nil {
			log.Error().Err(err).Str("post_id", gc.PostID).Msg("failed to adopt game")
			continue
		}
		key, err := engine.Start(th, deliver)
		if err != nil {
			log.Error().Err(err).Str("post_id", gc.PostID).Msg("failed to start polling")
			continue
		}
		log.Info().Str("key", key).Str("post_id", gc.PostID).Msg("game adopted, polling live")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		keys := engine.Keys()
		statuses := make([]*poller.Status, 0, len(keys))
		for _, key := range keys {
			if st := engine.Status(key); st != nil {
				statuses = append(statuses, st)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(struct {
			Games []*poller.Status `json:"games"`
		}{Games: statuses}); err != nil {
			log.Error().Err(err).Msg("failed to encode status response")
		}
	})

	server := &http.Server{
		Addr:         cfg.App.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}

	engine.StopAll()
	app.Shutdown()

	log.Info().Msg("snaphunt daemon shutdown complete")
}
