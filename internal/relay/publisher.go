// Package relay fans decoded game updates out to NATS JetStream so other
// services (notifiers, archivers, dashboards) can consume them without
// polling the forum themselves. The comment thread stays the source of truth;
// the stream is a best-effort mirror.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/snaphunt/snaphunt/internal/metrics"
	"github.com/snaphunt/snaphunt/internal/poller"
	"github.com/snaphunt/snaphunt/internal/protocol"
)

type Config struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration
	MaxMsgs         int64
	Replicas        int
	DuplicateWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		StreamName:      "GAME_UPDATES",
		SubjectPrefix:   "snaphunt.games",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		MaxAge:          7 * 24 * time.Hour,
		MaxMsgs:         -1,
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
	}
}

// Envelope is the stream message wrapping one decoded update together with
// the comment it came from.
type Envelope struct {
	EventID    string          `json:"event_id"`
	PostID     string          `json:"post_id"`
	Kind       protocol.Kind   `json:"kind"`
	CommentID  string          `json:"comment_id"`
	Author     string          `json:"author,omitempty"`
	Permalink  string          `json:"permalink,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ObservedAt time.Time       `json:"observed_at"`
	Update     json.RawMessage `json:"update"`
}

type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config
}

func NewPublisher(cfg Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &Publisher{nc: nc, js: js, config: cfg}

	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return p, nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Decoded game updates mirrored from forum threads",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		MaxMsgs:     p.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    p.config.Replicas,
		Duplicates:  p.config.DuplicateWindow,
	}

	stream, err := p.js.Stream(ctx, p.config.StreamName)
	if err != nil {
		if _, err = p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().
			Str("stream", p.config.StreamName).
			Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = p.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().
			Str("stream", p.config.StreamName).
			Msg("updated JetStream stream")
	}
	return nil
}

// Publish mirrors one delivered update onto the stream. The source comment ID
// doubles as the JetStream message ID, so a comment observed twice within the
// duplicate window lands on the stream once.
func (p *Publisher) Publish(ctx context.Context, ev poller.Event) error {
	env, err := newEnvelope(ev, time.Now().UTC())
	if err != nil {
		metrics.RecordPublish(false)
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		metrics.RecordPublish(false)
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := subjectFor(p.config.SubjectPrefix, ev.PostID, ev.Update.Kind())
	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Update-Kind": []string{string(ev.Update.Kind())},
			"Post-ID":     []string{ev.PostID},
			"Comment-ID":  []string{ev.Comment.ID},
		},
	},
		jetstream.WithMsgID(ev.Comment.ID),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		metrics.RecordPublish(false)
		return fmt.Errorf("publish to JetStream: %w", err)
	}
	metrics.RecordPublish(true)

	log.Debug().
		Str("subject", subject).
		Str("comment_id", ev.Comment.ID).
		Uint64("sequence", ack.Sequence).
		Msg("published update")
	return nil
}

func (p *Publisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func newEnvelope(ev poller.Event, now time.Time) (*Envelope, error) {
	payload, err := json.Marshal(ev.Update)
	if err != nil {
		return nil, fmt.Errorf("marshal update: %w", err)
	}
	return &Envelope{
		EventID:    uuid.New().String(),
		PostID:     ev.PostID,
		Kind:       ev.Update.Kind(),
		CommentID:  ev.Comment.ID,
		Author:     ev.Comment.Author,
		Permalink:  ev.Comment.Permalink,
		CreatedAt:  ev.Comment.CreatedAt,
		ObservedAt: now,
		Update:     payload,
	}, nil
}

func subjectFor(prefix, postID string, kind protocol.Kind) string {
	return fmt.Sprintf("%s.%s.%s", prefix, postID, kind)
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}
