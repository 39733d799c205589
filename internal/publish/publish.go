// Package publish fans stored log records out to NATS so other services can
// follow a session live.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"proctor-stream/internal/metrics"
	"proctor-stream/internal/model"
)

const DefaultSubjectPrefix = "proctor.logs"

type Publisher interface {
	Publish(ctx context.Context, userID string, records []model.LogRecord) error
	Close() error
}

// Nop is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, []model.LogRecord) error { return nil }
func (Nop) Close() error                                             { return nil }

// Batch is the message body published per stored batch.
type Batch struct {
	UserID  string            `json:"userId"`
	Records []model.LogRecord `json:"records"`
}

type NATS struct {
	nc     *nats.Conn
	prefix string
	log    *zap.Logger
}

func Connect(url, prefix string, log *zap.Logger) (*NATS, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	nc, err := nats.Connect(url,
		nats.Name("proctor-stream"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATS{nc: nc, prefix: prefix, log: log}, nil
}

// Subject returns the subject records for userID are published on.
func (p *NATS) Subject(userID string) string {
	return p.prefix + "." + userID
}

func (p *NATS) Publish(ctx context.Context, userID string, records []model.LogRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Batch{UserID: userID, Records: records})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	if err := p.nc.Publish(p.Subject(userID), data); err != nil {
		metrics.PublishFailures.Inc()
		return fmt.Errorf("publish batch: %w", err)
	}
	return nil
}

func (p *NATS) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}
