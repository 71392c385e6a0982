package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const publishTimeout = 5 * time.Second

// Client publishes analysis events. Payloads are JSON encoded.
type Client interface {
	Publish(subject string, data interface{}) error
	Close()
}

// NATSClient publishes into the PHANTOM_EVENTS stream and waits for the
// stored acknowledgement. If the stream could not be created it falls back
// to plain core NATS publishes.
type NATSClient struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stored atomic.Bool
	logger *slog.Logger
}

func NewNATSClient(ctx context.Context, url string, logger *slog.Logger) (*NATSClient, error) {
	nc, err := nats.Connect(url,
		nats.Name("phantom"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("hermes disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("hermes reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	c := &NATSClient{conn: nc, js: js, logger: logger}
	if err := c.ensureStream(ctx); err != nil {
		logger.Warn("failed to ensure stream, events will not be stored", "stream", StreamName, "error", err)
	}
	return c, nil
}

func (c *NATSClient) ensureStream(ctx context.Context) error {
	maxAge, err := time.ParseDuration(StreamMaxAge)
	if err != nil {
		return fmt.Errorf("stream max age: %w", err)
	}
	_, err = c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{StreamSubjects},
		MaxAge:   maxAge,
	})
	if err != nil {
		return err
	}
	c.stored.Store(true)
	return nil
}

func (c *NATSClient) Publish(subject string, data interface{}) error {
	msg, err := NewMessage(subject, data)
	if err != nil {
		return err
	}
	if !c.stored.Load() {
		return c.conn.PublishMsg(msg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if _, err := c.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending core publishes before closing the connection.
func (c *NATSClient) Close() {
	if err := c.conn.FlushTimeout(publishTimeout); err != nil {
		c.logger.Warn("hermes flush failed", "error", err)
	}
	c.conn.Close()
}

// NewMessage encodes data as the JSON body of a message on subject.
func NewMessage(subject string, data interface{}) (*nats.Msg, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set("Content-Type", "application/json")
	return msg, nil
}
