package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/pitabwire/portico/internal/mutation"
)

// NATSPublisher publishes outcome events to a NATS server.
type NATSPublisher struct {
	conn     *nats.Conn
	prefix   string
	ownsConn bool
	logger   *zap.Logger
	now      func() time.Time
}

// DialNATS connects to url and returns a publisher owning the connection.
func DialNATS(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name("portico"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("notify: nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("notify: nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect %s: %w", url, err)
	}
	p := NewNATSPublisher(conn, prefix, logger)
	p.ownsConn = true
	return p, nil
}

// NewNATSPublisher publishes over an existing connection.
func NewNATSPublisher(conn *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger, now: time.Now}
}

// Publish sends out on <prefix>.<outcome>.
func (p *NATSPublisher) Publish(ctx context.Context, out mutation.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(EventFrom(out, p.now()))
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	subject := Subject(p.prefix, out.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("notify: publish %s: %w", subject, err)
	}
	p.logger.Debug("notify: published",
		zap.String("subject", subject),
		zap.String("client_mutation_id", out.Record.ClientMutationID),
	)
	return nil
}

// Ping reports whether the connection is up.
func (p *NATSPublisher) Ping(context.Context) error {
	if !p.conn.IsConnected() {
		return errors.New("notify: nats not connected")
	}
	return nil
}

// Close flushes pending messages and closes an owned connection.
func (p *NATSPublisher) Close() error {
	if !p.ownsConn {
		return nil
	}
	err := p.conn.FlushTimeout(2 * time.Second)
	p.conn.Close()
	if err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}
