package kafka

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Client tracks broker reachability. The reader and writer redial on their
// own; Client reports whether they have a broker to dial.
type Client struct {
	brokers     []string
	logger      *zap.Logger
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	dialer      *kafka.Dialer
	check       func(ctx context.Context) error
	healthy     atomic.Bool
}

func NewClient(brokers []string, maxRetries int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		brokers:     brokers,
		logger:      logger,
		maxRetries:  maxRetries,
		baseBackoff: 1 * time.Second,
		maxBackoff:  30 * time.Second,
		dialer:      &kafka.Dialer{Timeout: 5 * time.Second},
	}
	c.check = c.probeBrokers
	return c
}

// HealthCheck succeeds when any broker accepts a connection and serves
// metadata. The result becomes the value reported by Healthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	err := c.check(ctx)
	c.healthy.Store(err == nil)
	return err
}

// Healthy reports the outcome of the most recent health check.
func (c *Client) Healthy() bool {
	return c.healthy.Load()
}

func (c *Client) probeBrokers(ctx context.Context) error {
	if len(c.brokers) == 0 {
		return errors.New("no brokers configured")
	}

	var errs []error
	for _, broker := range c.brokers {
		if err := c.checkBroker(ctx, broker); err != nil {
			errs = append(errs, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("no reachable broker: %w", errors.Join(errs...))
}

func (c *Client) checkBroker(ctx context.Context, broker string) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("failed to connect to broker %s: %w", broker, err)
	}
	defer conn.Close()

	// Fetch metadata to verify broker health
	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("failed to read metadata from %s: %w", broker, err)
	}
	return nil
}

// HealthCheckLoop runs health checks periodically. After a failure it keeps
// checking with exponential backoff and calls onRecovered once a broker is
// reachable again.
func (c *Client) HealthCheckLoop(ctx context.Context, interval time.Duration, onRecovered func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Health check loop stopped")
			return
		case <-ticker.C:
			if err := c.HealthCheck(ctx); err != nil {
				c.logger.Warn("Health check failed, waiting for brokers", zap.Error(err))
				if err := c.recoverWithBackoff(ctx, onRecovered); err != nil {
					c.logger.Error("Brokers still unreachable", zap.Error(err))
				}
			}
		}
	}
}

func (c *Client) recoverWithBackoff(ctx context.Context, onRecovered func() error) error {
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		backoff := c.backoff(attempt)

		c.logger.Info("Rechecking brokers",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		if err := c.HealthCheck(ctx); err != nil {
			c.logger.Warn("Broker recheck failed", zap.Error(err))
			continue
		}

		if onRecovered != nil {
			if err := onRecovered(); err != nil {
				c.healthy.Store(false)
				c.logger.Warn("Recovery callback failed", zap.Error(err))
				continue
			}
		}

		c.logger.Info("Brokers reachable again")
		return nil
	}

	return fmt.Errorf("brokers unreachable after %d attempts", c.maxRetries)
}

func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(math.Min(
		float64(c.baseBackoff)*math.Pow(2, float64(attempt)),
		float64(c.maxBackoff),
	))
}
