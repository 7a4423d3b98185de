package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/habspeaker/habspeaker/internal/metrics"
	"github.com/habspeaker/habspeaker/internal/registry"
)

// Config contains per-client delivery parameters
type Config struct {
	SendTimeout  time.Duration // bound on a single transport send
	MaxSlowSends int           // consecutive timed-out sends before a client is dropped
}

// Dispatcher fans frames out to every registered client. Dispatch only
// enqueues; each client is drained by its own writer goroutine, so a slow or
// broken client never blocks the producer or its peers.
type Dispatcher struct {
	registry *registry.Registry
	config   Config
	logger   *slog.Logger
	metrics  *metrics.Metrics

	writers sync.Map // *registry.Client -> struct{}
	wg      sync.WaitGroup

	// mu orders writer starts against Stop so no writer is added once
	// Stop has begun waiting.
	mu      sync.Mutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher creates a dispatcher over the given registry
func NewDispatcher(reg *registry.Registry, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Second
	}
	if cfg.MaxSlowSends < 1 {
		cfg.MaxSlowSends = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		registry: reg,
		config:   cfg,
		logger:   logger,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Dispatch queues frame for every client in the current registry snapshot and
// returns the number of clients it was queued for. It never blocks on a
// client. The frame is shared between clients and must not be modified.
func (d *Dispatcher) Dispatch(frame []byte) int {
	if d.ctx.Err() != nil {
		return 0
	}

	queued := 0
	for _, c := range d.registry.Snapshot() {
		dropped, err := c.Offer(frame)
		if err != nil {
			// Closed between snapshot and offer.
			continue
		}
		for i := 0; i < dropped; i++ {
			d.metrics.RecordChunkDropped()
		}
		if dropped > 0 {
			d.logger.Debug("Client queue full, dropped oldest frames",
				slog.String("client_id", c.ID.String()),
				slog.Int("dropped", dropped),
			)
		}

		d.ensureWriter(c)
		d.metrics.RecordChunkDispatched()
		queued++
	}
	return queued
}

// Stop terminates all writers and waits for them to exit. Frames still
// queued are discarded; clients stay registered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) ensureWriter(c *registry.Client) {
	if _, running := d.writers.Load(c); running {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if _, running := d.writers.LoadOrStore(c, struct{}{}); running {
		return
	}

	d.wg.Add(1)
	go d.runWriter(c)
}

func (d *Dispatcher) runWriter(c *registry.Client) {
	defer d.wg.Done()
	defer d.writers.Delete(c)

	logger := d.logger.With(slog.String("client_id", c.ID.String()))
	slowSends := 0

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-c.Done():
			return
		case frame := <-c.Queue():
			err := d.send(c, frame)
			if err == nil {
				slowSends = 0
				c.MarkSent()
				continue
			}

			if d.ctx.Err() != nil {
				return
			}

			if errors.Is(err, context.DeadlineExceeded) {
				slowSends++
				c.MarkDropped()
				d.metrics.RecordSendFailure("timeout")
				logger.Warn("Send to client timed out",
					slog.Duration("timeout", d.config.SendTimeout),
					slog.Int("consecutive", slowSends),
				)
				if slowSends < d.config.MaxSlowSends {
					continue
				}
				logger.Warn("Client too slow, disconnecting")
			} else {
				d.metrics.RecordSendFailure("error")
				logger.Info("Send to client failed, disconnecting",
					slog.String("error", err.Error()),
				)
			}

			d.registry.Unregister(c)
			return
		}
	}
}

func (d *Dispatcher) send(c *registry.Client, frame []byte) error {
	ctx, cancel := context.WithTimeout(d.ctx, d.config.SendTimeout)
	defer cancel()

	err := c.Transport().Send(ctx, frame)
	if err != nil && ctx.Err() == context.DeadlineExceeded && !errors.Is(err, context.DeadlineExceeded) {
		// Some transports report the aborted write with their own error.
		err = errors.Join(err, context.DeadlineExceeded)
	}
	return err
}
