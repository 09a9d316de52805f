package watchdog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zapdesk/zapdesk/internal/wa"
)

// Connection is the slice of the connection manager the watchdog drives.
type Connection interface {
	GetState() wa.State
	Init(ctx context.Context) error
}

// Watchdog periodically checks the connection and restarts it when it is
// neither connected nor already trying to connect.
type Watchdog struct {
	conn     Connection
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// New creates a watchdog that checks the connection every interval.
func New(conn Connection, interval time.Duration, logger *zap.Logger) *Watchdog {
	return &Watchdog{
		conn:     conn,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the periodic health check.
func (w *Watchdog) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

// Stop stops the health check loop.
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Watchdog) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// check restarts the connection when it has settled into a dead state.
// A connecting session is left alone: it is either mid-handshake or
// waiting on a QR scan, and restarting it would discard the challenge.
func (w *Watchdog) check(ctx context.Context) {
	state := w.conn.GetState()
	switch state.Status {
	case wa.StatusConnected, wa.StatusConnecting:
		return
	}

	w.logger.Warn("connection down, restarting",
		zap.String("status", string(state.Status)))
	if err := w.conn.Init(ctx); err != nil {
		w.logger.Error("watchdog restart failed", zap.Error(err))
	}
}
