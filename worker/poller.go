// Package worker runs the shard-claiming delivery loop on top of the
// registry.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/lattice/registry"
)

// Handler processes one claimed shard session. The poller completes the
// session after the handler returns, success or not.
type Handler func(ctx context.Context, session *registry.Session) error

// Config describes one polling worker.
type Config struct {
	// Node identifies this process in worker identities.
	Node string

	// TotalShards is the shard count the work is partitioned into.
	TotalShards int

	// Concurrency bounds how many shards are processed in parallel.
	// Default: 4.
	Concurrency int
}

var (
	errNilRegistry  = errors.New("worker: nil registry")
	errNilHandler   = errors.New("worker: nil handler")
	errBadShardConf = errors.New("worker: node and a positive shard count are required")
)

// Poller sweeps every shard index, claims the ones nobody holds, runs the
// handler, and releases them. Contended shards are skipped: some other
// worker owns them, which is the normal case in a fleet.
type Poller struct {
	reg     *registry.Registry
	handler Handler
	cfg     Config
	log     *slog.Logger
}

// New creates a Poller. Pass a nil logger to use slog.Default.
func New(reg *registry.Registry, handler Handler, cfg Config, logger *slog.Logger) (*Poller, error) {
	if reg == nil {
		return nil, errNilRegistry
	}
	if handler == nil {
		return nil, errNilHandler
	}
	if cfg.Node == "" || cfg.TotalShards < 1 {
		return nil, errBadShardConf
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		reg:     reg,
		handler: handler,
		cfg:     cfg,
		log:     logger.With("component", "shard_poller", "node", cfg.Node),
	}, nil
}

// Sweep makes one claim attempt per shard index and processes everything
// it wins, returning how many shards this sweep claimed. Shards held
// elsewhere are not an error and are not retried within the sweep.
func (p *Poller) Sweep(ctx context.Context) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	var claimed atomic.Int64
	for pos := 0; pos < p.cfg.TotalShards; pos++ {
		shard := registry.ShardIndex{Position: pos, Total: p.cfg.TotalShards}
		g.Go(func() error {
			session, err := p.reg.PickUp(gctx, shard, p.cfg.Node)
			if err != nil {
				return err
			}
			if session == nil {
				return nil
			}
			claimed.Add(1)
			return p.process(gctx, session)
		})
	}

	err := g.Wait()
	return int(claimed.Load()), err
}

// process runs the handler and always releases the shard afterward, even
// when the handler fails or the sweep context is gone: a shard left
// claimed by a dead handler would starve the whole fleet.
func (p *Poller) process(ctx context.Context, session *registry.Session) error {
	handlerErr := p.handler(ctx, session)
	if handlerErr != nil {
		p.log.ErrorContext(ctx, "shard handler failed",
			"shard", session.Shard.String(),
			"error", handlerErr,
		)
	}

	if err := session.Complete(context.WithoutCancel(ctx)); err != nil {
		p.log.ErrorContext(ctx, "shard release failed",
			"shard", session.Shard.String(),
			"error", err,
		)
		return err
	}
	return handlerErr
}

// Run sweeps on a fixed interval until the context ends. Sweep failures
// are logged and do not stop the loop; transient store errors resolve on
// the next tick.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		claimed, err := p.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			p.log.ErrorContext(ctx, "sweep failed", "error", err)
		} else if claimed > 0 {
			p.log.InfoContext(ctx, "sweep completed", "claimed", claimed)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
