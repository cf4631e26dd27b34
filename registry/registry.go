// Package registry arbitrates ownership of logical work shards across a
// fleet of processes, guaranteeing at most one active worker per shard.
// It is a specialized client of the record store: shard sessions are
// ordinary records, and the single-owner invariant rests entirely on the
// store's transaction isolation, never on in-process locks.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/lattice/record"
)

// KindShardSession is the kind shard session records are stored under.
const KindShardSession record.Kind = "shard_session"

// ShardIndex identifies one logical partition of a total ordering of work.
// Equality is structural.
type ShardIndex struct {
	Position int
	Total    int
}

// String is the canonical identifier form, "<position>.<total>".
func (s ShardIndex) String() string {
	return strconv.Itoa(s.Position) + "." + strconv.Itoa(s.Total)
}

func parseShardIndex(s string) (ShardIndex, error) {
	pos, total, ok := strings.Cut(s, ".")
	if !ok {
		return ShardIndex{}, fmt.Errorf("malformed shard index %q", s)
	}
	p, err := strconv.Atoi(pos)
	if err != nil {
		return ShardIndex{}, fmt.Errorf("malformed shard index %q: %w", s, err)
	}
	t, err := strconv.Atoi(total)
	if err != nil {
		return ShardIndex{}, fmt.Errorf("malformed shard index %q: %w", s, err)
	}
	return ShardIndex{Position: p, Total: t}, nil
}

// WorkerIdentity identifies a claiming process/thread pair: a node
// identifier plus a per-claim disambiguator, so two concurrent claims
// from the same node never produce equal identities.
type WorkerIdentity struct {
	Node string
	Tag  string
}

// sessionState is the persisted payload of one shard session record.
// Records are created implicitly on first claim and never deleted;
// release clears the worker fields and keeps the timestamp history.
type sessionState struct {
	WorkerNode   string    `dynamodbav:"worker_node"`
	WorkerTag    string    `dynamodbav:"worker_tag"`
	LastPickedUp time.Time `dynamodbav:"last_picked_up"`
}

var errShardClaimed = errors.New("lattice: shard already claimed")

// Registry claims and releases shard sessions.
type Registry struct {
	storage *record.Storage[ShardIndex, sessionState]
	log     *slog.Logger
}

// New creates a Registry on the given store. Transactional dispatch is
// forced on: claim correctness depends on it.
func New(client record.Client, cfg record.Config, logger *slog.Logger) (*Registry, error) {
	cfg.Transactional = true
	if logger == nil {
		logger = slog.Default()
	}

	spec, err := record.NewSpec(
		KindShardSession,
		record.FlatLayout[ShardIndex]{},
		parseShardIndex,
		map[string]record.Column[sessionState]{
			"worker_node": {Type: record.TypeString, Value: func(s sessionState) any {
				if s.WorkerNode == "" {
					return nil
				}
				return s.WorkerNode
			}},
			"last_picked_up": {Type: record.TypeTimestamp, Value: func(s sessionState) any {
				return s.LastPickedUp
			}},
		},
	)
	if err != nil {
		return nil, err
	}

	storage, err := record.New(client, cfg, spec, logger)
	if err != nil {
		return nil, err
	}
	return &Registry{
		storage: storage,
		log:     logger.With("component", "shard_registry"),
	}, nil
}

// Session is a successfully claimed shard. The claim stays in force until
// Complete is called; there is no lease expiry.
type Session struct {
	reg *Registry

	Shard      ShardIndex
	Worker     WorkerIdentity
	PickedUpAt time.Time
}

// PickUp attempts to claim shard for node. A shard that is unclaimed (or
// has never been seen) is claimed and its session returned. A shard held
// by any worker, or lost to a concurrent claimer, yields a nil session
// and no error: contention is a normal outcome, not a failure, and no
// retry happens here. Blind retry under contention herds across shards,
// so retry policy belongs to the caller.
func (r *Registry) PickUp(ctx context.Context, shard ShardIndex, node string) (*Session, error) {
	worker := WorkerIdentity{Node: node, Tag: uuid.NewString()}
	now := time.Now().UTC()

	err := r.storage.Update(ctx, shard, func(cur sessionState, found bool) (sessionState, error) {
		if found && cur.WorkerNode != "" {
			return cur, errShardClaimed
		}
		return sessionState{
			WorkerNode:   worker.Node,
			WorkerTag:    worker.Tag,
			LastPickedUp: now,
		}, nil
	})
	switch {
	case errors.Is(err, errShardClaimed), errors.Is(err, record.ErrConflict):
		r.log.DebugContext(ctx, "shard contended", "shard", shard.String(), "node", node)
		return nil, nil
	case err != nil:
		return nil, err
	}

	r.log.InfoContext(ctx, "shard claimed", "shard", shard.String(), "node", node, "tag", worker.Tag)
	return &Session{reg: r, Shard: shard, Worker: worker, PickedUpAt: now}, nil
}

// Complete releases the session's shard, making it eligible for pick-up
// by any node. The session record keeps its last-picked-up timestamp.
func (s *Session) Complete(ctx context.Context) error {
	err := s.reg.storage.Update(ctx, s.Shard, func(cur sessionState, found bool) (sessionState, error) {
		if !found {
			return cur, fmt.Errorf("complete shard %s: %w", s.Shard, record.ErrNotFound)
		}
		cur.WorkerNode = ""
		cur.WorkerTag = ""
		return cur, nil
	})
	if err != nil {
		return err
	}
	s.reg.log.InfoContext(ctx, "shard released", "shard", s.Shard.String(), "node", s.Worker.Node)
	return nil
}

// ShardSession is a read-only view of a shard's persisted session state.
type ShardSession struct {
	Shard ShardIndex

	// Worker is nil when the shard is unclaimed.
	Worker *WorkerIdentity

	// LastPickedUp is zero for shards never claimed.
	LastPickedUp time.Time
}

// Lookup reads the current session state for a shard. A shard with no
// session record is reported as unclaimed.
func (r *Registry) Lookup(ctx context.Context, shard ShardIndex) (ShardSession, error) {
	st, err := r.storage.Find(ctx, shard)
	if errors.Is(err, record.ErrNotFound) {
		return ShardSession{Shard: shard}, nil
	}
	if err != nil {
		return ShardSession{}, err
	}
	view := ShardSession{Shard: shard, LastPickedUp: st.LastPickedUp}
	if st.WorkerNode != "" {
		view.Worker = &WorkerIdentity{Node: st.WorkerNode, Tag: st.WorkerTag}
	}
	return view, nil
}
