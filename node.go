// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sangha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/sangha/community"
	"github.com/blinklabs-io/sangha/event"
	"github.com/blinklabs-io/sangha/store"
)

var (
	ErrStopped        = errors.New("node stopped")
	ErrAlreadyRunning = errors.New("node already running")
)

type submission struct {
	ctx   context.Context
	msg   community.Message
	reply chan error
}

// Node hosts a single community. Messages are applied one at a time by a
// worker goroutine, which also runs the decay and finalize policies and saves
// snapshots.
type Node struct {
	community    *community.Community
	eventBus     *event.EventBus
	inbox        chan submission
	stopCh       chan struct{}
	done         chan struct{}
	shutdownErr  error
	config       Config
	stopOnce     sync.Once
	shutdownOnce sync.Once
	started      atomic.Bool
	ownsBus      bool
}

// New creates a node and restores the latest snapshot from the configured
// store, if there is one
func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.logger = cfg.logger.With("component", "node")
	n := &Node{
		config:   cfg,
		eventBus: cfg.eventBus,
		inbox:    make(chan submission, cfg.inboxSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if n.eventBus == nil {
		n.eventBus = event.NewEventBus(cfg.promRegistry, cfg.logger)
		n.ownsBus = true
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
	defer cancel()
	c, err := n.load(ctx)
	if err != nil {
		if n.ownsBus {
			n.eventBus.Stop()
		}
		return nil, err
	}
	n.community = c
	return n, nil
}

func (n *Node) communityConfig() community.Config {
	return community.Config{
		Logger:         n.config.logger,
		PromRegistry:   n.config.promRegistry,
		EventBus:       n.eventBus,
		TracerProvider: n.config.tracerProvider,
		Clock:          n.config.clock,
		Settings:       n.config.settings,
	}
}

func (n *Node) load(ctx context.Context) (*community.Community, error) {
	if n.config.store == nil {
		return community.New(n.communityConfig()), nil
	}
	rec, err := n.config.store.Latest(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			n.config.logger.Info("no snapshot found, starting empty community")
			return community.New(n.communityConfig()), nil
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	snap, err := community.DecodeSnapshot(rec.Data)
	if err != nil {
		return nil, err
	}
	c, err := community.Restore(snap, n.communityConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to restore snapshot: %w", err)
	}
	return c, nil
}

// Community returns the hosted community. Its queries may be used
// concurrently with the worker.
func (n *Node) Community() *community.Community {
	return n.community
}

// EventBus returns the bus outbound records are published on
func (n *Node) EventBus() *event.EventBus {
	return n.eventBus
}

// Run processes submitted messages until ctx is done or Stop is called
func (n *Node) Run(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	select {
	case <-n.stopCh:
		return n.shutdown()
	default:
	}
	n.config.logger.Info(
		"node started",
		"members", len(n.community.Members()),
		"policy_interval", n.config.policyInterval,
		"snapshot_interval", n.config.snapshotInterval,
	)
	n.loop(ctx)
	return n.shutdown()
}

func (n *Node) loop(ctx context.Context) {
	policy := time.NewTicker(n.config.policyInterval)
	defer policy.Stop()
	var snapshots <-chan time.Time
	if n.config.store != nil && n.config.snapshotInterval > 0 {
		t := time.NewTicker(n.config.snapshotInterval)
		defer t.Stop()
		snapshots = t.C
	}
	for {
		// Stop wins over pending work
		select {
		case <-n.stopCh:
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case sub := <-n.inbox:
			_, err := n.community.Handle(sub.ctx, sub.msg)
			sub.reply <- err
		case <-policy.C:
			n.RunPolicies(ctx)
		case <-snapshots:
			if err := n.SaveSnapshot(ctx); err != nil {
				n.config.logger.Error("failed to save snapshot", "error", err)
			}
		}
	}
}

// Submit hands a message to the worker and waits for it to be applied. The
// returned error is the rejection, if any. Messages submitted before Run
// wait in the inbox.
func (n *Node) Submit(ctx context.Context, msg community.Message) error {
	sub := submission{ctx: ctx, msg: msg, reply: make(chan error, 1)}
	select {
	case n.inbox <- sub:
	case <-n.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-sub.reply:
		return err
	case <-n.done:
		// The worker may have taken the message just before exiting
		select {
		case err := <-sub.reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunPolicies applies karma decay and finalizes due proposals
func (n *Node) RunPolicies(ctx context.Context) {
	decayed := n.community.Decay(ctx)
	resolved := n.community.FinalizeDue(ctx, n.config.finalizePolicy)
	if decayed > 0 || len(resolved) > 0 {
		n.config.logger.Debug(
			"ran community policies",
			"decayed", decayed,
			"resolved", len(resolved),
		)
	}
}

// SaveSnapshot writes the current state to the configured store
func (n *Node) SaveSnapshot(ctx context.Context) error {
	if n.config.store == nil {
		return nil
	}
	snap := n.community.Snapshot()
	data, err := community.EncodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	rec := store.Record{
		TakenAt: snap.TakenAt,
		Data:    data,
		Members: Summarize(n.community),
	}
	if err := n.config.store.Save(ctx, rec); err != nil {
		return err
	}
	n.config.logger.Debug(
		"saved snapshot",
		"taken_at", snap.TakenAt,
		"members", len(rec.Members),
	)
	return nil
}

// Summarize flattens the current members of c for storage
func Summarize(c *community.Community) []store.MemberSummary {
	members := c.Members()
	ret := make([]store.MemberSummary, 0, len(members))
	for _, m := range members {
		summary := store.MemberSummary{
			Identity:      m.Identity.String(),
			DisplayName:   m.DisplayName,
			Consciousness: m.Reputation.Consciousness.String(),
			Karma:         m.Reputation.Karma,
			Violations:    m.Reputation.Violations,
		}
		// Members can only disappear between the two calls
		if a, err := c.Trust(m.Identity); err == nil {
			summary.Level = a.Level.String()
			summary.Score = a.Score
		}
		ret = append(ret, summary)
	}
	return ret
}

// Stop ends Run, saves a final snapshot and releases the store. It is safe
// to call more than once, and before Run. Submit returns ErrStopped
// afterwards.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		close(n.stopCh)
	})
	if n.started.Load() {
		<-n.done
		return n.shutdownErr
	}
	return n.shutdown()
}

func (n *Node) shutdown() error {
	n.shutdownOnce.Do(func() {
		var err error
		ctx, cancel := context.WithTimeout(
			context.Background(),
			n.config.shutdownTimeout,
		)
		defer cancel()
		n.config.logger.Debug("starting graceful shutdown")
		if n.config.store != nil {
			if saveErr := n.SaveSnapshot(ctx); saveErr != nil {
				err = errors.Join(err, fmt.Errorf("final snapshot: %w", saveErr))
			}
			if closeErr := n.config.store.Close(); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("store close: %w", closeErr))
			}
		}
		if n.ownsBus {
			n.eventBus.Stop()
		}
		n.config.logger.Debug("graceful shutdown complete")
		n.shutdownErr = err
		close(n.done)
	})
	return n.shutdownErr
}
