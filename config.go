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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/blinklabs-io/sangha/community"
	"github.com/blinklabs-io/sangha/consensus"
	"github.com/blinklabs-io/sangha/event"
	"github.com/blinklabs-io/sangha/store"
)

const (
	DefaultPolicyInterval   = time.Minute
	DefaultSnapshotInterval = 10 * time.Minute
	DefaultInboxSize        = 64
	DefaultShutdownTimeout  = 30 * time.Second
)

type Config struct {
	promRegistry     prometheus.Registerer
	tracerProvider   trace.TracerProvider
	logger           *slog.Logger
	eventBus         *event.EventBus
	store            store.Store
	clock            func() time.Time
	settings         community.Settings
	finalizePolicy   consensus.FinalizePolicy
	policyInterval   time.Duration
	snapshotInterval time.Duration
	shutdownTimeout  time.Duration
	inboxSize        int
}

func (c *Config) validate() error {
	if c.policyInterval <= 0 {
		return errors.New("policy interval must be positive")
	}
	if c.snapshotInterval < 0 {
		return errors.New("snapshot interval must not be negative")
	}
	if c.inboxSize <= 0 {
		return fmt.Errorf("invalid inbox size: %d", c.inboxSize)
	}
	if p := c.finalizePolicy.Participation; p < 0 || p > 1 {
		return fmt.Errorf("finalize participation out of range: %v", p)
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new sangha config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:           slog.New(slog.NewJSONHandler(io.Discard, nil)),
		finalizePolicy:   consensus.DefaultFinalizePolicy(),
		policyInterval:   DefaultPolicyInterval,
		snapshotInterval: DefaultSnapshotInterval,
		shutdownTimeout:  DefaultShutdownTimeout,
		inboxSize:        DefaultInboxSize,
		clock:            time.Now,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

func WithTracerProvider(provider trace.TracerProvider) ConfigOptionFunc {
	return func(c *Config) {
		c.tracerProvider = provider
	}
}

// WithEventBus uses an existing event bus. The node creates and owns one
// otherwise.
func WithEventBus(bus *event.EventBus) ConfigOptionFunc {
	return func(c *Config) {
		c.eventBus = bus
	}
}

// WithStore specifies where snapshots are loaded from and saved to. The
// node closes the store when it stops.
func WithStore(s store.Store) ConfigOptionFunc {
	return func(c *Config) {
		c.store = s
	}
}

// WithSettings specifies the community settings used when no snapshot is
// restored
func WithSettings(settings community.Settings) ConfigOptionFunc {
	return func(c *Config) {
		c.settings = settings
	}
}

func WithFinalizePolicy(policy consensus.FinalizePolicy) ConfigOptionFunc {
	return func(c *Config) {
		c.finalizePolicy = policy
	}
}

// WithPolicyInterval specifies how often decay and proposal finalization run
func WithPolicyInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.policyInterval = interval
	}
}

// WithSnapshotInterval specifies how often a snapshot is saved. Zero only
// saves on stop.
func WithSnapshotInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.snapshotInterval = interval
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

// WithInboxSize specifies how many submitted messages may wait for the worker
func WithInboxSize(size int) ConfigOptionFunc {
	return func(c *Config) {
		c.inboxSize = size
	}
}

func WithClock(clock func() time.Time) ConfigOptionFunc {
	return func(c *Config) {
		if clock != nil {
			c.clock = clock
		}
	}
}
