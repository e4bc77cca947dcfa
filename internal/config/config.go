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

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/blinklabs-io/sangha/community"
	"github.com/blinklabs-io/sangha/consensus"
)

type ctxKey string

const configContextKey ctxKey = "sangha.config"

const (
	EnvPrefix           = "SANGHA"
	DefaultStoreBackend = "badger"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	StoreBackend          string        `yaml:"storeBackend"          split_words:"true"`
	DataDir               string        `yaml:"dataDir"               split_words:"true"`
	GcsBucket             string        `yaml:"gcsBucket"             split_words:"true"`
	GcsCredentialsFile    string        `yaml:"gcsCredentialsFile"    envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
	MetricsBindAddr       string        `yaml:"metricsBindAddr"       split_words:"true"`
	SnapshotRetain        int           `yaml:"snapshotRetain"        split_words:"true"`
	InboxSize             int           `yaml:"inboxSize"             split_words:"true"`
	MetricsPort           uint          `yaml:"metricsPort"           split_words:"true"`
	SnapshotInterval      time.Duration `yaml:"snapshotInterval"      split_words:"true"`
	PolicyInterval        time.Duration `yaml:"policyInterval"        split_words:"true"`
	ShutdownTimeout       time.Duration `yaml:"shutdownTimeout"       split_words:"true"`
	FinalizeMaxAge        time.Duration `yaml:"finalizeMaxAge"        split_words:"true"`
	FinalizeParticipation float64       `yaml:"finalizeParticipation" split_words:"true"`
	Tracing               bool          `yaml:"tracing"`
	TracingStdout         bool          `yaml:"tracingStdout"         split_words:"true"`
	// Community settings are only read from the config file
	Community community.Settings `yaml:"community" ignored:"true"`
}

// FinalizePolicy returns the proposal finalize policy described by the config
func (c *Config) FinalizePolicy() consensus.FinalizePolicy {
	return consensus.FinalizePolicy{
		MaxAge:        c.FinalizeMaxAge,
		Participation: c.FinalizeParticipation,
	}
}

func (c *Config) validate() error {
	if c.StoreBackend == "" {
		return errors.New("no store backend configured")
	}
	if c.PolicyInterval <= 0 {
		return fmt.Errorf("invalid policyInterval: %s", c.PolicyInterval)
	}
	if c.FinalizeParticipation < 0 || c.FinalizeParticipation > 1 {
		return fmt.Errorf(
			"invalid finalizeParticipation: %v (must be between 0 and 1)",
			c.FinalizeParticipation,
		)
	}
	return nil
}

// DefaultConfig returns the configuration used when nothing overrides it
func DefaultConfig() *Config {
	policy := consensus.DefaultFinalizePolicy()
	return &Config{
		StoreBackend:          DefaultStoreBackend,
		DataDir:               ".sangha",
		MetricsBindAddr:       "0.0.0.0",
		MetricsPort:           12799,
		SnapshotRetain:        8,
		InboxSize:             64,
		SnapshotInterval:      10 * time.Minute,
		PolicyInterval:        time.Minute,
		ShutdownTimeout:       30 * time.Second,
		FinalizeMaxAge:        policy.MaxAge,
		FinalizeParticipation: policy.Participation,
		Community:             community.DefaultSettings(),
	}
}

var globalConfig = DefaultConfig()

// findConfigFile looks for ~/.sangha/sangha.yaml and then /etc/sangha/sangha.yaml
func findConfigFile() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(homeDir, ".sangha", "sangha.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath
		}
	}
	systemPath := "/etc/sangha/sangha.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath
	}
	return ""
}

// LoadConfig builds the configuration from defaults, the config file and the
// environment, in that order
func LoadConfig(configFile string) (*Config, error) {
	cfg := DefaultConfig()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Overlay config values onto existing defaults
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

func GetConfig() *Config {
	return globalConfig
}
