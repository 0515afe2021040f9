// Package store implements the Rule Configuration Store (spec.md §4.2):
// a single source of truth for the active RuleConfiguration, with
// atomic publish, bounded version history, and hot reload.
package store

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/silencealoe/data-clean-tool/internal/domain"
	"github.com/silencealoe/data-clean-tool/internal/obs/logger"
	"github.com/silencealoe/data-clean-tool/internal/rules/strategy"
)

// MaxHistorySize bounds the number of prior active configurations kept.
const MaxHistorySize = 20

// HistoryEntry is one bounded-history record.
type HistoryEntry struct {
	Config      *domain.RuleConfiguration
	Description string
	ReplacedAt  time.Time
}

// Stats summarizes the store's current state (spec.md §4.2 "History and
// stats").
type Stats struct {
	CurrentVersion int       `json:"currentVersion"`
	HistorySize    int       `json:"historySize"`
	TotalFields    int       `json:"totalFields"`
	TotalRules     int       `json:"totalRules"`
	LastUpdated    time.Time `json:"lastUpdated"`
	IsInitialized  bool      `json:"isInitialized"`
}

// Store holds the active RuleConfiguration and its bounded history.
// Readers observe the active config via an atomic pointer: they always
// see a fully formed snapshot (spec.md §4.2, §8 property 5).
type Store struct {
	registry *strategy.Registry
	path     string

	active atomic.Pointer[domain.RuleConfiguration]

	mu      sync.Mutex // serializes update()/reload() — single-writer
	history []HistoryEntry

	log *logger.Logger
}

// New creates a Store bound to a Strategy Registry used for strategy
// resolvability checks and a file path used by Reload.
func New(registry *strategy.Registry, path string) *Store {
	return &Store{
		registry: registry,
		path:     path,
		log:      logger.With("rules.store"),
	}
}

// Load reads the configuration from the store's file source; if missing,
// uses the built-in default template (spec.md §4.2 "Load").
func (s *Store) Load() error {
	cfg, err := s.readFile()
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Info("rule config file not found, using built-in default", "path", s.path)
			cfg = DefaultConfiguration()
		} else {
			return fmt.Errorf("rule config IOFailure: %w", err)
		}
	}

	if err := Validate(cfg, s.registry); err != nil {
		return fmt.Errorf("rule config InvalidConfiguration: %w", err)
	}

	cfg.Metadata.Version = 1
	cfg.Metadata.UpdatedAt = time.Now().UTC()
	s.active.Store(cfg)
	s.log.Info("rule configuration loaded", "name", cfg.Metadata.Name, "version", cfg.Metadata.Version)
	return nil
}

func (s *Store) readFile() (*domain.RuleConfiguration, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var cfg domain.RuleConfiguration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing rule config yaml: %w", err)
	}
	return &cfg, nil
}

// Get returns the currently active configuration snapshot by reference.
// The snapshot is immutable after publish; callers may hold it for the
// duration of a job without it changing under them.
func (s *Store) Get() *domain.RuleConfiguration {
	return s.active.Load()
}

// Update validates cfg, appends the previous active config to history,
// and atomically publishes cfg as the new active configuration. Update
// calls are serialized (single-writer); readers never observe a torn
// config.
func (s *Store) Update(cfg *domain.RuleConfiguration, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := Validate(cfg, s.registry); err != nil {
		return fmt.Errorf("rule config InvalidConfiguration: %w", err)
	}

	prev := s.active.Load()
	if prev != nil {
		cfg.Metadata.Version = prev.Metadata.Version + 1
	} else {
		cfg.Metadata.Version = 1
	}
	cfg.Metadata.UpdatedAt = time.Now().UTC()

	if prev != nil {
		s.history = append(s.history, HistoryEntry{Config: prev, Description: description, ReplacedAt: cfg.Metadata.UpdatedAt})
		if len(s.history) > MaxHistorySize {
			s.history = s.history[len(s.history)-MaxHistorySize:]
		}
	}

	s.active.Store(cfg)
	s.log.Info("rule configuration updated", "version", cfg.Metadata.Version, "description", description)
	return nil
}

// Reload re-reads the configuration from the file source, validating
// before publish. On failure the previous active config is kept and the
// error is returned (spec.md §4.2 "Hot reload").
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.readFile()
	if err != nil {
		return fmt.Errorf("rule config IOFailure: %w", err)
	}
	if err := Validate(cfg, s.registry); err != nil {
		s.log.Warn("rule config reload rejected, keeping previous active config", "error", err.Error())
		return fmt.Errorf("rule config InvalidConfiguration: %w", err)
	}

	prev := s.active.Load()
	if prev != nil {
		cfg.Metadata.Version = prev.Metadata.Version + 1
		s.history = append(s.history, HistoryEntry{Config: prev, Description: "hot reload", ReplacedAt: time.Now().UTC()})
		if len(s.history) > MaxHistorySize {
			s.history = s.history[len(s.history)-MaxHistorySize:]
		}
	} else {
		cfg.Metadata.Version = 1
	}
	cfg.Metadata.UpdatedAt = time.Now().UTC()
	s.active.Store(cfg)
	s.log.Info("rule configuration reloaded", "version", cfg.Metadata.Version)
	return nil
}

// History returns up to limit most-recent history entries, newest first.
func (s *Store) History(limit int) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]HistoryEntry, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.history[n-1-i]
	}
	return out
}

// StatsSnapshot computes current Stats from the active configuration.
func (s *Store) StatsSnapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.active.Load()
	if cfg == nil {
		return Stats{IsInitialized: false}
	}
	totalRules := 0
	for _, rules := range cfg.FieldRules {
		totalRules += len(rules)
	}
	return Stats{
		CurrentVersion: cfg.Metadata.Version,
		HistorySize:    len(s.history),
		TotalFields:    len(cfg.FieldRules),
		TotalRules:     totalRules,
		LastUpdated:    cfg.Metadata.UpdatedAt,
		IsInitialized:  true,
	}
}
