// Package usage is the advisor-call accounting ledger: one record per LLM
// consult, aggregated per day and provider, persisted atomically under the
// workspace state directory.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	stateVersion  = 1
	retentionDays = 30
)

// Record is one advisor call.
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	DayKey           string    `json:"day_key"`
	CorrelationID    string    `json:"correlation_id,omitempty"`
	Provider         string    `json:"provider,omitempty"`
	Model            string    `json:"model,omitempty"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	TotalTokens      int       `json:"total_tokens,omitempty"`
	UsageKnown       bool      `json:"usage_known"`
	Reason           string    `json:"reason,omitempty"`
}

// Aggregate sums a set of records.
type Aggregate struct {
	Calls            int `json:"calls"`
	KnownCalls       int `json:"known_calls"`
	UnknownCalls     int `json:"unknown_calls"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type usageState struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// Store persists advisor-call records with a bounded retention window.
type Store struct {
	mu        sync.RWMutex
	path      string
	state     usageState
	retention int
}

// NewStore opens (or creates) the usage ledger under workspace/state.
func NewStore(workspace string) *Store {
	stateDir := filepath.Join(workspace, "state")
	_ = os.MkdirAll(stateDir, 0755)

	s := &Store{
		path:      filepath.Join(stateDir, "advisor_usage.json"),
		state:     usageState{Version: stateVersion, Records: []Record{}},
		retention: retentionDays,
	}
	_ = s.load()
	_ = s.pruneAndSaveLocked(time.Now())
	return s
}

// DayKey formats ts as the ledger's daily bucket key (UTC).
func (s *Store) DayKey(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

// Append records one advisor call and persists the ledger.
func (s *Store) Append(record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if record.Timestamp.IsZero() {
		record.Timestamp = now
	}
	if record.DayKey == "" {
		record.DayKey = s.DayKey(record.Timestamp)
	}
	if record.TotalTokens == 0 && (record.PromptTokens > 0 || record.CompletionTokens > 0) {
		record.TotalTokens = record.PromptTokens + record.CompletionTokens
	}

	s.state.Records = append(s.state.Records, record)
	return s.pruneAndSaveLocked(now)
}

// AggregateDay sums the records for one day key ("" = today).
func (s *Store) AggregateDay(dayKey string) Aggregate {
	if dayKey == "" {
		dayKey = s.DayKey(time.Now())
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var agg Aggregate
	for _, r := range s.state.Records {
		if r.DayKey != dayKey {
			continue
		}
		agg.Calls++
		if r.UsageKnown {
			agg.KnownCalls++
		} else {
			agg.UnknownCalls++
		}
		agg.PromptTokens += r.PromptTokens
		agg.CompletionTokens += r.CompletionTokens
		agg.TotalTokens += r.TotalTokens
	}
	return agg
}

// Count returns the total retained record count.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Records)
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var st usageState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parsing usage ledger %s: %w", s.path, err)
	}
	if st.Version == stateVersion {
		s.state = st
	}
	return nil
}

func (s *Store) pruneAndSaveLocked(now time.Time) error {
	cutoff := now.AddDate(0, 0, -s.retention)
	kept := s.state.Records[:0]
	for _, r := range s.state.Records {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	s.state.Records = kept

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
