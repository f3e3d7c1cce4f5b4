package usage

import (
	"testing"
	"time"
)

// Appended records aggregate by day with token sums.
func TestAppendAndAggregate(t *testing.T) {
	s := NewStore(t.TempDir())

	if err := s.Append(Record{Provider: "anthropic", Model: "m", PromptTokens: 100, CompletionTokens: 20, UsageKnown: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(Record{Provider: "openai", Model: "f", UsageKnown: false}); err != nil {
		t.Fatal(err)
	}

	agg := s.AggregateDay("")
	if agg.Calls != 2 || agg.KnownCalls != 1 || agg.UnknownCalls != 1 {
		t.Fatalf("agg = %+v", agg)
	}
	if agg.TotalTokens != 120 {
		t.Errorf("total tokens = %d, want 120", agg.TotalTokens)
	}
}

// The ledger survives reopening from the same workspace.
func TestStorePersists(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	if err := s.Append(Record{Provider: "anthropic", PromptTokens: 10, UsageKnown: true}); err != nil {
		t.Fatal(err)
	}

	reopened := NewStore(dir)
	if reopened.Count() != 1 {
		t.Fatalf("count = %d, want 1", reopened.Count())
	}
}

// Records older than the retention window are pruned on append.
func TestRetentionPrunes(t *testing.T) {
	s := NewStore(t.TempDir())
	old := Record{Provider: "anthropic", Timestamp: time.Now().AddDate(0, 0, -60), UsageKnown: true}
	if err := s.Append(old); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(Record{Provider: "anthropic", UsageKnown: true}); err != nil {
		t.Fatal(err)
	}
	if s.Count() != 1 {
		t.Fatalf("count = %d, want 1 after pruning", s.Count())
	}
}
