package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/config"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/model"
	gstore "github.com/ngoclaw/ngoclaw/gateway/internal/store"
)

func TestStripThinkingSignatures(t *testing.T) {
	blocks := []model.ContentBlock{
		{Type: model.BlockThinking, Thinking: "reasoning...", Signature: "vendor-sig"},
		{Type: model.BlockText, Text: "answer"},
	}
	out := stripThinkingSignatures(blocks)
	for _, b := range out {
		if b.Type == model.BlockThinking && b.Signature != "" {
			t.Fatalf("expected signature stripped, got %q", b.Signature)
		}
	}
	if out[1].Text != "answer" {
		t.Fatalf("non-thinking block mutated: %+v", out[1])
	}
}

func TestThinkingBudgetForRespectsCeiling(t *testing.T) {
	g := &Gateway{thinkingBudget: 10000}
	if got := g.thinkingBudgetFor(8192); got != 8192-2048 {
		t.Fatalf("expected ceiling-bound budget %d, got %d", 8192-2048, got)
	}
	g.thinkingBudget = 100
	if got := g.thinkingBudgetFor(8192); got != 100 {
		t.Fatalf("expected configured budget 100, got %d", got)
	}
}

func newTestStore(t *testing.T) gstore.Store {
	t.Helper()
	db, err := gstore.Open(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return gstore.New(db)
}

// fakeAnthropicServer simulates the batch submit -> (in_progress once) ->
// ended -> results sequence.
func fakeAnthropicServer(t *testing.T) *httptest.Server {
	t.Helper()
	polls := 0
	var mux http.ServeMux
	mux.HandleFunc("/v1/messages/batches", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(batchStatus{ID: "batch_1", ProcessingStatus: "in_progress"})
	})
	var server *httptest.Server
	mux.HandleFunc("/v1/messages/batches/batch_1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 2 {
			_ = json.NewEncoder(w).Encode(batchStatus{ID: "batch_1", ProcessingStatus: "in_progress"})
			return
		}
		_ = json.NewEncoder(w).Encode(batchStatus{ID: "batch_1", ProcessingStatus: "ended", ResultsURL: server.URL + "/results"})
	})
	mux.HandleFunc("/results", func(w http.ResponseWriter, r *http.Request) {
		line := batchResultLine{CustomID: "req-1"}
		line.Result.Type = "succeeded"
		line.Result.Message = wireResponse{
			Model:      "claude-sonnet-4",
			StopReason: "end_turn",
			Content:    []wireContentBlock{{Type: "text", Text: "hello"}},
			Usage:      wireUsage{InputTokens: 10, OutputTokens: 5},
		}
		_ = json.NewEncoder(w).Encode(line)
	})
	server = httptest.NewServer(&mux)
	t.Cleanup(server.Close)
	return server
}

func TestCompleteRoundTrip(t *testing.T) {
	server := fakeAnthropicServer(t)
	s := newTestStore(t)

	g := New(config.LLMConfig{
		BaseURL:      server.URL,
		APIKey:       "test-key",
		Models:       map[string]string{"builder": "claude-sonnet-4"},
		MaxTokens:    1024,
		PollInterval: 0,
		PollBackoff:  1.0,
	}, s, zap.NewNop())

	msg, err := g.Complete(context.Background(), CompleteRequest{
		Phase:       model.PhaseBuilder,
		IterationID: "iter-1",
		System:      []PromptBlock{{Text: "you are a builder", CacheBreakpoint: true}},
		Messages:    []model.Message{model.TextMessage(model.RoleUser, "add a function")},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if msg.TextOnly() != "hello" {
		t.Fatalf("unexpected response text: %q", msg.TextOnly())
	}

	records, err := s.FindGeneratedByIteration(context.Background(), "iter-1")
	if err != nil {
		t.Fatalf("find generated: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 persisted record, got %d", len(records))
	}
	if !records[0].Batch {
		t.Fatal("expected record.Batch = true")
	}
	if records[0].Cost <= 0 {
		t.Fatal("expected nonzero cost")
	}
}
