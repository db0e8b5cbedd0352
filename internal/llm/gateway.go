package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/config"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/model"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/pricing"
	"github.com/ngoclaw/ngoclaw/gateway/internal/errs"
	"github.com/ngoclaw/ngoclaw/gateway/internal/store"
)

// ToolSchema is the wire-facing shape of a tool definition; internal/tool
// builds one of these per registered tool to pass to the Gateway.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// CompleteRequest is the single call contract of the LLM Gateway.
type CompleteRequest struct {
	Phase       model.Phase
	IterationID string
	System      []PromptBlock
	Messages    []model.Message
	Tools       []ToolSchema
}

// phasesWithThinking are the phases that get a thinking token budget.
var phasesWithThinking = map[model.Phase]bool{
	model.PhasePlanner: true,
	model.PhaseBuilder: true,
	model.PhaseFixer:   true,
	model.PhaseReflect: true,
}

type Gateway struct {
	client          *batchClient
	store           store.Store
	models          map[string]string
	maxTokens       int
	thinkingBudget  int
	pollInterval    time.Duration
	pollBackoff     float64
	maxPollInterval time.Duration
	log             *zap.Logger
}

func New(cfg config.LLMConfig, s store.Store, log *zap.Logger) *Gateway {
	return &Gateway{
		client:          newBatchClient(cfg.BaseURL, cfg.APIKey, log),
		store:           s,
		models:          cfg.Models,
		maxTokens:       cfg.MaxTokens,
		thinkingBudget:  cfg.ThinkingBudget,
		pollInterval:    cfg.PollInterval,
		pollBackoff:     cfg.PollBackoff,
		maxPollInterval: cfg.MaxPollInterval,
		log:             log.With(zap.String("component", "llm_gateway")),
	}
}

func (g *Gateway) modelFor(phase model.Phase) string {
	if m, ok := g.models[string(phase)]; ok && m != "" {
		return m
	}
	return "claude-sonnet-4"
}

// thinkingBudgetFor computes min(configured, maxTokens-2048).
func (g *Gateway) thinkingBudgetFor(maxTokens int) int {
	ceiling := maxTokens - 2048
	if ceiling < 0 {
		ceiling = 0
	}
	if g.thinkingBudget < ceiling {
		return g.thinkingBudget
	}
	return ceiling
}

// Complete submits a single-element batch, polls with exponential backoff
// until a terminal result, strips thinking signatures, persists a
// GeneratedRecord, and returns the assistant message.
func (g *Gateway) Complete(ctx context.Context, req CompleteRequest) (model.Message, error) {
	modelID := g.modelFor(req.Phase)
	maxTokens := g.maxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	wireReq := wireRequest{
		Model:     modelID,
		MaxTokens: maxTokens,
		System:    toWireSystem(req.System),
		Messages:  toWireMessages(req.Messages),
		Tools:     toWireTools(req.Tools),
	}

	if phasesWithThinking[req.Phase] {
		budget := g.thinkingBudgetFor(maxTokens)
		if budget > 0 {
			wireReq.Thinking = &wireThinking{Type: "enabled", BudgetTokens: budget}
			wireReq.MaxTokens = maxTokens + budget
		}
	}

	batchID, err := g.client.submit(ctx, wireReq)
	if err != nil {
		return model.Message{}, errs.Wrap(errs.LlmBatchFailed, "submit batch", err)
	}

	status, err := g.pollUntilDone(ctx, batchID)
	if err != nil {
		return model.Message{}, err
	}

	if status.ProcessingStatus != "ended" {
		return model.Message{}, errs.New(errs.LlmBatchFailed, fmt.Sprintf("batch %s in unexpected terminal state %q", batchID, status.ProcessingStatus))
	}

	result, err := g.client.fetchResult(ctx, status.ResultsURL)
	if err != nil {
		return model.Message{}, errs.Wrap(errs.LlmBatchFailed, "fetch batch result", err)
	}

	if result.Result.Type != "succeeded" {
		return model.Message{}, errs.New(errs.LlmBatchFailed, fmt.Sprintf("%s: %s", result.Result.Type, result.Result.Error.Message))
	}

	response := result.Result.Message
	assistantBlocks := fromWireBlocks(response.Content)
	persistedBlocks := stripThinkingSignatures(assistantBlocks)

	record := &model.GeneratedRecord{
		ID:                 uuid.NewString(),
		Phase:              req.Phase,
		ModelID:            modelID,
		IterationID:        req.IterationID,
		System:             blockTexts(req.System),
		Messages:           req.Messages,
		Response:           persistedBlocks,
		InputTokens:        response.Usage.InputTokens,
		OutputTokens:       response.Usage.OutputTokens,
		CacheReadTokens:    response.Usage.CacheReadInputTokens,
		Batch:              true,
		StopReason:         response.StopReason,
		CreatedAt:          time.Now().UTC(),
	}
	if response.Usage.CacheCreation != nil {
		record.CacheWrite5mTokens = response.Usage.CacheCreation.Ephemeral5mInputTokens
		record.CacheWrite1hTokens = response.Usage.CacheCreation.Ephemeral1hInputTokens
	}
	record.Cost = pricing.ComputeCost(modelID, record.Usage(), record.Batch)

	if err := g.store.InsertGenerated(ctx, record); err != nil {
		return model.Message{}, err
	}

	return model.Message{Role: model.RoleAssistant, Content: persistedBlocks}, nil
}

// Summarize implements memory.Summarizer by invoking the memory phase.
func (g *Gateway) Summarize(ctx context.Context, content string) (string, error) {
	msg, err := g.Complete(ctx, CompleteRequest{
		Phase: model.PhaseMemory,
		System: []PromptBlock{{
			Text:            "Summarize the following note in one short sentence, for later recall.",
			CacheBreakpoint: true,
		}},
		Messages: []model.Message{model.TextMessage(model.RoleUser, content)},
	})
	if err != nil {
		return "", err
	}
	summary := msg.TextOnly()
	if summary == "" {
		summary = content
	}
	return summary, nil
}

// pollUntilDone is a cancellable sleep-with-backoff loop the caller can
// interrupt via ctx, rather than a bare language-level sleep.
func (g *Gateway) pollUntilDone(ctx context.Context, batchID string) (*batchStatus, error) {
	interval := g.pollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	backoff := g.pollBackoff
	if backoff <= 1 {
		backoff = 1.5
	}
	maxInterval := g.maxPollInterval
	if maxInterval <= 0 {
		maxInterval = 60 * time.Second
	}

	for {
		status, err := g.client.poll(ctx, batchID)
		if err != nil {
			return nil, errs.Wrap(errs.LlmBatchFailed, "poll batch", err)
		}
		if status.ProcessingStatus == "ended" {
			return status, nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errs.Wrap(errs.Cancelled, "batch poll cancelled", ctx.Err())
		case <-timer.C:
		}

		interval = time.Duration(float64(interval) * backoff)
		if interval > maxInterval {
			interval = maxInterval
		}
	}
}
