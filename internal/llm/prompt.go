package llm

// PromptBlock is one block of the layered system prompt. Blocks are kept
// as an explicit ordered slice (never pre-concatenated) so exactly one can
// carry the vendor's ephemeral cache marker. This inverts the gateway's
// prompt_engine.go, which disables caching outright because its dynamic
// memory section would poison a shared cache; here the dynamic blocks are
// ordered *after* the stable one instead, so caching can stay on.
type PromptBlock struct {
	Text            string
	CacheBreakpoint bool
}

// PlannerDynamicContext carries the per-iteration blocks, in the required
// order, for the planner phase.
type PlannerDynamicContext struct {
	CoverageSummary   string
	RecentCommitLog   string
	MemoryContext     string
	PossiblyDeadFuncs string
}

// AssembleSystemPrompt builds the ordered block list: a rarely-changing
// phase prefix, then (if present) a large stable codebase snapshot carrying
// the single cache breakpoint, then per-iteration dynamic blocks, then the
// working context. If no snapshot is supplied the breakpoint moves to the
// phase prefix, since it is then the first stable block.
func AssembleSystemPrompt(phasePrefix string, codebaseSnapshot string, dynamic []string, workingContext string) []PromptBlock {
	var blocks []PromptBlock

	if codebaseSnapshot == "" {
		blocks = append(blocks, PromptBlock{Text: phasePrefix, CacheBreakpoint: true})
	} else {
		blocks = append(blocks, PromptBlock{Text: phasePrefix})
		blocks = append(blocks, PromptBlock{Text: codebaseSnapshot, CacheBreakpoint: true})
	}

	for _, d := range dynamic {
		if d != "" {
			blocks = append(blocks, PromptBlock{Text: d})
		}
	}

	if workingContext != "" {
		blocks = append(blocks, PromptBlock{Text: workingContext})
	}

	return blocks
}

// PlannerDynamicBlocks returns the ordered dynamic-block list for the
// planner phase specifically.
func PlannerDynamicBlocks(c PlannerDynamicContext) []string {
	return []string{c.CoverageSummary, c.RecentCommitLog, c.MemoryContext, c.PossiblyDeadFuncs}
}

func toWireSystem(blocks []PromptBlock) []wireSystemBlock {
	out := make([]wireSystemBlock, 0, len(blocks))
	for _, b := range blocks {
		wb := wireSystemBlock{Type: "text", Text: b.Text}
		if b.CacheBreakpoint {
			wb.CacheControl = &wireCacheCtrl{Type: "ephemeral"}
		}
		out = append(out, wb)
	}
	return out
}
