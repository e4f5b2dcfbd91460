package rag

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/botblocks/backend/internal/llm"
	"github.com/botblocks/backend/internal/storage/models"
	"github.com/botblocks/backend/pkg/logger"
)

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const (
	msgGenerationFailed = "I'm having trouble answering right now. Please try again in a moment."
	msgVerifyTrouble    = "I had trouble verifying my answer. Please try rephrasing your question."
	hedgePrefix         = "I'm not completely certain, but here's what I found: "
)

type answerPayload struct {
	Response   string  `json:"response"`
	Confidence float64 `json:"confidence"`
	OutOfScope bool    `json:"out_of_scope"`
}

// Guard produces a grounded answer and validates the model's self-reported
// confidence before anything is released to the user.
type Guard struct {
	generator Generator
	policy    GuardPolicy
}

func NewGuard(generator Generator, policy GuardPolicy) *Guard {
	return &Guard{
		generator: generator,
		policy:    policy,
	}
}

// Verify makes the single generation call for a question and applies the
// decision table: out-of-scope passes through unlogged, zero confidence is a
// gap, low confidence is a hedged answer that still counts as a gap, and
// anything at or above the threshold is a clean grounded answer.
//
// Generation transport and parse failures are recovered here into generic
// messages: they are system faults, not knowledge gaps, so the verdict is
// never flagged for them.
func (g *Guard) Verify(ctx context.Context, persona, question string, docs []models.RetrievedDocument) (*models.GuardVerdict, error) {
	prompt := buildAnswerPrompt(persona, question, docs)

	raw, err := g.generator.Generate(ctx, prompt)
	if err != nil {
		logger.Error("Generation failed", zap.Error(err))
		return &models.GuardVerdict{Answer: msgGenerationFailed}, nil
	}

	payload, err := llm.DecodeJSON[answerPayload](raw)
	if err != nil {
		if errors.Is(err, llm.ErrMalformedOutput) {
			logger.Warn("Model returned malformed answer object", zap.String("raw", truncate(raw, 200)))
			return &models.GuardVerdict{Answer: msgVerifyTrouble}, nil
		}
		return nil, err
	}

	confidence := clamp01(payload.Confidence)

	verdict := &models.GuardVerdict{
		Answer:     payload.Response,
		Confidence: confidence,
		OutOfScope: payload.OutOfScope,
	}

	switch {
	case payload.OutOfScope:
		// The corpus is not at fault for an unrelated question.

	case confidence == 0:
		verdict.FlaggedAsGap = true
		verdict.GapType = models.GapMissingKnowledge

	case confidence < g.policy.ConfidenceThreshold:
		verdict.Answer = hedgePrefix + payload.Response
		verdict.FlaggedAsGap = true
		verdict.GapType = models.GapMissingKnowledge
	}

	return verdict, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
