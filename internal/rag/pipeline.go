package rag

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/botblocks/backend/internal/metrics"
	"github.com/botblocks/backend/internal/storage/models"
	"github.com/botblocks/backend/pkg/logger"
)

const (
	msgNotTrained       = "I haven't been trained on any knowledge yet, so I can't answer that. Please check back once my knowledge base has been set up."
	msgNotInKnowledge   = "I don't see that in my knowledge base. Could you try rephrasing, or ask about something else?"
	msgStoreUnavailable = "My knowledge base is currently inaccessible. Please try again in a moment."
)

// AuditStore is the slice of the repository the pipeline writes through: the
// lifetime query counter and the gap log.
type AuditStore interface {
	IncrementTotalQueries(botID int64) error
	AppendAuditEntry(entry *models.AuditLogEntry) error
}

type Result struct {
	Response     string
	Confidence   float64
	Route        Route
	FlaggedAsGap bool
	OutOfScope   bool
	Sources      []models.ContentSource
}

// Pipeline is the per-question control flow: route, retrieve adaptively, gate
// on relevance, generate with the grounding guard, and audit genuine gaps.
// Every predictable failure is converted to a user-facing message here; only
// programming defects propagate as errors.
type Pipeline struct {
	retriever *Retriever
	guard     *Guard
	generator Generator
	store     AuditStore
}

func NewPipeline(retriever *Retriever, guard *Guard, generator Generator, store AuditStore) *Pipeline {
	return &Pipeline{
		retriever: retriever,
		guard:     guard,
		generator: generator,
		store:     store,
	}
}

func (p *Pipeline) Answer(ctx context.Context, bot *models.Bot, message string) (*Result, error) {
	started := time.Now()

	route := Classify(message)
	if route != RouteRetrieval {
		return p.answerDirect(ctx, bot, route)
	}

	// Only questions that reach retrieval count toward the health
	// denominator; greetings and identity probes are invisible to the
	// audit log and must stay invisible to the score.
	if err := p.store.IncrementTotalQueries(bot.ID); err != nil {
		logger.Warn("Failed to increment query counter", zap.Int64("bot_id", bot.ID), zap.Error(err))
	}

	retrieval, err := p.retriever.Retrieve(ctx, bot.PublicID, message)
	if err != nil {
		logger.Error("Retrieval failed", zap.Int64("bot_id", bot.ID), zap.Error(err))
		metrics.ChatRequests.WithLabelValues(route.String(), "error").Inc()
		return &Result{Response: msgStoreUnavailable, Route: route}, nil
	}

	metrics.RetrievalDepth.Observe(float64(retrieval.RequestedK))

	if retrieval.EmptyKnowledgeBase {
		p.logGap(bot, message, msgNotTrained, 0)
		metrics.ChatRequests.WithLabelValues(route.String(), "gap").Inc()
		return &Result{Response: msgNotTrained, Route: route, FlaggedAsGap: true}, nil
	}

	if !retrieval.Sufficient {
		p.logGap(bot, message, msgNotInKnowledge, 0)
		metrics.ChatRequests.WithLabelValues(route.String(), "gap").Inc()
		return &Result{Response: msgNotInKnowledge, Route: route, FlaggedAsGap: true}, nil
	}

	verdict, err := p.guard.Verify(ctx, bot.SystemPersona, message, retrieval.Documents)
	if err != nil {
		return nil, err
	}

	if verdict.FlaggedAsGap {
		p.logGap(bot, message, verdict.Answer, verdict.Confidence)
	}

	metrics.ConfidenceScore.Observe(verdict.Confidence)
	metrics.ChatRequests.WithLabelValues(route.String(), outcome(verdict)).Inc()

	logger.Info("Question answered",
		zap.Int64("bot_id", bot.ID),
		zap.String("route", route.String()),
		zap.Float64("confidence", verdict.Confidence),
		zap.Bool("gap", verdict.FlaggedAsGap),
		zap.Duration("latency", time.Since(started)),
	)

	return &Result{
		Response:     verdict.Answer,
		Confidence:   verdict.Confidence,
		Route:        route,
		FlaggedAsGap: verdict.FlaggedAsGap,
		OutOfScope:   verdict.OutOfScope,
		Sources:      uniqueSources(retrieval.Documents),
	}, nil
}

// answerDirect serves greeting/identity routes with one generation call and
// no retrieval, no confidence scoring and no audit entry.
func (p *Pipeline) answerDirect(ctx context.Context, bot *models.Bot, route Route) (*Result, error) {
	var prompt string
	if route == RouteIdentity {
		prompt = buildIdentityPrompt(bot.SystemPersona)
	} else {
		prompt = buildGreetingPrompt(bot.SystemPersona)
	}

	text, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		logger.Error("Direct generation failed", zap.Int64("bot_id", bot.ID), zap.Error(err))
		text = bot.InitialMessage
		if text == "" {
			text = msgGenerationFailed
		}
	}

	metrics.ChatRequests.WithLabelValues(route.String(), "short_circuit").Inc()

	return &Result{Response: text, Route: route}, nil
}

func (p *Pipeline) logGap(bot *models.Bot, query, response string, confidence float64) {
	entry := &models.AuditLogEntry{
		ID:              uuid.New().String(),
		BotID:           bot.ID,
		UserQuery:       query,
		BotResponse:     response,
		ConfidenceScore: confidence,
		FlaggedAsGap:    true,
		CreatedAt:       time.Now(),
	}

	if err := p.store.AppendAuditEntry(entry); err != nil {
		logger.Error("Failed to record knowledge gap", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return
	}

	metrics.GapsLogged.Inc()
}

func outcome(v *models.GuardVerdict) string {
	switch {
	case v.OutOfScope:
		return "out_of_scope"
	case v.FlaggedAsGap && v.Confidence > 0:
		return "hedged"
	case v.FlaggedAsGap:
		return "gap"
	default:
		return "answered"
	}
}

func uniqueSources(docs []models.RetrievedDocument) []models.ContentSource {
	seen := make(map[string]bool)
	var sources []models.ContentSource
	for _, doc := range docs {
		if seen[doc.Source.Name] {
			continue
		}
		seen[doc.Source.Name] = true
		sources = append(sources, doc.Source)
	}
	return sources
}
