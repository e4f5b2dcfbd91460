package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/botblocks/backend/internal/storage/models"
	"github.com/botblocks/backend/internal/vector/milvus"
	"github.com/botblocks/backend/pkg/logger"
	"github.com/botblocks/backend/pkg/utils"
)

const embeddingCacheTTL = time.Hour

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type DocumentStore interface {
	Count(ctx context.Context, botPublicID string) (int64, error)
	SearchWithScores(ctx context.Context, botPublicID string, embedding []float32, topK int) ([]models.RetrievedDocument, error)
}

type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// Retrieval is the outcome of one adaptive retrieval pass. When Sufficient is
// false the pipeline short-circuits to a gap response without generating.
type Retrieval struct {
	Documents          []models.RetrievedDocument
	BestScore          float64
	RequestedK         int
	EmptyKnowledgeBase bool
	Sufficient         bool
}

type Retriever struct {
	store    DocumentStore
	embedder Embedder
	cache    EmbeddingCache
	policy   GuardPolicy
}

func NewRetriever(store DocumentStore, embedder Embedder, cache EmbeddingCache, policy GuardPolicy) *Retriever {
	return &Retriever{
		store:    store,
		embedder: embedder,
		cache:    cache,
		policy:   policy,
	}
}

// Retrieve fetches candidates at an adaptive depth and applies the relevance
// gate. An error return means the document store itself failed; a bot with no
// trained knowledge is not an error but an EmptyKnowledgeBase retrieval.
func (r *Retriever) Retrieve(ctx context.Context, botPublicID, query string) (*Retrieval, error) {
	count, err := r.store.Count(ctx, botPublicID)
	if errors.Is(err, milvus.ErrCollectionMissing) {
		return &Retrieval{EmptyKnowledgeBase: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if count == 0 {
		return &Retrieval{EmptyKnowledgeBase: true}, nil
	}

	embedding, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	k := TopK(query)

	docs, err := r.store.SearchWithScores(ctx, botPublicID, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	result := &Retrieval{RequestedK: k}
	if len(docs) == 0 {
		return result, nil
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })

	result.BestScore = docs[0].Score
	threshold := r.policy.RelevanceThreshold(result.BestScore)

	if result.BestScore < threshold {
		logger.Debug("Best candidate below relevance threshold",
			zap.Float64("best_score", result.BestScore),
			zap.Float64("threshold", threshold),
		)
		return result, nil
	}

	// Weak candidates are dropped even when the best one clears the gate,
	// so the generator never sees context that failed the relevance test.
	for _, doc := range docs {
		if doc.Score >= threshold {
			result.Documents = append(result.Documents, doc)
		}
	}
	result.Sufficient = true

	return result, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if r.cache == nil {
		return r.embedder.Embed(ctx, query)
	}

	hash := utils.HashString(query)

	cached, ok, err := r.cache.GetEmbedding(ctx, hash)
	if err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
	}
	if ok {
		return cached, nil
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if err := r.cache.SetEmbedding(ctx, hash, embedding, embeddingCacheTTL); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}

	return embedding, nil
}
