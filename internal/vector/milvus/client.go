package milvus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/botblocks/backend/internal/storage/models"
	"github.com/botblocks/backend/pkg/logger"
	"github.com/botblocks/backend/pkg/utils"
)

// ErrCollectionMissing distinguishes "bot was never trained" from a store
// failure; the pipeline logs the former as an empty-knowledge-base gap.
var ErrCollectionMissing = errors.New("collection does not exist")

type Client struct {
	client    client.Client
	vectorDim int
}

func NewClient(endpoint, apiKey string, vectorDim int) (*Client, error) {
	var c client.Client
	var err error

	if apiKey != "" {
		c, err = client.NewClient(context.Background(), client.Config{
			Address: endpoint,
			APIKey:  apiKey,
		})
	} else {
		c, err = client.NewGrpcClient(context.Background(), endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized", zap.String("endpoint", endpoint))

	return &Client{
		client:    c,
		vectorDim: vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

// EnsureCollection creates and loads the bot's collection. Collections are
// always indexed with the COSINE metric; the retrieval thresholds downstream
// are meaningless under any other distance.
func (m *Client) EnsureCollection(ctx context.Context, botPublicID string) error {
	name := utils.CollectionName(botPublicID)

	has, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		schema := &entity.Schema{
			CollectionName: name,
			Description:    "knowledge chunks for one bot",
			Fields: []*entity.Field{
				{
					Name:       "chunk_id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       "embedding",
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": strconv.Itoa(m.vectorDim)},
				},
				{
					Name:       "content",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "8192"},
				},
				{
					Name:       "source",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "512"},
				},
				{
					Name:       "source_type",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "16"},
				},
				{
					Name:       "url",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "512"},
				},
				{
					Name:       "title",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "512"},
				},
				{
					Name:     "scraped_at",
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:     "chunk_index",
					DataType: entity.FieldTypeInt64,
				},
			},
		}

		err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexIvfFlat(entity.COSINE, 128)
		if err != nil {
			return fmt.Errorf("failed to build index spec: %w", err)
		}

		err = m.client.CreateIndex(ctx, name, "embedding", idx, false)
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}

		logger.Info("Collection created", zap.String("collection", name))
	}

	err = m.client.LoadCollection(ctx, name, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	return nil
}

func (m *Client) DropCollection(ctx context.Context, botPublicID string) error {
	name := utils.CollectionName(botPublicID)

	has, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		return nil
	}

	err = m.client.DropCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}

	logger.Info("Collection dropped", zap.String("collection", name))
	return nil
}

func (m *Client) Count(ctx context.Context, botPublicID string) (int64, error) {
	name := utils.CollectionName(botPublicID)

	has, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		return 0, ErrCollectionMissing
	}

	stats, err := m.client.GetCollectionStatistics(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection statistics: %w", err)
	}

	count, err := strconv.ParseInt(stats["row_count"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse row count: %w", err)
	}

	return count, nil
}

// UpsertSource replaces every chunk of the named source. Chunk ids are
// deterministic over (source, index), so re-ingesting a source is idempotent.
func (m *Client) UpsertSource(ctx context.Context, botPublicID string, source models.ContentSource, chunks []string, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	err := m.EnsureCollection(ctx, botPublicID)
	if err != nil {
		return err
	}

	err = m.DeleteBySource(ctx, botPublicID, source.Name)
	if err != nil {
		return err
	}

	name := utils.CollectionName(botPublicID)
	sourceHash := utils.HashString(source.Name)

	chunkIDs := make([]string, len(chunks))
	contents := make([]string, len(chunks))
	sources := make([]string, len(chunks))
	sourceTypes := make([]string, len(chunks))
	urls := make([]string, len(chunks))
	titles := make([]string, len(chunks))
	scrapedAts := make([]int64, len(chunks))
	chunkIndexes := make([]int64, len(chunks))

	var scrapedAt int64
	if !source.ScrapedAt.IsZero() {
		scrapedAt = source.ScrapedAt.Unix()
	}

	for i, content := range chunks {
		chunkIDs[i] = fmt.Sprintf("%s_%d", sourceHash, i)
		contents[i] = content
		sources[i] = source.Name
		sourceTypes[i] = string(source.Type)
		urls[i] = source.URL
		titles[i] = source.Title
		scrapedAts[i] = scrapedAt
		chunkIndexes[i] = int64(i)
	}

	_, err = m.client.Insert(
		ctx,
		name,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnVarChar("source", sources),
		entity.NewColumnVarChar("source_type", sourceTypes),
		entity.NewColumnVarChar("url", urls),
		entity.NewColumnVarChar("title", titles),
		entity.NewColumnInt64("scraped_at", scrapedAts),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	err = m.client.Flush(ctx, name, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Source upserted",
		zap.String("collection", name),
		zap.String("source", source.Name),
		zap.Int("chunks", len(chunks)),
	)

	return nil
}

func (m *Client) DeleteBySource(ctx context.Context, botPublicID, sourceName string) error {
	name := utils.CollectionName(botPublicID)

	has, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		return nil
	}

	expr := fmt.Sprintf(`source == "%s"`, sourceName)
	err = m.client.Delete(ctx, name, "", expr)
	if err != nil {
		return fmt.Errorf("failed to delete by source: %w", err)
	}

	logger.Info("Source chunks deleted", zap.String("collection", name), zap.String("source", sourceName))
	return nil
}

func (m *Client) ListSources(ctx context.Context, botPublicID string) ([]models.ContentSource, error) {
	name := utils.CollectionName(botPublicID)

	has, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		return nil, ErrCollectionMissing
	}

	rs, err := m.client.Query(
		ctx,
		name,
		nil,
		"chunk_index >= 0",
		[]string{"source", "source_type", "url", "title", "scraped_at"},
		client.WithLimit(16384),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}

	sourceCol, _ := rs.GetColumn("source").(*entity.ColumnVarChar)
	typeCol, _ := rs.GetColumn("source_type").(*entity.ColumnVarChar)
	urlCol, _ := rs.GetColumn("url").(*entity.ColumnVarChar)
	titleCol, _ := rs.GetColumn("title").(*entity.ColumnVarChar)
	scrapedCol, _ := rs.GetColumn("scraped_at").(*entity.ColumnInt64)

	if sourceCol == nil {
		return nil, nil
	}

	seen := make(map[string]bool)
	var sources []models.ContentSource

	for i := 0; i < sourceCol.Len(); i++ {
		srcName, _ := sourceCol.ValueByIdx(i)
		if seen[srcName] {
			continue
		}
		seen[srcName] = true

		src := models.ContentSource{Name: srcName, Type: models.SourceFile}
		if typeCol != nil {
			if t, err := typeCol.ValueByIdx(i); err == nil {
				src.Type = models.SourceType(t)
			}
		}
		if src.Type == models.SourceWeb {
			if urlCol != nil {
				src.URL, _ = urlCol.ValueByIdx(i)
			}
			if titleCol != nil {
				src.Title, _ = titleCol.ValueByIdx(i)
			}
			if scrapedCol != nil {
				if ts, err := scrapedCol.ValueByIdx(i); err == nil && ts > 0 {
					src.ScrapedAt = time.Unix(ts, 0)
				}
			}
		}

		sources = append(sources, src)
	}

	return sources, nil
}

type CollectionStats struct {
	TotalChunks int64
	FileChunks  int64
	WebChunks   int64
	Sources     int
}

func (m *Client) Stats(ctx context.Context, botPublicID string) (*CollectionStats, error) {
	name := utils.CollectionName(botPublicID)

	has, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		return &CollectionStats{}, nil
	}

	rs, err := m.client.Query(
		ctx,
		name,
		nil,
		"chunk_index >= 0",
		[]string{"source", "source_type"},
		client.WithLimit(16384),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}

	stats := &CollectionStats{}
	sourceCol, _ := rs.GetColumn("source").(*entity.ColumnVarChar)
	typeCol, _ := rs.GetColumn("source_type").(*entity.ColumnVarChar)
	if sourceCol == nil {
		return stats, nil
	}

	seen := make(map[string]bool)
	for i := 0; i < sourceCol.Len(); i++ {
		stats.TotalChunks++

		srcName, _ := sourceCol.ValueByIdx(i)
		seen[srcName] = true

		if typeCol != nil {
			if t, err := typeCol.ValueByIdx(i); err == nil && models.SourceType(t) == models.SourceWeb {
				stats.WebChunks++
				continue
			}
		}
		stats.FileChunks++
	}
	stats.Sources = len(seen)

	return stats, nil
}

// SearchWithScores runs a cosine similarity search and returns chunks with
// their scores, best first.
func (m *Client) SearchWithScores(ctx context.Context, botPublicID string, queryEmbedding []float32, topK int) ([]models.RetrievedDocument, error) {
	name := utils.CollectionName(botPublicID)

	has, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		return nil, ErrCollectionMissing
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		name,
		nil,
		"",
		[]string{"content", "source", "source_type", "url", "title", "scraped_at"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var results []models.RetrievedDocument
	for _, sr := range searchResult {
		contentCol := sr.Fields.GetColumn("content")
		sourceCol := sr.Fields.GetColumn("source")
		typeCol := sr.Fields.GetColumn("source_type")
		urlCol := sr.Fields.GetColumn("url")
		titleCol := sr.Fields.GetColumn("title")
		scrapedCol := sr.Fields.GetColumn("scraped_at")

		for i := 0; i < sr.ResultCount; i++ {
			content, _ := contentCol.Get(i)
			srcName, _ := sourceCol.Get(i)
			srcType, _ := typeCol.Get(i)
			url, _ := urlCol.Get(i)
			title, _ := titleCol.Get(i)
			scrapedAt, _ := scrapedCol.Get(i)

			doc := models.RetrievedDocument{
				Content: content.(string),
				Score:   float64(sr.Scores[i]),
				Source: models.ContentSource{
					Name: srcName.(string),
					Type: models.SourceType(srcType.(string)),
				},
			}
			if doc.Source.Type == models.SourceWeb {
				doc.Source.URL = url.(string)
				doc.Source.Title = title.(string)
				if ts, ok := scrapedAt.(int64); ok && ts > 0 {
					doc.Source.ScrapedAt = time.Unix(ts, 0)
				}
			}

			results = append(results, doc)
		}
	}

	logger.Debug("Vector search completed",
		zap.String("collection", name),
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
	)

	return results, nil
}
