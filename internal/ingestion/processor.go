package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/botblocks/backend/internal/metrics"
	"github.com/botblocks/backend/internal/storage/models"
	"github.com/botblocks/backend/internal/vector/milvus"
	"github.com/botblocks/backend/pkg/logger"
	"github.com/botblocks/backend/pkg/retry"
)

const maxEmbedBatch = 64

type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorStore interface {
	UpsertSource(ctx context.Context, botPublicID string, source models.ContentSource, chunks []string, embeddings [][]float32) error
	DeleteBySource(ctx context.Context, botPublicID, sourceName string) error
	ListSources(ctx context.Context, botPublicID string) ([]models.ContentSource, error)
	Stats(ctx context.Context, botPublicID string) (*milvus.CollectionStats, error)
}

// Processor turns raw material (plain text, uploaded HTML, live web pages)
// into embedded chunks in a bot's collection.
type Processor struct {
	store    VectorStore
	embedder BatchEmbedder
	chunker  *Chunker
	http     *http.Client
}

func NewProcessor(store VectorStore, embedder BatchEmbedder, chunker *Chunker) *Processor {
	return &Processor{
		store:    store,
		embedder: embedder,
		chunker:  chunker,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// IngestText chunks, embeds and upserts one named source of plain text.
// Re-ingesting a source name replaces its previous chunks.
func (p *Processor) IngestText(ctx context.Context, botPublicID string, source models.ContentSource, text string) (int, error) {
	chunks, err := p.chunker.Chunk(text)
	if err != nil {
		return 0, fmt.Errorf("failed to chunk text: %w", err)
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("source %q contains no usable text", source.Name)
	}

	embeddings, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}

	if err := p.store.UpsertSource(ctx, botPublicID, source, chunks, embeddings); err != nil {
		return 0, err
	}

	metrics.ChunksIngested.Add(float64(len(chunks)))

	logger.Info("Source ingested",
		zap.String("bot", botPublicID),
		zap.String("source", source.Name),
		zap.String("type", string(source.Type)),
		zap.Int("chunks", len(chunks)),
	)

	return len(chunks), nil
}

// IngestHTML strips markup from an uploaded HTML document and ingests the
// remaining text under the given source name.
func (p *Processor) IngestHTML(ctx context.Context, botPublicID string, source models.ContentSource, html string) (int, error) {
	text, title, err := extractHTML(strings.NewReader(html))
	if err != nil {
		return 0, fmt.Errorf("failed to parse HTML: %w", err)
	}
	if source.Title == "" {
		source.Title = title
	}

	return p.IngestText(ctx, botPublicID, source, text)
}

// IngestURL fetches a page and ingests its visible text. The URL doubles as
// the source name so refreshing a page replaces the old scrape.
func (p *Processor) IngestURL(ctx context.Context, botPublicID, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "BotBlocksBot/1.0")

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	text, title, err := extractHTML(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", url, err)
	}

	source := models.ContentSource{
		Name:      url,
		Type:      models.SourceWeb,
		URL:       url,
		Title:     title,
		ScrapedAt: time.Now(),
	}

	return p.IngestText(ctx, botPublicID, source, text)
}

func (p *Processor) DeleteSource(ctx context.Context, botPublicID, sourceName string) error {
	return p.store.DeleteBySource(ctx, botPublicID, sourceName)
}

func (p *Processor) ListSources(ctx context.Context, botPublicID string) ([]models.ContentSource, error) {
	sources, err := p.store.ListSources(ctx, botPublicID)
	if err == milvus.ErrCollectionMissing {
		return nil, nil
	}
	return sources, err
}

func (p *Processor) Stats(ctx context.Context, botPublicID string) (*milvus.CollectionStats, error) {
	return p.store.Stats(ctx, botPublicID)
}

// embedChunks embeds in bounded batches with retry. Ingestion is an operator
// action, not a chat turn, so transient embedding failures are worth retrying.
func (p *Processor) embedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(chunks))

	for start := 0; start < len(chunks); start += maxEmbedBatch {
		end := start + maxEmbedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		var batchEmbeddings [][]float32
		err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			var embErr error
			batchEmbeddings, embErr = p.embedder.EmbedBatch(ctx, batch)
			return embErr
		})
		if err != nil {
			return nil, err
		}

		embeddings = append(embeddings, batchEmbeddings...)
	}

	return embeddings, nil
}

func extractHTML(r io.Reader) (text, title string, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", err
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, nav, footer, header, noscript, iframe").Remove()

	var parts []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, blockquote, pre").Each(func(_ int, s *goquery.Selection) {
		t := strings.TrimSpace(s.Text())
		if t != "" {
			parts = append(parts, t)
		}
	})

	if len(parts) == 0 {
		body := strings.TrimSpace(doc.Find("body").Text())
		if body != "" {
			parts = append(parts, strings.Join(strings.Fields(body), " "))
		}
	}

	return strings.Join(parts, "\n"), title, nil
}
