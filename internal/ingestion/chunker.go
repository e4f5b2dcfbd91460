package ingestion

import (
	"strings"

	prose "github.com/jdkato/prose/v2"
)

type Chunker struct {
	chunkSize int
	overlap   int
}

func NewChunker(chunkSize, overlap int) *Chunker {
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{
		chunkSize: chunkSize,
		overlap:   overlap,
	}
}

// Chunk splits text into overlapping windows along sentence boundaries.
// Sentences are never split unless a single sentence exceeds the window, in
// which case it falls back to a hard character split.
func (c *Chunker) Chunk(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if len(text) <= c.chunkSize {
		return []string{text}, nil
	}

	sentences, err := splitSentences(text)
	if err != nil {
		return nil, err
	}

	var chunks []string
	var window []string
	windowLen := 0

	flush := func() {
		if len(window) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(window, " "))

		// Carry trailing sentences worth roughly the overlap into the
		// next window so context is not lost at chunk boundaries.
		var carried []string
		carriedLen := 0
		for i := len(window) - 1; i >= 0; i-- {
			if carriedLen+len(window[i]) > c.overlap {
				break
			}
			carried = append([]string{window[i]}, carried...)
			carriedLen += len(window[i]) + 1
		}
		window = carried
		windowLen = carriedLen
	}

	for _, sentence := range sentences {
		if len(sentence) > c.chunkSize {
			flush()
			window = nil
			windowLen = 0
			chunks = append(chunks, hardSplit(sentence, c.chunkSize)...)
			continue
		}

		if windowLen+len(sentence) > c.chunkSize {
			flush()
		}

		window = append(window, sentence)
		windowLen += len(sentence) + 1
	}

	if len(window) > 0 {
		chunks = append(chunks, strings.Join(window, " "))
	}

	return chunks, nil
}

func splitSentences(text string) ([]string, error) {
	doc, err := prose.NewDocument(
		text,
		prose.WithExtraction(false),
		prose.WithTagging(false),
	)
	if err != nil {
		return nil, err
	}

	var sentences []string
	for _, s := range doc.Sentences() {
		trimmed := strings.TrimSpace(s.Text)
		if trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	return sentences, nil
}

func hardSplit(s string, size int) []string {
	var parts []string
	for len(s) > size {
		parts = append(parts, s[:size])
		s = s[size:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}
