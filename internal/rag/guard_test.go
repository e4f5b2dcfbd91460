package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botblocks/backend/internal/storage/models"
)

type fakeGenerator struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func testDocs() []models.RetrievedDocument {
	return []models.RetrievedDocument{
		{
			Content: "Refunds are available within 30 days of purchase.",
			Score:   0.82,
			Source:  models.ContentSource{Name: "policy.md", Type: models.SourceFile},
		},
	}
}

func TestVerifyCleanAnswer(t *testing.T) {
	gen := &fakeGenerator{response: `{"response": "Refunds are available within 30 days.", "confidence": 0.92, "out_of_scope": false}`}
	g := NewGuard(gen, DefaultPolicy())

	verdict, err := g.Verify(context.Background(), "You are a support bot.", "what is the refund policy", testDocs())
	require.NoError(t, err)

	assert.Equal(t, "Refunds are available within 30 days.", verdict.Answer)
	assert.Equal(t, 0.92, verdict.Confidence)
	assert.False(t, verdict.FlaggedAsGap)
	assert.False(t, verdict.OutOfScope)
}

func TestVerifyHedgesLowConfidence(t *testing.T) {
	gen := &fakeGenerator{response: `{"response": "It might be 30 days.", "confidence": 0.45, "out_of_scope": false}`}
	g := NewGuard(gen, DefaultPolicy())

	verdict, err := g.Verify(context.Background(), "persona", "refund policy", testDocs())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(verdict.Answer, hedgePrefix))
	assert.Contains(t, verdict.Answer, "It might be 30 days.")
	assert.True(t, verdict.FlaggedAsGap)
	assert.Equal(t, models.GapMissingKnowledge, verdict.GapType)
	assert.Equal(t, 0.45, verdict.Confidence)
}

func TestVerifyZeroConfidenceIsGap(t *testing.T) {
	gen := &fakeGenerator{response: `{"response": "I don't know.", "confidence": 0.0, "out_of_scope": false}`}
	g := NewGuard(gen, DefaultPolicy())

	verdict, err := g.Verify(context.Background(), "persona", "refund policy", testDocs())
	require.NoError(t, err)

	assert.True(t, verdict.FlaggedAsGap)
	assert.Equal(t, "I don't know.", verdict.Answer, "zero confidence answers are not hedged")
}

func TestVerifyOutOfScopePassesUnflagged(t *testing.T) {
	gen := &fakeGenerator{response: `{"response": "I can only help with product questions.", "confidence": 0.1, "out_of_scope": true}`}
	g := NewGuard(gen, DefaultPolicy())

	verdict, err := g.Verify(context.Background(), "persona", "what's the weather", testDocs())
	require.NoError(t, err)

	assert.True(t, verdict.OutOfScope)
	assert.False(t, verdict.FlaggedAsGap, "off-topic questions say nothing about the corpus")
	assert.False(t, strings.HasPrefix(verdict.Answer, hedgePrefix))
}

func TestVerifyExactThresholdIsClean(t *testing.T) {
	gen := &fakeGenerator{response: `{"response": "Yes.", "confidence": 0.7, "out_of_scope": false}`}
	g := NewGuard(gen, DefaultPolicy())

	verdict, err := g.Verify(context.Background(), "persona", "q", testDocs())
	require.NoError(t, err)

	assert.False(t, verdict.FlaggedAsGap)
	assert.Equal(t, "Yes.", verdict.Answer)
}

func TestVerifyDecodesFencedJSON(t *testing.T) {
	gen := &fakeGenerator{response: "```json\n{\"response\": \"Fenced.\", \"confidence\": 0.8, \"out_of_scope\": false}\n```"}
	g := NewGuard(gen, DefaultPolicy())

	verdict, err := g.Verify(context.Background(), "persona", "q", testDocs())
	require.NoError(t, err)
	assert.Equal(t, "Fenced.", verdict.Answer)
	assert.False(t, verdict.FlaggedAsGap)
}

func TestVerifyRecoversGenerationFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("deadline exceeded")}
	g := NewGuard(gen, DefaultPolicy())

	verdict, err := g.Verify(context.Background(), "persona", "q", testDocs())
	require.NoError(t, err)

	assert.Equal(t, msgGenerationFailed, verdict.Answer)
	assert.False(t, verdict.FlaggedAsGap, "a transport failure is not a knowledge gap")
	assert.Zero(t, verdict.Confidence)
}

func TestVerifyRecoversMalformedOutput(t *testing.T) {
	gen := &fakeGenerator{response: "Sure! The refund policy is 30 days."}
	g := NewGuard(gen, DefaultPolicy())

	verdict, err := g.Verify(context.Background(), "persona", "q", testDocs())
	require.NoError(t, err)

	assert.Equal(t, msgVerifyTrouble, verdict.Answer)
	assert.False(t, verdict.FlaggedAsGap)
}

func TestVerifyClampsConfidence(t *testing.T) {
	gen := &fakeGenerator{response: `{"response": "Very sure.", "confidence": 1.7, "out_of_scope": false}`}
	g := NewGuard(gen, DefaultPolicy())

	verdict, err := g.Verify(context.Background(), "persona", "q", testDocs())
	require.NoError(t, err)
	assert.Equal(t, 1.0, verdict.Confidence)
}

func TestVerifyPromptCarriesPersonaAndSources(t *testing.T) {
	gen := &fakeGenerator{response: `{"response": "ok", "confidence": 0.9, "out_of_scope": false}`}
	g := NewGuard(gen, DefaultPolicy())

	_, err := g.Verify(context.Background(), "You are the Acme support bot.", "refund policy", testDocs())
	require.NoError(t, err)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "You are the Acme support bot.")
	assert.Contains(t, gen.prompts[0], "[Source 1: policy.md]")
	assert.Contains(t, gen.prompts[0], "QUESTION: refund policy")
}
