package policy

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
)

func TestLoadDocumentsSplitsOnSections(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"a.md":      {Data: []byte("# Title\n\n## Pausing\nPause for 3 months.\n\n## Refunds\nNo partial refunds.\n")},
		"notes.txt": {Data: []byte("plain text policy")},
		"skip.json": {Data: []byte("{}")},
	}
	docs, err := LoadDocuments(fsys)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "a.md", docs[0].MetaData[MetaSource])
	assert.Equal(t, "Pausing", docs[0].MetaData[MetaHeading])
	assert.NotContains(t, docs[0].Content, "# Title")
	assert.Equal(t, "Refunds", docs[1].MetaData[MetaHeading])
	assert.Equal(t, "notes.txt", docs[2].MetaData[MetaSource])
}

func TestRetrieverTermOverlapHonorsTopK(t *testing.T) {
	t.Parallel()

	r, err := NewRetriever(DefaultDocuments())
	require.NoError(t, err)

	docs, err := r.Retrieve(t.Context(), "can I pause my subscription", retriever.WithTopK(1))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "pause_and_downgrade.md", docs[0].MetaData[MetaSource])
	assert.Greater(t, docs[0].Score(), 0.0)

	docs, err = r.Retrieve(t.Context(), "cancellation refund reactivation")
	require.NoError(t, err)
	assert.Len(t, docs, defaultTopK)
}

func TestRetrieverRejectsEmptyQuery(t *testing.T) {
	t.Parallel()

	r, err := NewRetriever(nil)
	require.NoError(t, err)
	_, err = r.Retrieve(t.Context(), "   ")
	assert.True(t, errors.Is(err, contractx.ErrValidation))
}

type countingEmbedder struct {
	calls atomic.Int32
}

// Vectors put weight on "pause" vs everything else.
func (e *countingEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.calls.Add(1)
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if strings.Contains(strings.ToLower(t), "pause") {
			out[i] = []float64{1, 0}
		} else {
			out[i] = []float64{0, 1}
		}
	}
	return out, nil
}

func TestRetrieverEmbeddingRankingIsCached(t *testing.T) {
	t.Parallel()

	emb := &countingEmbedder{}
	r, err := NewRetriever(DefaultDocuments(), WithEmbedder(emb))
	require.NoError(t, err)

	first, err := r.Retrieve(t.Context(), "pause please", retriever.WithTopK(1))
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Contains(t, strings.ToLower(first[0].Content), "pause")

	_, err = r.Retrieve(t.Context(), "PAUSE please", retriever.WithTopK(1))
	require.NoError(t, err)
	assert.Equal(t, int32(2), emb.calls.Load(), "index embedded once, query embedded once")
}

type stubRetriever struct {
	docs []*schema.Document
	err  error
	topK int
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, opts ...retriever.Option) ([]*schema.Document, error) {
	o := retriever.GetCommonOptions(&retriever.Options{}, opts...)
	if o.TopK != nil {
		s.topK = *o.TopK
	}
	return s.docs, s.err
}

func TestPassagesAdapter(t *testing.T) {
	t.Parallel()

	stub := &stubRetriever{docs: []*schema.Document{
		(&schema.Document{ID: "x#0", Content: "Pause up to 3 months", MetaData: map[string]any{MetaSource: "pause.md"}}).WithScore(0.9),
		(&schema.Document{ID: "y#0", Content: "No source"}).WithScore(0.4),
	}}
	passages, err := NewPassages(stub).Retrieve(t.Context(), "pause", 2)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, 2, stub.topK)
	assert.Equal(t, contractx.Passage{Source: "pause.md", Content: "Pause up to 3 months", Score: 0.9}, passages[0])
	assert.Equal(t, "y#0", passages[1].Source)

	stub.err = contractx.ErrExternalUnavailable
	_, err = NewPassages(stub).Retrieve(t.Context(), "pause", 2)
	assert.ErrorIs(t, err, contractx.ErrExternalUnavailable)
}
