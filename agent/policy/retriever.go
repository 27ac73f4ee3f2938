package policy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
)

const (
	defaultTopK      = 2
	defaultCacheSize = 256
)

var _ retriever.Retriever = (*Retriever)(nil)

type Option func(*Retriever)

// WithEmbedder ranks by cosine similarity instead of term overlap.
func WithEmbedder(e embedding.Embedder) Option {
	return func(r *Retriever) {
		r.embedder = e
	}
}

func WithCacheSize(n int) Option {
	return func(r *Retriever) {
		r.cacheSize = n
	}
}

func WithDefaultTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// Retriever is an in-process policy index.
type Retriever struct {
	docs      []*schema.Document
	terms     []map[string]struct{}
	embedder  embedding.Embedder
	topK      int
	cacheSize int
	cache     *lru.Cache[string, []scored]

	vecOnce sync.Once
	vectors [][]float64
	vecErr  error
}

type scored struct {
	idx   int
	score float64
}

func NewRetriever(docs []*schema.Document, opts ...Option) (*Retriever, error) {
	r := &Retriever{
		docs:      docs,
		terms:     make([]map[string]struct{}, len(docs)),
		topK:      defaultTopK,
		cacheSize: defaultCacheSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	for i, d := range docs {
		r.terms[i] = termSet(d.Content)
	}
	if r.cacheSize > 0 {
		cache, err := lru.New[string, []scored](r.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create policy query cache: %w", err)
		}
		r.cache = cache
	}
	return r, nil
}

func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", contractx.ErrValidation)
	}

	topK := r.topK
	common := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	if common.TopK != nil && *common.TopK > 0 {
		topK = *common.TopK
	}

	ranked, err := r.rank(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	out := make([]*schema.Document, 0, len(ranked))
	for _, s := range ranked {
		src := r.docs[s.idx]
		meta := make(map[string]any, len(src.MetaData)+1)
		for k, v := range src.MetaData {
			meta[k] = v
		}
		doc := &schema.Document{ID: src.ID, Content: src.Content, MetaData: meta}
		out = append(out, doc.WithScore(s.score))
	}
	return out, nil
}

func (r *Retriever) rank(ctx context.Context, query string) ([]scored, error) {
	key := strings.ToLower(query)
	if r.cache != nil {
		if hit, ok := r.cache.Get(key); ok {
			return hit, nil
		}
	}

	var (
		ranked []scored
		err    error
	)
	if r.embedder != nil {
		ranked, err = r.rankByEmbedding(ctx, query)
	} else {
		ranked = r.rankByTerms(query)
	}
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Add(key, ranked)
	}
	return ranked, nil
}

func (r *Retriever) rankByTerms(query string) []scored {
	q := termSet(query)
	if len(q) == 0 {
		return nil
	}
	var out []scored
	for i, doc := range r.terms {
		hits := 0
		for t := range q {
			if _, ok := doc[t]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		out = append(out, scored{idx: i, score: float64(hits) / float64(len(q))})
	}
	sortScored(out)
	return out
}

func (r *Retriever) rankByEmbedding(ctx context.Context, query string) ([]scored, error) {
	r.vecOnce.Do(func() {
		texts := make([]string, len(r.docs))
		for i, d := range r.docs {
			texts[i] = d.Content
		}
		r.vectors, r.vecErr = r.embedder.EmbedStrings(ctx, texts)
		if r.vecErr == nil && len(r.vectors) != len(texts) {
			r.vecErr = fmt.Errorf("embedder returned %d vectors for %d documents", len(r.vectors), len(texts))
		}
		if r.vecErr != nil {
			log.Warn().Err(r.vecErr).Msg("policy index embedding failed; falling back to term overlap")
		}
	})
	if r.vecErr != nil {
		return r.rankByTerms(query), nil
	}

	qv, err := r.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embed policy query: %v", contractx.ErrExternalUnavailable, err)
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for query", contractx.ErrSchemaViolation, len(qv))
	}

	out := make([]scored, 0, len(r.vectors))
	for i, v := range r.vectors {
		out = append(out, scored{idx: i, score: cosine(qv[0], v)})
	}
	sortScored(out)
	return out, nil
}

func sortScored(s []scored) {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].score > s[j].score
	})
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "be": {}, "can": {}, "for": {}, "i": {},
	"if": {}, "in": {}, "is": {}, "it": {}, "my": {}, "of": {}, "on": {}, "or": {},
	"the": {}, "to": {}, "we": {}, "with": {}, "you": {}, "your": {}, "want": {},
}

func termSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		set[stem(f)] = struct{}{}
	}
	return set
}

// stem folds a few English inflections so "paused", "pausing" and "pause"
// share a term.
func stem(w string) string {
	for _, suf := range []string{"ing", "ed", "es", "s"} {
		if len(w) > len(suf)+3 && strings.HasSuffix(w, suf) {
			w = strings.TrimSuffix(w, suf)
			break
		}
	}
	if len(w) > 4 && strings.HasSuffix(w, "e") {
		w = strings.TrimSuffix(w, "e")
	}
	return w
}
