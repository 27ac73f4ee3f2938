package policy

import (
	"context"

	"github.com/cloudwego/eino/components/retriever"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
)

var _ contractx.PolicyRetriever = (*Passages)(nil)

// Passages adapts any eino retriever to the passage lookup roles consume.
type Passages struct {
	r retriever.Retriever
}

func NewPassages(r retriever.Retriever) *Passages {
	return &Passages{r: r}
}

func (p *Passages) Retrieve(ctx context.Context, query string, k int) ([]contractx.Passage, error) {
	if p == nil || p.r == nil {
		return nil, nil
	}
	docs, err := p.r.Retrieve(ctx, query, retriever.WithTopK(k))
	if err != nil {
		return nil, err
	}

	out := make([]contractx.Passage, 0, len(docs))
	for _, d := range docs {
		if d == nil {
			continue
		}
		source, _ := d.MetaData[MetaSource].(string)
		if source == "" {
			source = d.ID
		}
		out = append(out, contractx.Passage{
			Source:  source,
			Content: d.Content,
			Score:   d.Score(),
		})
	}
	if len(out) > k && k > 0 {
		out = out[:k]
	}
	return out, nil
}
