package investigation

import (
	"strconv"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/autospook/internal/search"
)

// Ranker picks the evidence handed to a question evaluation.
type Ranker interface {
	Rank(question string, evidence []search.Snippet, k int) []search.Snippet
}

// NewRanker returns the ranker named by investigation.evidence_ranking.
func NewRanker(mode string) Ranker {
	if mode == "relevance" {
		return RelevanceRanker{}
	}
	return FirstRanker{}
}

// FirstRanker keeps retrieval order.
type FirstRanker struct{}

func (FirstRanker) Rank(_ string, evidence []search.Snippet, k int) []search.Snippet {
	if k <= 0 || len(evidence) <= k {
		return append([]search.Snippet(nil), evidence...)
	}
	return append([]search.Snippet(nil), evidence[:k]...)
}

// RelevanceRanker scores evidence against the question with BM25 over a throwaway
// in-memory index. Unscored snippets fill remaining slots in retrieval order.
type RelevanceRanker struct{}

type rankDoc struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (RelevanceRanker) Rank(question string, evidence []search.Snippet, k int) []search.Snippet {
	if k <= 0 || len(evidence) <= k {
		return FirstRanker{}.Rank(question, evidence, k)
	}
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return FirstRanker{}.Rank(question, evidence, k)
	}
	defer index.Close()

	batch := index.NewBatch()
	for i, e := range evidence {
		if err := batch.Index(strconv.Itoa(i), rankDoc{Title: e.Title, Text: e.Text}); err != nil {
			return FirstRanker{}.Rank(question, evidence, k)
		}
	}
	if err := index.Batch(batch); err != nil {
		return FirstRanker{}.Rank(question, evidence, k)
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(question), k, 0, false)
	res, err := index.Search(req)
	if err != nil {
		return FirstRanker{}.Rank(question, evidence, k)
	}

	picked := make(map[int]bool, k)
	out := make([]search.Snippet, 0, k)
	for _, hit := range res.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || i < 0 || i >= len(evidence) || picked[i] {
			continue
		}
		picked[i] = true
		s := evidence[i]
		s.Score = hit.Score
		out = append(out, s)
	}
	for i := 0; i < len(evidence) && len(out) < k; i++ {
		if !picked[i] {
			out = append(out, evidence[i])
		}
	}
	return out
}
