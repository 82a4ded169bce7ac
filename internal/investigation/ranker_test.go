package investigation

import (
	"testing"

	"github.com/mohammad-safakhou/autospook/internal/search"
)

func TestFirstRankerKeepsOrder(t *testing.T) {
	evidence := []search.Snippet{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	got := FirstRanker{}.Rank("q", evidence, 2)
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "2" {
		t.Fatalf("unexpected ranking %+v", got)
	}
	got[0].ID = "changed"
	if evidence[0].ID != "1" {
		t.Fatalf("ranking aliased the evidence slice")
	}
}

func TestRelevanceRankerPrefersMatchingEvidence(t *testing.T) {
	evidence := []search.Snippet{
		{ID: "weather", Title: "Local weather", Text: "Sunny with light winds across the region"},
		{ID: "sports", Title: "Match report", Text: "The home side won the derby"},
		{ID: "lawsuit", Title: "Court filing", Text: "Jane Smith named as defendant in securities fraud lawsuit"},
		{ID: "recipes", Title: "Recipes", Text: "Ten quick pasta dishes"},
	}
	got := NewRanker("relevance").Rank("Is Jane Smith involved in any fraud lawsuit?", evidence, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 snippets, got %d", len(got))
	}
	if got[0].ID != "lawsuit" {
		t.Fatalf("expected lawsuit first, got %+v", got)
	}
	if got[0].Score <= 0 {
		t.Fatalf("expected a relevance score, got %v", got[0].Score)
	}
	if got[1].ID != "weather" {
		t.Fatalf("expected unscored slot filled in retrieval order, got %q", got[1].ID)
	}
}

func TestRelevanceRankerSmallInput(t *testing.T) {
	evidence := []search.Snippet{{ID: "only"}}
	got := RelevanceRanker{}.Rank("anything", evidence, 5)
	if len(got) != 1 || got[0].ID != "only" {
		t.Fatalf("unexpected ranking %+v", got)
	}
	if got := (RelevanceRanker{}).Rank("anything", nil, 5); len(got) != 0 {
		t.Fatalf("expected no evidence, got %+v", got)
	}
}
