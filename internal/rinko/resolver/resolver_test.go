package resolver_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bdobrica/Rinko/internal/rinko/resolver"
)

func titleKey(c resolver.Candidate) resolver.Candidate { return c }
func titleOf(c resolver.Candidate) string              { return c.Title }

func titles(cs []resolver.Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Title)
	}
	return out
}

type stubDelegate struct {
	pick   *resolver.Candidate
	err    error
	calls  int
	phrase string
	pool   []resolver.Candidate
}

func (s *stubDelegate) ResolveAmbiguous(_ context.Context, phrase string, pool []resolver.Candidate) (*resolver.Candidate, error) {
	s.calls++
	s.phrase = phrase
	s.pool = pool
	return s.pick, s.err
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"The Block (US)":                "block us",
		"Real Housewives of Atlanta":    "real housewives atlanta",
		"  Season 3 of The Office!  ":   "3 office",
		"Marvel's Agents of S.H.I.E.L.D": "marvel s agents s h i e l d",
		"":                              "",
	}
	for in, want := range cases {
		if got := resolver.Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScore_Bonuses(t *testing.T) {
	// exact: jaccard 1 + prefix 0.4 + exact 0.5 + region 0.5
	if got := resolver.Score("The Block (US)", "the block us"); math.Abs(got-2.4) > 1e-9 {
		t.Errorf("exact regional score = %v, want 2.4", got)
	}
	// only one of {block, au, us} shared
	if got := resolver.Score("The Block (AU)", "the block us"); math.Abs(got-1.0/3.0) > 1e-9 {
		t.Errorf("other region score = %v, want 1/3", got)
	}
	// prefix without exact: {severance} vs {severance, 2022} = 0.5 + 0.4
	if got := resolver.Score("Severance (2022)", "severance"); math.Abs(got-0.9) > 1e-9 {
		t.Errorf("prefix score = %v, want 0.9", got)
	}
	if got := resolver.Score("Anything", "the"); got != 0 {
		t.Errorf("stop-word-only phrase should score 0, got %v", got)
	}
}

func TestRank_TheBlockScenario(t *testing.T) {
	pool := []resolver.Candidate{{Title: "The Block (AU)"}, {Title: "The Block (US)"}}
	res, err := resolver.Resolve(context.Background(), pool, "the block us", titleKey, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Found || res.Best.Title != "The Block (US)" {
		t.Fatalf("best = %+v (found=%v), want The Block (US)", res.Best, res.Found)
	}
	if diff := cmp.Diff([]string{"The Block (AU)"}, titles(res.Alternates)); diff != "" {
		t.Errorf("alternates mismatch (-want +got):\n%s", diff)
	}
	if res.Delegated {
		t.Error("literal match must not be marked delegated")
	}
}

func TestRank_NeverReturnsLowScores(t *testing.T) {
	pool := []resolver.Candidate{
		{Title: "Ozark"}, {Title: "The Office (US)"}, {Title: "The Office (UK)"},
		{Title: "Office Space"}, {Title: "Outlander"}, {Title: "Parks and Recreation"},
		{Title: "Real Housewives of Beverly Hills"}, {Title: "Below Deck"},
	}
	phrases := []string{"office", "the office uk", "housewives", "deck", "zzz", "a", "parks recreation"}
	for _, p := range phrases {
		for _, m := range resolver.Rank(pool, p, titleOf) {
			if m.Score <= resolver.MinScore {
				t.Errorf("phrase %q: %q scored %v, not above threshold", p, m.Item.Title, m.Score)
			}
		}
	}
}

func TestRank_SortedAndStable(t *testing.T) {
	pool := []resolver.Candidate{
		{Title: "Office Space"}, {Title: "The Office (UK)"}, {Title: "The Office (US)"}, {Title: "Office"},
	}
	got := resolver.Rank(pool, "office", titleOf)
	if len(got) == 0 || got[0].Item.Title != "Office" {
		t.Fatalf("exact title should rank first, got %+v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Fatalf("not sorted descending at %d: %+v", i, got)
		}
	}
	// UK and US tie; pool order must be kept.
	var order []string
	for _, m := range got {
		if m.Item.Title == "The Office (UK)" || m.Item.Title == "The Office (US)" {
			order = append(order, m.Item.Title)
		}
	}
	if diff := cmp.Diff([]string{"The Office (UK)", "The Office (US)"}, order); diff != "" {
		t.Errorf("tie order mismatch (-want +got):\n%s", diff)
	}
}

func TestRank_EmptyPhrase(t *testing.T) {
	pool := []resolver.Candidate{{Title: "Ozark"}}
	if got := resolver.Rank(pool, "  the  ", titleOf); len(got) != 0 {
		t.Fatalf("expected no matches for an empty phrase, got %+v", got)
	}
}

func TestResolve_LiteralSkipsDelegate(t *testing.T) {
	d := &stubDelegate{}
	pool := []resolver.Candidate{{Title: "Ozark", Season: 4, Episode: 2}}
	res, err := resolver.Resolve(context.Background(), pool, "ozark", titleKey, d)
	if err != nil || !res.Found {
		t.Fatalf("expected literal match, got %+v err=%v", res, err)
	}
	if d.calls != 0 {
		t.Fatalf("delegate called %d times, want 0", d.calls)
	}
}

func TestResolve_DelegateNone(t *testing.T) {
	d := &stubDelegate{}
	pool := []resolver.Candidate{
		{Title: "Below Deck", Season: 11, Episode: 3},
		{Title: "Top Chef", Season: 21, Episode: 7},
	}
	res, err := resolver.Resolve(context.Background(), pool, "the one from last night", titleKey, d)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Found {
		t.Fatalf("expected none, got %+v", res.Best)
	}
	if d.calls != 1 {
		t.Fatalf("delegate calls = %d, want 1", d.calls)
	}
	if diff := cmp.Diff(pool, d.pool); diff != "" {
		t.Errorf("delegate saw a different pool (-want +got):\n%s", diff)
	}
}

func TestResolve_DelegatePick(t *testing.T) {
	pool := []resolver.Candidate{
		{Title: "Below Deck", Season: 11, Episode: 3},
		{Title: "Top Chef", Season: 21, Episode: 7},
	}
	d := &stubDelegate{pick: &resolver.Candidate{Title: "Top Chef", Season: 21, Episode: 7}}
	res, err := resolver.Resolve(context.Background(), pool, "that cooking show", titleKey, d)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Found || !res.Delegated || res.Best != pool[1] {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Alternates) != 0 {
		t.Fatalf("delegated result must not carry alternates, got %+v", res.Alternates)
	}
}

func TestResolve_DelegatePickNotInPool(t *testing.T) {
	pool := []resolver.Candidate{{Title: "Top Chef", Season: 21, Episode: 7}}
	// Season differs, so no exact tuple match.
	d := &stubDelegate{pick: &resolver.Candidate{Title: "Top Chef", Season: 20, Episode: 7}}
	res, err := resolver.Resolve(context.Background(), pool, "cooking", titleKey, d)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Found {
		t.Fatalf("expected none for a hallucinated tuple, got %+v", res.Best)
	}
}

func TestResolve_DelegateError(t *testing.T) {
	boom := errors.New("classifier down")
	d := &stubDelegate{err: boom}
	pool := []resolver.Candidate{{Title: "Top Chef"}}
	res, err := resolver.Resolve(context.Background(), pool, "cooking", titleKey, d)
	if !errors.Is(err, boom) {
		t.Fatalf("expected delegate error, got %v", err)
	}
	if res.Found {
		t.Fatal("error result must not be found")
	}
}
