// Package resolver turns a loose phrase ("the block us", "housewives") into a
// concrete entity from a candidate pool.
//
// Resolution runs in two stages. A literal stage scores every candidate title
// against the phrase with token-set Jaccard similarity plus prefix, exact and
// region bonuses; anything scoring above MinScore is a match and the best one
// wins outright. Only when nothing matches literally is the pool handed to a
// Delegate (the LLM classifier) which may pick one candidate or answer "none".
package resolver

import (
	"context"
	"regexp"
	"slices"
	"strings"
)

// MinScore is the exclusive lower bound for a literal match.
const MinScore = 0.3

const (
	prefixBonus = 0.4
	exactBonus  = 0.5
	regionBonus = 0.5
)

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9 ]+`)

	stopWords = map[string]struct{}{
		"the": {}, "a": {}, "an": {}, "of": {}, "and": {}, "season": {},
	}

	regionWords = map[string]struct{}{
		"uk": {}, "us": {}, "au": {}, "nz": {}, "ca": {},
	}
)

// Candidate is the tuple form of a pool entry shown to a Delegate. The
// delegate's answer is matched back against the pool by exact equality of all
// three fields, so callers must build tuples the same way on both sides.
type Candidate struct {
	Title   string `json:"title"`
	Season  int    `json:"season,omitempty"`
	Episode int    `json:"episode,omitempty"`
}

// Delegate resolves a phrase that matched nothing literally. A nil candidate
// with a nil error means the delegate found no suitable entry.
type Delegate interface {
	ResolveAmbiguous(ctx context.Context, phrase string, pool []Candidate) (*Candidate, error)
}

// Match is a pool item with its literal score.
type Match[T any] struct {
	Item  T
	Score float64
}

// Result is the outcome of Resolve. Found is false for "none".
type Result[T any] struct {
	Best       T
	Alternates []T
	Found      bool
	// Delegated is set when Best came from the Delegate rather than the
	// literal stage. Delegated results never carry alternates.
	Delegated bool
}

// Normalize lower-cases s, replaces every character outside [a-z0-9 ] with a
// space, and drops stop-words. Tokens are joined by single spaces.
func Normalize(s string) string {
	return strings.Join(words(s), " ")
}

func words(s string) []string {
	s = nonAlnum.ReplaceAllString(strings.ToLower(s), " ")
	fields := strings.Fields(s)
	out := fields[:0]
	for _, w := range fields {
		if _, stop := stopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

func tokenSet(ws []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ws))
	for _, w := range ws {
		if len(w) > 1 {
			set[w] = struct{}{}
		}
	}
	return set
}

// Jaccard returns |A∩B| / |A∪B| over the token sets of two normalized word
// lists, ignoring single-character tokens. Two empty sets score 0.
func jaccard(a, b []string) float64 {
	setA, setB := tokenSet(a), tokenSet(b)
	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func regions(ws []string) []string {
	var out []string
	for _, w := range ws {
		if _, ok := regionWords[w]; ok {
			out = append(out, w)
		}
	}
	return out
}

// Score computes the literal similarity of title to phrase. An empty
// normalized phrase scores 0 against everything.
func Score(title, phrase string) float64 {
	return score(words(title), words(phrase))
}

func score(titleWords, phraseWords []string) float64 {
	if len(phraseWords) == 0 {
		return 0
	}
	titleNorm := strings.Join(titleWords, " ")
	phraseNorm := strings.Join(phraseWords, " ")

	s := jaccard(titleWords, phraseWords)
	if strings.HasPrefix(titleNorm, phraseNorm) {
		s += prefixBonus
	}
	if titleNorm == phraseNorm {
		s += exactBonus
	}
	if want := regions(phraseWords); len(want) > 0 {
		for _, r := range regions(titleWords) {
			if slices.Contains(want, r) {
				s += regionBonus
				break
			}
		}
	}
	return s
}

// Rank scores every item in pool against phrase, keeps those scoring above
// MinScore and orders them best first. Items with equal scores keep their pool
// order.
func Rank[T any](pool []T, phrase string, title func(T) string) []Match[T] {
	phraseWords := words(phrase)
	if len(phraseWords) == 0 {
		return nil
	}
	var matches []Match[T]
	for _, item := range pool {
		s := score(words(title(item)), phraseWords)
		if s > MinScore {
			matches = append(matches, Match[T]{Item: item, Score: s})
		}
	}
	slices.SortStableFunc(matches, func(a, b Match[T]) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	return matches
}

// Resolve runs the literal stage and, when it comes back empty and delegate is
// non-nil, the delegated stage. key maps a pool item to its tuple form; its
// Title is also what the literal stage scores.
//
// A delegate error is returned as-is with an empty Result; callers treat it
// like "none" after logging.
func Resolve[T any](ctx context.Context, pool []T, phrase string, key func(T) Candidate, delegate Delegate) (Result[T], error) {
	var res Result[T]

	matches := Rank(pool, phrase, func(item T) string { return key(item).Title })
	if len(matches) > 0 {
		res.Best = matches[0].Item
		res.Found = true
		for _, m := range matches[1:] {
			res.Alternates = append(res.Alternates, m.Item)
		}
		return res, nil
	}

	if delegate == nil || len(pool) == 0 {
		return res, nil
	}

	tuples := make([]Candidate, len(pool))
	for i, item := range pool {
		tuples[i] = key(item)
	}
	pick, err := delegate.ResolveAmbiguous(ctx, phrase, tuples)
	if err != nil {
		return res, err
	}
	if pick == nil {
		return res, nil
	}
	for i, t := range tuples {
		if t == *pick {
			res.Best = pool[i]
			res.Found = true
			res.Delegated = true
			return res, nil
		}
	}
	return res, nil
}
