package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/analysis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails QueryFragments for the listed strategies' query shapes.
type flakyStore struct {
	*SQLiteStore
	failAll      bool
	failOnRecent bool
}

func (f *flakyStore) QueryFragments(ctx context.Context, q FragmentQuery) ([]Fragment, error) {
	if f.failAll || (f.failOnRecent && q.OrderByRecent) {
		return nil, errors.New("store offline")
	}
	return f.SQLiteStore.QueryFragments(ctx, q)
}

// scriptedStore answers QueryFragments by recognising which strategy built
// the query. Association queries return the fragments filed under any of
// their keywords.
type scriptedStore struct {
	Store
	byStrategy map[string][]Fragment
	byKeyword  map[string][]Fragment

	mu       sync.Mutex
	keywords []string
}

func strategyOf(q FragmentQuery) string {
	switch {
	case q.OrderByRecent:
		return StrategyRecent
	case len(q.AnyTags) > 0 && len(q.ContentAny) == 0:
		return StrategyTopic
	case len(q.AnyTags) > 0:
		return StrategyEmotion
	case len(q.ContentAny) > 0:
		return StrategyAssociation
	case len(q.Types) == 1 && q.Types[0] == FragmentEmotionalState:
		return StrategyEmotion
	default:
		return StrategyDepth
	}
}

func (s *scriptedStore) QueryFragments(_ context.Context, q FragmentQuery) ([]Fragment, error) {
	strategy := strategyOf(q)
	if strategy != StrategyAssociation {
		return s.byStrategy[strategy], nil
	}
	s.mu.Lock()
	s.keywords = append([]string(nil), q.ContentAny...)
	s.mu.Unlock()
	var out []Fragment
	for _, kw := range q.ContentAny {
		out = append(out, s.byKeyword[kw]...)
	}
	return out, nil
}

func (s *scriptedStore) associationKeywords() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keywords
}

func frag(id, content string) Fragment {
	return Fragment{ID: id, ConversationID: "cv1:s", Type: FragmentFact, Content: content, Weight: 0.5}
}

func seedStore(t *testing.T, id string, now time.Time) *SQLiteStore {
	t.Helper()
	store := newTestStore(t)
	for _, f := range SeedFragments(id, now) {
		if _, err := store.InsertFragment(context.Background(), f); err != nil {
			t.Fatalf("insert seed: %v", err)
		}
	}
	return store
}

func TestRanker_TopTenUniqueAndOrdered(t *testing.T) {
	now := time.Now()
	store := seedStore(t, "cv1:r", now)
	for i := 0; i < 6; i++ {
		_, err := store.InsertFragment(context.Background(), Fragment{
			ConversationID: "cv1:r", Type: FragmentFact, Content: "my family garden", Weight: 0.3, Tags: []string{"family"},
		})
		require.NoError(t, err)
	}

	r := NewRanker(store, RetrievalOptions{Now: func() time.Time { return now }})
	got := r.Retrieve(context.Background(), "cv1:r", analysis.Analyze("I love my wife Martha, tell me about family"), 0.1)

	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 10)
	seen := map[string]bool{}
	for i, rf := range got {
		assert.False(t, seen[rf.ID], "duplicate id %s", rf.ID)
		seen[rf.ID] = true
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].Score, rf.Score)
		}
	}
	assert.True(t, got[0].HasTag("family"), "top fragment should be family-tagged: %+v", got[0])
}

func TestRanker_StrategyFailureDegrades(t *testing.T) {
	now := time.Now()
	store := &flakyStore{SQLiteStore: seedStore(t, "cv1:f", now), failOnRecent: true}
	r := NewRanker(store, RetrievalOptions{})
	got := r.Retrieve(context.Background(), "cv1:f", analysis.Analyze("tell me about music"), 0.5)
	assert.NotEmpty(t, got)
	for _, rf := range got {
		assert.NotEqual(t, StrategyRecent, rf.Strategy)
	}
}

func TestRanker_StoreDownReturnsEmpty(t *testing.T) {
	store := &flakyStore{SQLiteStore: newTestStore(t), failAll: true}
	got := NewRanker(store, RetrievalOptions{}).Retrieve(context.Background(), "cv1:x", analysis.Analyze("hello"), 0)
	assert.Empty(t, got)
}

func TestScoreComponents(t *testing.T) {
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	f := Fragment{Weight: 1, AccessedCount: 250, LastAccessedAt: now.AddDate(0, 0, -15), Tags: []string{"family", "love"}}

	assert.InDelta(t, 0.5, Recency(f, now), 1e-9)
	assert.InDelta(t, 1.0, AccessFrequency(f), 1e-9)

	old := Fragment{CreatedAt: now.AddDate(0, 0, -45)}
	assert.Equal(t, 0.0, Recency(old, now))

	a := analysis.Analysis{Topics: []string{"family", "work"}, Emotion: analysis.Emotion{Primary: "love"}}
	assert.InDelta(t, 1.0, Relevance(f, a), 1e-9)
	a.Emotion.Primary = analysis.EmotionNeutral
	assert.InDelta(t, 0.5, Relevance(f, a), 1e-9)
}

func TestDepthTypes(t *testing.T) {
	assert.Equal(t, []FragmentType{FragmentPreference, FragmentFact}, DepthTypes(0.1))
	assert.Equal(t, []FragmentType{FragmentFact, FragmentEmotionalState}, DepthTypes(0.3))
	assert.Equal(t, []FragmentType{FragmentConcept, FragmentEmotionalState}, DepthTypes(0.9))
}

func TestRanker_TiesKeepDiscoveryOrder(t *testing.T) {
	t1, t2 := frag("t1", "quiet harbour morning"), frag("t2", "rope and tar")
	e1, d1, r1 := frag("e1", "warm kettle"), frag("d1", "an old ledger"), frag("r1", "fresh paint")
	a1 := frag("a1", "gulls over the water")
	store := &scriptedStore{
		byStrategy: map[string][]Fragment{
			StrategyTopic:   {t1, t2},
			StrategyEmotion: {e1},
			StrategyDepth:   {d1, t1},
			StrategyRecent:  {r1, e1},
		},
		byKeyword: map[string][]Fragment{"harbour": {a1}},
	}

	got := NewRanker(store, RetrievalOptions{}).Retrieve(context.Background(), "cv1:s", analysis.Analyze("Hello"), 0.1)

	require.Len(t, got, 6)
	for _, rf := range got[1:] {
		require.Equal(t, got[0].Score, rf.Score, "fixture fragments must tie")
	}
	assert.Equal(t, []string{"t1", "t2", "e1", "d1", "r1", "a1"}, IDs(got))
	strategies := make([]string, 0, len(got))
	for _, rf := range got {
		strategies = append(strategies, rf.Strategy)
	}
	assert.Equal(t, []string{
		StrategyTopic, StrategyTopic, StrategyEmotion, StrategyDepth, StrategyRecent, StrategyAssociation,
	}, strategies)
}

func TestRanker_AssociationFindsKeywordOverlap(t *testing.T) {
	keeper := frag("keeper", "the lighthouse keeper retired")
	second := frag("second", "zeppelin sightings")
	lamp := frag("lamp", "a brass lamp from the coast")
	store := &scriptedStore{
		byStrategy: map[string][]Fragment{
			StrategyTopic: {keeper, second},
		},
		byKeyword: map[string][]Fragment{
			"lighthouse": {lamp},
			"zeppelin":   {frag("never", "should not be reached")},
		},
	}

	got := NewRanker(store, RetrievalOptions{AssociationSeeds: 1}).Retrieve(context.Background(), "cv1:s", analysis.Analyze("Hello"), 0.1)

	keywords := store.associationKeywords()
	assert.Contains(t, keywords, "lighthouse")
	assert.Contains(t, keywords, "keeper")
	assert.NotContains(t, keywords, "zeppelin", "only the top fragment of each strategy seeds keywords")

	idx := slices.IndexFunc(got, func(rf RankedFragment) bool { return rf.ID == "lamp" })
	require.GreaterOrEqual(t, idx, 0, "association fragment missing from %v", IDs(got))
	assert.Equal(t, StrategyAssociation, got[idx].Strategy)
	assert.NotContains(t, IDs(got), "never")
}
