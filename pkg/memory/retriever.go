package memory

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/analysis"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	StrategyTopic       = "topic"
	StrategyEmotion     = "emotion"
	StrategyDepth       = "depth"
	StrategyRecent      = "recent"
	StrategyAssociation = "association"
)

// RankWeights are the coefficients of the fragment score.
type RankWeights struct {
	Weight          float64 `json:"weight"`
	Recency         float64 `json:"recency"`
	AccessFrequency float64 `json:"access_frequency"`
	Relevance       float64 `json:"relevance"`
}

func DefaultRankWeights() RankWeights {
	return RankWeights{Weight: 0.4, Recency: 0.3, AccessFrequency: 0.2, Relevance: 0.1}
}

// RetrievalOptions tunes a Ranker. Zero values fall back to defaults.
type RetrievalOptions struct {
	Weights          RankWeights
	MaxResults       int
	PerStrategyLimit int
	// AssociationSeeds is how many top results of each primary strategy feed
	// the association keyword set.
	AssociationSeeds    int
	AssociationKeywords int
	Now                 func() time.Time
}

// RankedFragment is a fragment with its retrieval score and the strategy that
// first discovered it.
type RankedFragment struct {
	Fragment
	Score    float64
	Strategy string
}

// Ranker pools fragments from five retrieval strategies and orders them by a
// weighted score.
type Ranker struct {
	store Store
	opts  RetrievalOptions
}

func NewRanker(store Store, opts RetrievalOptions) *Ranker {
	if opts.Weights == (RankWeights{}) {
		opts.Weights = DefaultRankWeights()
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}
	if opts.PerStrategyLimit <= 0 {
		opts.PerStrategyLimit = 8
	}
	if opts.AssociationSeeds <= 0 {
		opts.AssociationSeeds = 2
	}
	if opts.AssociationKeywords <= 0 {
		opts.AssociationKeywords = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ranker{store: store, opts: opts}
}

// DepthTypes maps conversational depth to the fragment types the depth
// strategy looks for.
func DepthTypes(depth float64) []FragmentType {
	switch {
	case depth < 0.3:
		return []FragmentType{FragmentPreference, FragmentFact}
	case depth < 0.7:
		return []FragmentType{FragmentFact, FragmentEmotionalState}
	default:
		return []FragmentType{FragmentConcept, FragmentEmotionalState}
	}
}

// Retrieve never fails: a strategy whose store call errors contributes
// nothing. The result holds at most MaxResults fragments with unique ids,
// ordered by score with discovery order breaking ties.
func (r *Ranker) Retrieve(ctx context.Context, conversationID string, a analysis.Analysis, depth float64) []RankedFragment {
	primary := []struct {
		name  string
		query FragmentQuery
	}{
		{StrategyTopic, FragmentQuery{AnyTags: a.Topics}},
		{StrategyEmotion, r.emotionQuery(a)},
		{StrategyDepth, FragmentQuery{Types: DepthTypes(depth)}},
		{StrategyRecent, FragmentQuery{OrderByRecent: true}},
	}

	results := make([][]Fragment, len(primary))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range primary {
		q := s.query
		q.ConversationID = conversationID
		q.Limit = r.opts.PerStrategyLimit
		name := s.name
		g.Go(func() error {
			results[i] = r.query(gctx, name, q)
			return nil
		})
	}
	_ = g.Wait()

	keywords := r.associationKeywords(results)
	var assoc []Fragment
	if len(keywords) > 0 {
		assoc = r.query(ctx, StrategyAssociation, FragmentQuery{
			ConversationID: conversationID,
			ContentAny:     keywords,
			Limit:          r.opts.PerStrategyLimit,
		})
	}

	pool := make([]RankedFragment, 0, r.opts.PerStrategyLimit*5)
	seen := map[string]struct{}{}
	add := func(strategy string, frags []Fragment) {
		for _, f := range frags {
			if _, ok := seen[f.ID]; ok {
				continue
			}
			seen[f.ID] = struct{}{}
			pool = append(pool, RankedFragment{Fragment: f, Strategy: strategy})
		}
	}
	for i, s := range primary {
		add(s.name, results[i])
	}
	add(StrategyAssociation, assoc)

	now := r.opts.Now()
	for i := range pool {
		pool[i].Score = r.score(pool[i].Fragment, a, now)
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Score > pool[j].Score })
	if len(pool) > r.opts.MaxResults {
		pool = pool[:r.opts.MaxResults]
	}
	return pool
}

func (r *Ranker) emotionQuery(a analysis.Analysis) FragmentQuery {
	if a.Emotion.Primary == "" || a.Emotion.Primary == analysis.EmotionNeutral {
		return FragmentQuery{Types: []FragmentType{FragmentEmotionalState}}
	}
	names := append([]string{a.Emotion.Primary}, a.Emotion.Secondary...)
	return FragmentQuery{AnyTags: names, ContentAny: names}
}

func (r *Ranker) query(ctx context.Context, strategy string, q FragmentQuery) []Fragment {
	frags, err := r.store.QueryFragments(ctx, q)
	if err != nil {
		metrics.Default().RecordStoreError("query_fragments")
		logger.WarnCF("memory", "Retrieval strategy failed", map[string]any{
			"conversation_id": q.ConversationID,
			"strategy":        strategy,
			"error":           err.Error(),
		})
		return nil
	}
	return frags
}

func (r *Ranker) associationKeywords(results [][]Fragment) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, frags := range results {
		for i, f := range frags {
			if i >= r.opts.AssociationSeeds {
				break
			}
			for _, tok := range analysis.Tokenize(f.Content) {
				if len(tok) < 4 || analysis.IsStopword(tok) {
					continue
				}
				if _, ok := seen[tok]; ok {
					continue
				}
				seen[tok] = struct{}{}
				out = append(out, tok)
				if len(out) >= r.opts.AssociationKeywords {
					return out
				}
			}
		}
	}
	return out
}

func (r *Ranker) score(f Fragment, a analysis.Analysis, now time.Time) float64 {
	w := r.opts.Weights
	return f.Weight*w.Weight +
		Recency(f, now)*w.Recency +
		AccessFrequency(f)*w.AccessFrequency +
		Relevance(f, a)*w.Relevance
}

// Recency decays linearly to zero over 30 days since the last access (or
// creation when never accessed).
func Recency(f Fragment, now time.Time) float64 {
	last := f.LastAccessedAt
	if last.IsZero() {
		last = f.CreatedAt
	}
	if last.IsZero() {
		return 0
	}
	days := now.Sub(last).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Max(0, 1-days/30)
}

func AccessFrequency(f Fragment) float64 {
	return math.Min(1, float64(f.AccessedCount)/100)
}

// Relevance is the share of analysed topics carried as tags, plus 0.5 when
// the primary emotion is tagged, capped at 1.
func Relevance(f Fragment, a analysis.Analysis) float64 {
	rel := 0.0
	if len(a.Topics) > 0 {
		hits := 0
		for _, t := range a.Topics {
			if f.HasTag(t) {
				hits++
			}
		}
		rel = float64(hits) / float64(len(a.Topics))
	}
	if p := a.Emotion.Primary; p != "" && p != analysis.EmotionNeutral && f.HasTag(p) {
		rel += 0.5
	}
	return math.Min(1, rel)
}

// IDs returns the fragment ids of ranked in order.
func IDs(ranked []RankedFragment) []string {
	out := make([]string, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.ID)
	}
	return out
}
