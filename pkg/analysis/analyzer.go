// Package analysis extracts deterministic lexicon features from a single message.
package analysis

import (
	"math"
	"strings"
	"unicode"
)

const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"

	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"

	AbstractionLow     = "low"
	AbstractionMedium  = "medium"
	AbstractionHigh    = "high"
	AbstractionNeutral = "neutral"

	TopicGeneral    = "general"
	EmotionNeutral  = "neutral"
	TemporalPresent = "present"
)

type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type Emotion struct {
	Primary   string   `json:"primary"`
	Secondary []string `json:"secondary"`
	Intensity float64  `json:"intensity"`
	Valence   float64  `json:"valence"`
	Arousal   float64  `json:"arousal"`
}

// Analysis is the per-message feature bundle. It is recomputed every turn and
// never depends on conversation state.
type Analysis struct {
	Tokens              []string  `json:"tokens"`
	SentenceCount       int       `json:"sentence_count"`
	Sentiment           Sentiment `json:"sentiment"`
	Complexity          float64   `json:"complexity"`
	Urgency             string    `json:"urgency"`
	AbstractionLevel    string    `json:"abstraction_level"`
	Topics              []string  `json:"topics"`
	Emotion             Emotion   `json:"emotion"`
	TemporalOrientation string    `json:"temporal_orientation"`
	NoveltyScore        float64   `json:"novelty_score"`
	SemanticDensity     float64   `json:"semantic_density"`
	ContainsQuestion    bool      `json:"contains_question"`
}

// PrimaryTopic returns the first detected topic.
func (a Analysis) PrimaryTopic() string {
	if len(a.Topics) == 0 {
		return TopicGeneral
	}
	return a.Topics[0]
}

func (a Analysis) HasTopic(topic string) bool {
	for _, t := range a.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Analyze computes every feature of text.
func Analyze(text string) Analysis {
	lowered := strings.ToLower(text)
	tokens := Tokenize(text)
	sentences := SplitSentences(text)

	a := Analysis{
		Tokens:              tokens,
		SentenceCount:       len(sentences),
		Sentiment:           sentimentOf(tokens, lowered),
		Complexity:          complexityOf(tokens, len(sentences)),
		Urgency:             urgencyOf(tokens, lowered),
		AbstractionLevel:    abstractionOf(tokens, lowered),
		Topics:              topicsOf(lowered),
		TemporalOrientation: temporalOf(tokens, lowered),
		NoveltyScore:        uniqueRatio(tokens),
		SemanticDensity:     contentRatio(tokens),
		ContainsQuestion:    containsQuestion(lowered),
	}
	a.Emotion = emotionOf(tokens, lowered)
	return a
}

// ExtractTopics returns the topic categories present in text, or {general}.
func ExtractTopics(text string) []string {
	return topicsOf(strings.ToLower(text))
}

// SentimentOf returns only the lexicon sentiment of text.
func SentimentOf(text string) Sentiment {
	return sentimentOf(Tokenize(text), strings.ToLower(text))
}

// Tokenize splits text on anything that is not a letter, digit or apostrophe.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'')
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// SplitSentences splits on runs of '.', '!' and '?' and drops empty segments.
func SplitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// TokenJaccard is the Jaccard similarity of the token sets of a and b.
func TokenJaccard(a, b string) float64 {
	return jaccard(Tokenize(a), Tokenize(b))
}

// TopicJaccard is the Jaccard similarity of the topic sets of a and b.
func TopicJaccard(a, b string) float64 {
	return jaccard(ExtractTopics(a), ExtractTopics(b))
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// countHits counts keyword occurrences. Phrases match as substrings of the
// lowered text; single words match whole tokens, or token prefixes for stems
// of four letters or more. A token counts at most once per keyword list, so
// "thanks" is one hit even though both "thank" and "thanks" match it.
func countHits(tokens []string, lowered string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(kw, " ") {
			hits += strings.Count(lowered, kw)
		}
	}
	for _, tok := range tokens {
		for _, kw := range keywords {
			if strings.Contains(kw, " ") {
				continue
			}
			if tok == kw || (len(kw) >= 4 && strings.HasPrefix(tok, kw)) {
				hits++
				break
			}
		}
	}
	return hits
}

func topicsOf(lowered string) []string {
	var topics []string
	for _, cat := range topicCategories {
		for _, kw := range cat.keywords {
			if strings.Contains(lowered, kw) {
				topics = append(topics, cat.name)
				break
			}
		}
	}
	if len(topics) == 0 {
		return []string{TopicGeneral}
	}
	return topics
}

func sentimentOf(tokens []string, lowered string) Sentiment {
	pos := countHits(tokens, lowered, positiveWords)
	neg := countHits(tokens, lowered, negativeWords)
	label := SentimentNeutral
	switch {
	case pos > neg:
		label = SentimentPositive
	case neg > pos:
		label = SentimentNegative
	}
	return Sentiment{Label: label, Score: clamp(float64(pos-neg)/10, -1, 1)}
}

func complexityOf(tokens []string, sentences int) float64 {
	if len(tokens) == 0 {
		return 0
	}
	totalLen := 0
	for _, t := range tokens {
		totalLen += len([]rune(t))
	}
	avgLen := float64(totalLen) / float64(len(tokens))
	lengthFactor := math.Min(1, avgLen/10)
	diversity := uniqueRatio(tokens)
	sentenceFactor := math.Min(1, float64(sentences)/5)
	return clamp(lengthFactor*0.4+diversity*0.4+sentenceFactor*0.2, 0, 1)
}

func urgencyOf(tokens []string, lowered string) string {
	if countHits(tokens, lowered, urgentWords) > 0 {
		return UrgencyHigh
	}
	if strings.ContainsAny(lowered, "?!") {
		return UrgencyMedium
	}
	return UrgencyLow
}

func abstractionOf(tokens []string, lowered string) string {
	abstract := countHits(tokens, lowered, abstractWords)
	concrete := countHits(tokens, lowered, concreteWords)
	switch {
	case abstract == 0 && concrete == 0:
		return AbstractionNeutral
	case abstract > 2*concrete:
		return AbstractionHigh
	case concrete > 2*abstract:
		return AbstractionLow
	default:
		return AbstractionMedium
	}
}

func emotionOf(tokens []string, lowered string) Emotion {
	counts := make([]int, len(emotionLexicon))
	posHits, negHits, total, distinct := 0, 0, 0, 0
	for i, e := range emotionLexicon {
		c := countHits(tokens, lowered, e.keywords)
		counts[i] = c
		if c == 0 {
			continue
		}
		distinct++
		total += c
		if e.valence == valencePositive {
			posHits += c
		} else {
			negHits += c
		}
	}

	// Stable selection: a strictly greater count is required to displace an
	// earlier-declared emotion.
	order := make([]int, 0, len(emotionLexicon))
	for i := range emotionLexicon {
		if counts[i] > 0 {
			order = append(order, i)
		}
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && counts[order[j]] > counts[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	em := Emotion{Primary: EmotionNeutral, Secondary: []string{}}
	if len(order) > 0 {
		em.Primary = emotionLexicon[order[0]].name
		for _, idx := range order[1:] {
			if len(em.Secondary) == 2 {
				break
			}
			em.Secondary = append(em.Secondary, emotionLexicon[idx].name)
		}
	}
	em.Valence = clamp(float64(posHits)*0.1-float64(negHits)*0.1, -1, 1)
	em.Intensity = clamp(float64(total)*0.05, 0, 1)
	// The emotion set saturates at three named emotions (primary plus two secondary).
	setComplexity := math.Min(1, float64(distinct)/3)
	em.Arousal = clamp(0.5*em.Intensity+0.5*setComplexity, 0, 1)
	return em
}

func temporalOf(tokens []string, lowered string) string {
	best, bestCount := TemporalPresent, 0
	for _, m := range temporalMarkers {
		if c := countHits(tokens, lowered, m.keywords); c > bestCount {
			best, bestCount = m.frame, c
		}
	}
	return best
}

// containsQuestion reports a trailing "?", a message that opens with any
// interrogative lead, or a later clause opening with a wh-word or a request
// such as "tell me". Auxiliaries like "do" or "have" only count at the start,
// so "Thanks, do enjoy your evening" is not a question.
func containsQuestion(lowered string) bool {
	trimmed := strings.TrimSpace(lowered)
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	clauses := strings.FieldsFunc(trimmed, func(r rune) bool {
		return strings.ContainsRune(",;:.!?", r)
	})
	for i, clause := range clauses {
		leads := clauseQuestionLeads
		if i == 0 {
			leads = questionLeads
		}
		if opensWith(strings.TrimSpace(clause), leads) {
			return true
		}
	}
	return false
}

func opensWith(clause string, leads []string) bool {
	for _, lead := range leads {
		if clause == lead || strings.HasPrefix(clause, lead+" ") || strings.HasPrefix(clause, lead+"'") {
			return true
		}
	}
	return false
}

func uniqueRatio(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		seen[t] = struct{}{}
	}
	return clamp(float64(len(seen))/float64(len(tokens)), 0, 1)
}

func contentRatio(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	content := 0
	for _, t := range tokens {
		if !IsStopword(t) {
			content++
		}
	}
	return clamp(float64(content)/float64(len(tokens)), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
