package memory

import (
	"regexp"
	"strings"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/analysis"
)

var (
	prefRegex     = regexp.MustCompile(`(?i)\bi (?:really |truly )?(love|like|enjoy|prefer|adore)\b([^.!?,;\n]*)`)
	relationRegex = regexp.MustCompile(`\b(?i:my (wife|husband|son|daughter|mother|mom|father|dad|brother|sister|grandson|granddaughter|grandchildren|grandmother|grandfather|friend|partner|children|kids))\b(?:,?\s+([A-Z][a-z]{1,30}))?`)
)

// emotionThreshold is the minimum intensity that produces an emotional_state
// fragment.
const emotionThreshold = 0.15

// ExtractFragments derives new memory fragments from a user message. At most
// one fragment per type is produced.
func ExtractFragments(conversationID, text string, a analysis.Analysis, now time.Time) []Fragment {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	tags := append([]string(nil), a.Topics...)
	if p := a.Emotion.Primary; p != "" && p != analysis.EmotionNeutral {
		tags = append(tags, p)
	}
	weight := clamp01(0.5 + 0.3*a.Emotion.Intensity)

	out := []Fragment{}
	add := func(t FragmentType, content string) {
		out = append(out, Fragment{
			ConversationID: conversationID,
			Type:           t,
			Content:        content,
			Weight:         weight,
			CreatedAt:      now,
			Tags:           append([]string(nil), tags...),
		})
	}

	if m := prefRegex.FindStringSubmatch(text); m != nil {
		object := strings.TrimSpace(m[2])
		if object != "" {
			add(FragmentPreference, "you told me you "+strings.ToLower(m[1])+" "+swapPerson(object))
		}
	}

	if m := relationRegex.FindStringSubmatch(text); m != nil {
		content := "you mentioned your " + strings.ToLower(m[1])
		if m[2] != "" {
			content += " " + m[2]
		}
		add(FragmentFact, content)
	}

	if a.Emotion.Intensity >= emotionThreshold && a.Emotion.Primary != analysis.EmotionNeutral {
		add(FragmentEmotionalState, "you felt "+a.Emotion.Primary+" while we talked about "+a.PrimaryTopic())
	}

	if a.AbstractionLevel == analysis.AbstractionHigh {
		sentences := analysis.SplitSentences(text)
		if len(sentences) > 0 {
			add(FragmentConcept, "you wondered about "+swapPerson(lowerFirst(sentences[0])))
		}
	}
	return out
}

var personSwaps = map[string]string{
	"i":      "you",
	"i'm":    "you're",
	"me":     "you",
	"my":     "your",
	"mine":   "yours",
	"myself": "yourself",
	"am":     "are",
}

// swapPerson turns first-person words into second person so the persona can
// quote the user back.
func swapPerson(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if repl, ok := personSwaps[strings.ToLower(w)]; ok {
			words[i] = repl
		}
	}
	return strings.Join(words, " ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	// Keep the pronoun "I" and acronyms intact.
	if len(s) > 1 && s[1] >= 'A' && s[1] <= 'Z' {
		return s
	}
	if strings.HasPrefix(s, "I ") {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
