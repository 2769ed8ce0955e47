package generation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dotsetgreg/dotpersona/pkg/personality"
)

// Embellishment gates. Each gate is an independent Bernoulli trial that only
// runs when its trait threshold is met.
const (
	nostalgiaGate   = 0.7
	nostalgiaChance = 0.4
	wisdomGate      = 0.6
	wisdomChance    = 0.3
	depthGate       = 0.5
	prefaceChance   = 0.2
	maxSuffixes     = 2
)

var (
	nostalgicSuffixes = []string{
		"It reminds me of simpler times.",
		"Those were the days.",
		"Funny how the past sneaks up on you.",
		"I can almost hear the old radio playing.",
	}
	wisdomSuffixes = []string{
		"In my experience, patience usually finds the answer.",
		"Life has taught me that the small things matter most.",
		"Every day still teaches me something new.",
	}
	reflectivePrefaces = []string{
		"Thinking about all we've talked about,",
		"You know, the more we talk, the more I see it:",
		"We've covered quite a bit together, so let me say this:",
	}
)

// Finished is the final reply text plus the embellishments that were applied.
type Finished struct {
	Text           string
	Embellishments []string
}

type Finisher struct {
	rand Rand
}

func NewFinisher(r Rand) *Finisher {
	return &Finisher{rand: r}
}

// Finish normalizes punctuation and capitalization, then applies the
// trait-gated embellishments.
func (f *Finisher) Finish(text string, v personality.Vector, depth float64) Finished {
	body := Normalize(text)
	out := Finished{Embellishments: []string{}}

	suffixes := []string{}
	if v.Nostalgia > nostalgiaGate && f.rand.Float64() < nostalgiaChance {
		suffixes = append(suffixes, pick(f.rand, nostalgicSuffixes))
		out.Embellishments = append(out.Embellishments, "nostalgic_suffix")
	}
	if len(suffixes) < maxSuffixes && v.Wisdom > wisdomGate && f.rand.Float64() < wisdomChance {
		suffixes = append(suffixes, pick(f.rand, wisdomSuffixes))
		out.Embellishments = append(out.Embellishments, "wisdom_suffix")
	}
	if depth > depthGate && f.rand.Float64() < prefaceChance {
		body = pick(f.rand, reflectivePrefaces) + " " + lowerInitial(body)
		out.Embellishments = append(out.Embellishments, "reflective_preface")
	}

	parts := append([]string{body}, suffixes...)
	out.Text = strings.Join(parts, " ")
	return out
}

// Normalize trims text, capitalizes the first letter and guarantees terminal
// punctuation.
func Normalize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(text)
	text = string(unicode.ToUpper(r)) + text[size:]
	last, _ := utf8.DecodeLastRuneInString(text)
	if !strings.ContainsRune(".!?", last) {
		text = strings.TrimRight(text, ",;: ") + "."
	}
	return text
}

// lowerInitial lowercases the first letter unless text opens with "I".
func lowerInitial(text string) string {
	if strings.HasPrefix(text, "I ") || strings.HasPrefix(text, "I'") {
		return text
	}
	r, size := utf8.DecodeRuneInString(text)
	return string(unicode.ToLower(r)) + text[size:]
}
