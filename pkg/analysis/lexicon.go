package analysis

type topicCategory struct {
	name     string
	keywords []string
}

// Declaration order is the topic order reported in Analysis.Topics.
var topicCategories = []topicCategory{
	{"family", []string{"family", "wife", "husband", "my son", "daughter", "mother", "father", "my mom", "dad", "grandchild", "grandson", "granddaughter", "brother", "sister", "kids", "children", "parents", "married"}},
	{"technology", []string{"computer", "software", "internet", "phone", "technology", "program", "code", "robot", "machine", "digital", "gadget", "engineer"}},
	{"philosophy", []string{"meaning", "purpose", "truth", "existence", "philosophy", "believe", "soul", "wisdom", "mind", "consciousness", "ethics"}},
	{"history", []string{"history", "the war", "century", "ancient", "historical", "decade", "old days", "generation"}},
	{"nature", []string{"nature", "garden", "tree", "forest", "river", "ocean", "mountain", "bird", "flower", "weather", "raining", "sunset"}},
	{"music", []string{"music", "song", "singing", "band", "guitar", "piano", "melody", "concert", "jazz", "radio"}},
	{"food", []string{"food", "cook", "recipe", "dinner", "lunch", "breakfast", "bake", "kitchen", "meal", "coffee"}},
	{"travel", []string{"travel", "trip", "journey", "vacation", "flight", "country", "city", "visit", "road trip"}},
	{"work", []string{"work", "job", "career", "office", "boss", "retire", "business", "colleague", "project"}},
	{"health", []string{"health", "doctor", "sick", "hospital", "medicine", "exercise", "sleep", "tired", "in pain"}},
	{"memory", []string{"remember", "memory", "memories", "forgot", "recall", "nostalgia", "used to", "back then"}},
}

var positiveWords = []string{
	"love", "like", "happy", "great", "good", "wonderful", "amazing", "joy", "glad", "beautiful",
	"excellent", "fantastic", "enjoy", "thank", "thanks", "nice", "lovely", "delight", "proud", "grateful",
}

var negativeWords = []string{
	"hate", "sad", "bad", "terrible", "awful", "angry", "upset", "worried", "lonely", "miss",
	"hurt", "pain", "afraid", "scared", "tired", "sorry", "lost", "cry", "horrible", "annoyed",
}

var urgentWords = []string{
	"urgent", "emergency", "immediately", "asap", "right now", "help me", "hurry", "quickly", "critical",
}

var abstractWords = []string{
	"meaning", "purpose", "truth", "freedom", "justice", "beauty", "love", "time", "existence", "idea",
	"concept", "theory", "wisdom", "soul", "spirit", "belief", "value", "philosophy",
}

var concreteWords = []string{
	"table", "car", "house", "phone", "book", "dog", "cat", "food", "tree", "chair",
	"computer", "door", "garden", "street", "money", "shoe", "kitchen", "window",
}

type emotionEntry struct {
	valence  string
	name     string
	keywords []string
}

const (
	valencePositive = "positive"
	valenceNegative = "negative"
)

// Declaration order breaks ties between equally counted emotions.
var emotionLexicon = []emotionEntry{
	{valencePositive, "joy", []string{"happy", "joy", "glad", "delight", "cheerful", "excited", "wonderful"}},
	{valencePositive, "love", []string{"love", "adore", "cherish", "dear", "darling", "sweetheart"}},
	{valencePositive, "gratitude", []string{"thank", "grateful", "appreciate", "thankful"}},
	{valencePositive, "hope", []string{"hope", "wish", "looking forward", "optimistic"}},
	{valencePositive, "pride", []string{"proud", "accomplished", "achieved"}},
	{valenceNegative, "sadness", []string{"sad", "cry", "tears", "lonely", "miss", "grief", "lost"}},
	{valenceNegative, "anger", []string{"angry", "mad", "furious", "annoyed", "hate"}},
	{valenceNegative, "fear", []string{"afraid", "scared", "worried", "anxious", "nervous", "fear"}},
	{valenceNegative, "regret", []string{"regret", "sorry", "should have", "wish i had"}},
}

type temporalEntry struct {
	frame    string
	keywords []string
}

var temporalMarkers = []temporalEntry{
	{"past", []string{"yesterday", "ago", "used to", "remember", "back then", "was", "were", "did", "once"}},
	{"present", []string{"now", "today", "currently", "these days", "right now", "is", "am"}},
	{"future", []string{"tomorrow", "will", "going to", "someday", "plan", "next", "soon", "hope to"}},
	{"continuous", []string{"always", "forever", "every day", "still", "keep", "constantly", "ongoing"}},
}

// Interrogative openers. A message starting with one of these counts as a question.
var questionLeads = []string{
	"what", "why", "how", "when", "where", "who", "which", "whose",
	"is", "are", "can", "could", "would", "will", "do", "does", "did", "should", "have", "has",
	"tell me", "explain", "describe", "share",
}

// Leads that still mark a question after the first clause.
var clauseQuestionLeads = []string{
	"what", "why", "how", "when", "where", "who", "which", "whose",
	"tell me", "explain",
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "if": {}, "of": {}, "to": {}, "in": {},
	"on": {}, "at": {}, "for": {}, "with": {}, "about": {}, "as": {}, "by": {}, "from": {}, "into": {},
	"i": {}, "me": {}, "my": {}, "we": {}, "our": {}, "you": {}, "your": {}, "he": {}, "she": {}, "it": {},
	"they": {}, "them": {}, "his": {}, "her": {}, "its": {}, "their": {}, "is": {}, "am": {}, "are": {},
	"was": {}, "were": {}, "be": {}, "been": {}, "do": {}, "does": {}, "did": {}, "have": {}, "has": {},
	"had": {}, "this": {}, "that": {}, "these": {}, "those": {}, "so": {}, "just": {}, "not": {}, "no": {},
	"what": {}, "how": {}, "why": {}, "when": {}, "where": {}, "who": {}, "tell": {}, "can": {}, "will": {},
	"would": {}, "could": {}, "should": {}, "there": {}, "here": {}, "very": {}, "too": {}, "also": {},
}

// IsStopword reports whether tok carries no topical weight.
func IsStopword(tok string) bool {
	_, ok := stopwords[tok]
	return ok
}
