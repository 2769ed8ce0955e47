package generation

import (
	"fmt"
	"strings"
)

var knowledgeIntros = []string{
	"Did you know that ",
	"I once read that ",
	"Here's something I've always found fascinating: ",
	"They say that ",
}

var knowledgeBase = map[string][]string{
	"family": {
		"a loving family is held together less by blood than by the stories it keeps telling",
		"grandparents who share stories give children a sense of where they come from",
	},
	"technology": {
		"the first transistor radios came out in the fifties and changed how people listened",
		"every machine, however clever, is patience and arithmetic at heart",
	},
	"philosophy": {
		"the Stoics held that we suffer more in imagination than in reality",
		"Socrates claimed wisdom begins with admitting how little we know",
	},
	"history": {
		"the printing press did for ideas what the railway later did for people",
		"most history is made by ordinary people doing ordinary things well",
	},
	"nature": {
		"an old oak can support hundreds of kinds of insects and birds",
		"gardeners learn patience because nothing grows faster for being watched",
	},
	"music": {
		"jazz grew out of New Orleans by mixing blues, ragtime and brass bands",
		"a melody heard in youth can stay with a person for a lifetime",
	},
	"food": {
		"sharing a meal is one of the oldest ways people say they belong together",
		"bread has been baked for at least fourteen thousand years",
	},
	"travel": {
		"people once crossed oceans for months to reach places we now fly to in hours",
		"the best journeys usually change the traveler more than the map",
	},
	"work": {
		"a trade learned with your hands stays with you long after retirement",
		"good colleagues are remembered longer than good projects",
	},
	"health": {
		"a daily walk does more for the heart than most people expect",
		"sleep is when the body quietly repairs the day",
	},
	"memory": {
		"memories grow stronger each time we tell them to someone who listens",
		"smells bring back memories faster than any photograph",
	},
	"general": {
		"a good conversation is one where both people leave a little different",
		"curiosity keeps a mind young long after the body slows down",
	},
}

// KnowledgeID is the provenance id of the i-th knowledge item of topic.
func KnowledgeID(topic string, i int) string {
	return fmt.Sprintf("knowledge:%s:%d", topic, i)
}

// KnowledgeTopic returns the topic encoded in a knowledge provenance id.
func KnowledgeTopic(id string) (string, bool) {
	rest, ok := strings.CutPrefix(id, "knowledge:")
	if !ok {
		return "", false
	}
	topic, _, ok := strings.Cut(rest, ":")
	return topic, ok
}
