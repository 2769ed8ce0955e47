package gateway

import "github.com/dotsetgreg/dotpersona/pkg/engine"

// Canned persona replies for requests the engine never answers itself.
const (
	InvalidReply          = "I'm afraid I didn't quite catch that. Could you say it again, and keep it under a thousand characters?"
	MethodNotAllowedReply = "My hearing isn't what it used to be. Send your message to me with a POST, if you would."
	FailureReply          = "Oh dear, my mind wandered off for a moment there. Would you mind asking me again?"
)

// ReplyFor maps a Chat error to the persona text sent back in its place.
func ReplyFor(err error) string {
	if err == nil {
		return ""
	}
	if engine.IsValidation(err) {
		return InvalidReply
	}
	return FailureReply
}
