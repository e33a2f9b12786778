package bus

import (
	"time"
)

// InboundMessage is one message received from a chat channel. It is
// immutable after ingestion: the pipeline consumes it exactly once and
// only its derived memory trace survives.
type InboundMessage struct {
	ID          string
	Channel     string
	AuthorID    string
	AuthorIsBot bool
	Content     string
	Mentions    []string // persona IDs mentioned in the message
	ReceivedAt  time.Time
}

// MentionsPersona reports whether the message mentions the given persona.
func (m *InboundMessage) MentionsPersona(persona string) bool {
	for _, p := range m.Mentions {
		if p == persona {
			return true
		}
	}
	return false
}

// OutboundMessage is a persona-tagged response heading for a channel.
// Persona decides which transmission identity carries it.
type OutboundMessage struct {
	Channel string
	Persona string
	Content string
	ReplyTo string
}
