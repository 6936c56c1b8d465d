package copilot

import (
	"sync"
	"time"
)

// Channel tags the source of an Utterance.
type Channel string

const (
	ChannelPTT     Channel = "ptt"
	ChannelPassive Channel = "passive"
	ChannelBot     Channel = "bot"
)

// SummaryTag marks a passive-analyzer-produced entry.
type SummaryTag string

const (
	SummaryNone             SummaryTag = "none"
	SummaryPassiveSummary   SummaryTag = "passive_summary"
	SummaryPassiveQuestion  SummaryTag = "passive_question"
)

// Utterance is one immutable entry in the Conversation Log.
type Utterance struct {
	SpeakerID    string     `json:"speaker_id"`
	SpeakerName  string     `json:"speaker_name"`
	SpeakerRole  Role       `json:"speaker_role"`
	Text         string     `json:"text"`
	Timestamp    time.Time  `json:"timestamp"`
	Channel      Channel    `json:"channel"`
	IsQuestion   bool       `json:"is_question"`
	IsAnswer     bool       `json:"is_answer"`
	SummaryTag   SummaryTag `json:"summary_tag"`
	DirectedToID string     `json:"directed_to_id,omitempty"`
}

// ConversationLog is the append-only, monotone-in-timestamp session record
// used as context by both analyzers and persisted on shutdown.
type ConversationLog struct {
	mu         sync.RWMutex
	utterances []Utterance
}

// NewConversationLog creates an empty log.
func NewConversationLog() *ConversationLog {
	return &ConversationLog{}
}

// Append adds an entry, clamping its timestamp to be non-decreasing
// relative to the last entry so ordering holds even if two events race
// with nearly-identical wall-clock times. Callers route PTT-tagged appends
// ahead of passive ones for the same instant.
func (l *ConversationLog) Append(u Utterance) Utterance {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Callers are expected to route PTT-tagged appends ahead of passive ones
	// for the same instant; the log itself only enforces the
	// weaker, always-checkable guarantee that timestamps never regress.
	if n := len(l.utterances); n > 0 {
		last := l.utterances[n-1]
		if u.Timestamp.Before(last.Timestamp) {
			u.Timestamp = last.Timestamp
		}
	}

	l.utterances = append(l.utterances, u)
	return u
}

// Len returns the number of entries.
func (l *ConversationLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.utterances)
}

// All returns a copy of the full log.
func (l *ConversationLog) All() []Utterance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Utterance, len(l.utterances))
	copy(out, l.utterances)
	return out
}

// Last returns a copy of the last n entries (fewer if the log is shorter).
func (l *ConversationLog) Last(n int) []Utterance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n > len(l.utterances) {
		n = len(l.utterances)
	}
	start := len(l.utterances) - n
	out := make([]Utterance, n)
	copy(out, l.utterances[start:])
	return out
}
