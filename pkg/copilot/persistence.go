package copilot

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// PersistedContext is the JSON shutdown artifact: the full Conversation Log
// plus the participant roster at end of call.
type PersistedContext struct {
	CallID       string            `json:"call_id"`
	SavedAt      time.Time         `json:"saved_at"`
	Participants []Participant     `json:"participants"`
	Utterances   []Utterance       `json:"utterances"`
	RoleByID     map[string]string `json:"role_by_id"`
}

// ExportJSON builds the JSON-serializable snapshot used for
// call-context-{call_id}-{timestamp}.json.
func ExportJSON(callID string, log *ConversationLog, registry *ParticipantRegistry) PersistedContext {
	participants := registry.All()
	roleByID := make(map[string]string, len(participants))
	for _, p := range participants {
		roleByID[p.ID] = string(p.Role)
	}
	return PersistedContext{
		CallID:       callID,
		SavedAt:      now(),
		Participants: participants,
		Utterances:   log.All(),
		RoleByID:     roleByID,
	}
}

// SaveJSON writes the full context export to path.
func SaveJSON(path string, ctx PersistedContext) error {
	data, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal persisted context: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// SaveTextTranscript writes a human-readable transcript to path, one line
// per Utterance, grouped chronologically as they were logged.
func SaveTextTranscript(path string, log *ConversationLog) error {
	var b strings.Builder
	for _, u := range log.All() {
		tag := ""
		switch {
		case u.Channel == ChannelPTT:
			tag = " [PTT]"
		case u.SummaryTag == SummaryPassiveSummary:
			tag = " [analysis]"
		case u.SummaryTag == SummaryPassiveQuestion:
			tag = " [intervention]"
		case u.IsAnswer:
			tag = " [bot]"
		}
		fmt.Fprintf(&b, "[%s] %s (%s)%s: %s\n",
			u.Timestamp.Format(time.RFC3339),
			u.SpeakerName,
			u.SpeakerRole,
			tag,
			u.Text,
		)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// ShutdownFilenames returns the conventional transcript/context filenames
// for a call, timestamped at the moment of shutdown.
func ShutdownFilenames(callID string, at time.Time) (txtPath, jsonPath string) {
	ts := at.Format("2006-01-02-15-04-05")
	return fmt.Sprintf("call-transcript-%s-%s.txt", callID, ts),
		fmt.Sprintf("call-context-%s-%s.json", callID, ts)
}
