package copilot

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PTTResponder assembles the PTT system prompt, the conversation log, and
// the buffered PTT utterance into a single LLM call, then raises the hand
// with the result. It runs at most once per press.
type PTTResponder struct {
	llm        LLMProvider
	log        *ConversationLog
	registry   *ParticipantRegistry
	controller *StateController
	logger     Logger
	timeout    time.Duration

	systemPrompt string
}

// NewPTTResponder wires the responder to its collaborators, injected
// through the session context rather than patched in after construction.
func NewPTTResponder(llm LLMProvider, log *ConversationLog, registry *ParticipantRegistry, controller *StateController, systemPrompt string, timeout time.Duration, logger Logger) *PTTResponder {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &PTTResponder{
		llm:          llm,
		log:          log,
		registry:     registry,
		controller:   controller,
		logger:       logger,
		timeout:      timeout,
		systemPrompt: systemPrompt,
	}
}

// Respond runs the full PTT turn for one completed buffer. Exactly one call
// should be made per press; callers enforce that by flushing each buffer at
// most once (router.go).
func (r *PTTResponder) Respond(ctx context.Context, speakerID, text string) {
	to := r.controller.Fire(EventPTTOffNonEmpty)
	if to != StateThinking {
		// Someone else already moved us off active_listening (e.g. a
		// concurrent cancel); don't generate a response into a state that
		// no longer expects one.
		r.logger.Debug("ptt responder skipped: unexpected state", "state", to)
		return
	}

	p := r.registry.Get(speakerID)
	name := r.registry.NameOrPrefix(speakerID)
	role := RoleUnknown
	if p != nil {
		role = p.Role
	}

	messages := r.buildMessages(name, role, text)

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	response, err := r.llm.Complete(cctx, messages)
	if err != nil || strings.TrimSpace(response) == "" {
		r.logger.Error("ptt llm call failed, falling back", "error", err)
		response = "I have a response ready."
	}

	botID := r.registry.BotID()
	r.log.Append(Utterance{
		SpeakerID:   botID,
		SpeakerName: "AI Co-Pilot",
		SpeakerRole: RoleBot,
		Text:        response,
		Timestamp:   now(),
		Channel:     ChannelBot,
		IsAnswer:    true,
	})

	if raiseErr := r.controller.RaiseHand(response); raiseErr != nil {
		r.logger.Debug("hand raise no-op", "error", raiseErr)
	}
}

func (r *PTTResponder) buildMessages(name string, role Role, text string) []Message {
	messages := []Message{{Role: "system", Content: r.systemPrompt}}

	history := r.log.All()
	if len(history) > 0 {
		var b strings.Builder
		for _, u := range history {
			fmt.Fprintf(&b, "%s (%s): %s\n", u.SpeakerName, strings.ToUpper(string(u.SpeakerRole)), u.Text)
		}
		messages = append(messages, Message{
			Role:    "user",
			Content: "Previous conversation:\n" + b.String(),
		})
	}

	messages = append(messages, Message{
		Role:    "user",
		Content: fmt.Sprintf("[User speaking to AI] %s (%s): %s", name, strings.ToUpper(string(role)), text),
	})
	return messages
}
