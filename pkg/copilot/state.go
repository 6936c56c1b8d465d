package copilot

import "sync"

// BotState is one of the five bot-lifecycle states.
type BotState string

const (
	StatePassiveListening BotState = "passive_listening"
	StateActiveListening  BotState = "active_listening"
	StateThinking         BotState = "thinking"
	StateRaisedHand       BotState = "raised_hand"
	StateSpeaking         BotState = "speaking"
)

// StateEvent is one of the inputs the controller reacts to. Every state has
// a defined transition for every event, including implicit self-loops.
type StateEvent string

const (
	EventPTTOn             StateEvent = "ptt_on"
	EventPTTOffNonEmpty    StateEvent = "ptt_off_buffer_nonempty"
	EventPTTOffEmpty       StateEvent = "ptt_off_buffer_empty"
	EventHumanSpeechStart  StateEvent = "human_speech_start"
	EventHumanSpeechResume StateEvent = "human_speech_resume"
	EventAnalyzerQuestion  StateEvent = "analyzer_question"
	EventLLMSucceeded      StateEvent = "llm_succeeded"
	EventLLMFailed         StateEvent = "llm_failed"
	EventApprove           StateEvent = "approve"
	EventCancel            StateEvent = "cancel"
	EventTTSComplete       StateEvent = "tts_complete"
)

// transitionTable[from][event] = to. Every (state, event) pair not present
// is a defined no-op self-transition, so every state has a defined
// transition for every input, including "stay put".
var transitionTable = map[BotState]map[StateEvent]BotState{
	StatePassiveListening: {
		EventPTTOn:            StateActiveListening,
		EventAnalyzerQuestion: StateThinking,
	},
	StateActiveListening: {
		EventPTTOffNonEmpty:   StateThinking,
		EventHumanSpeechStart: StateActiveListening,
		EventPTTOffEmpty:      StateActiveListening,
	},
	StateThinking: {
		EventLLMSucceeded: StateRaisedHand,
		EventLLMFailed:    StatePassiveListening,
	},
	StateRaisedHand: {
		EventApprove:           StateSpeaking,
		EventCancel:            StatePassiveListening,
		EventPTTOn:             StatePassiveListening,
		EventHumanSpeechResume: StateRaisedHand,
	},
	StateSpeaking: {
		EventTTSComplete:      StatePassiveListening,
		EventHumanSpeechStart: StatePassiveListening,
	},
}

// BotStatus is the singleton bot-state record broadcast to observers.
type BotStatus struct {
	State          BotState
	HandRaised     bool
	HandApproved   bool
	PendingMessage string
}

// StateListener is notified on every transition, used to broadcast
// {type: bot_state_changed, state} on the app-message channel.
type StateListener func(from, to BotState, event StateEvent)

// StateController owns the bot lifecycle. A transition is atomic with
// respect to other transitions: all mutation happens under mu,
// and invalid events are dropped rather than causing a partial update.
type StateController struct {
	mu       sync.Mutex
	state    BotState
	pending  string
	approved bool
	// approvedSinceListening tracks whether hand_approved has been set
	// since the last transition into passive_listening.
	approvedSinceListening bool

	listeners []StateListener
}

// NewStateController starts in passive_listening, the initial state on
// join.
func NewStateController() *StateController {
	return &StateController{state: StatePassiveListening}
}

// OnTransition registers a listener for every subsequent transition.
func (c *StateController) OnTransition(fn StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// State returns the current bot state.
func (c *StateController) State() BotState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the full singleton bot-state record.
func (c *StateController) Status() BotStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return BotStatus{
		State:          c.state,
		HandRaised:     c.pending != "" && c.state == StateRaisedHand,
		HandApproved:   c.approved,
		PendingMessage: c.pending,
	}
}

// Fire applies event to the current state and returns the resulting state.
// Events with no defined transition leave the state unchanged: "no entry"
// is treated as a self-loop, never an error, so Fire never panics on any
// event sequence.
func (c *StateController) Fire(event StateEvent) BotState {
	c.mu.Lock()
	from := c.state
	to, ok := transitionTable[from][event]
	if !ok {
		to = from
	}

	if to == StatePassiveListening && from != StatePassiveListening {
		c.approvedSinceListening = false
		c.approved = false
		c.pending = ""
	}

	c.state = to
	listeners := append([]StateListener(nil), c.listeners...)
	c.mu.Unlock()

	if ok {
		for _, fn := range listeners {
			fn(from, to, event)
		}
	}
	return to
}

// RaiseHand sets pending_message and moves into raised_hand via the
// LLM-succeeded transition. Idempotent: raising while already raised is a
// no-op returning ErrHandAlreadyRaised.
func (c *StateController) RaiseHand(message string) error {
	c.mu.Lock()
	if c.state == StateRaisedHand {
		c.mu.Unlock()
		return ErrHandAlreadyRaised
	}
	c.pending = message
	c.mu.Unlock()
	c.Fire(EventLLMSucceeded)
	return nil
}

// Approve authorizes emission of pending_message and transitions to
// speaking. Requires hand_raised and a non-empty pending message; an
// out-of-order approve is dropped rather than causing a partial update.
func (c *StateController) Approve() (string, error) {
	c.mu.Lock()
	if c.state != StateRaisedHand || c.pending == "" {
		c.mu.Unlock()
		return "", ErrHandNotRaised
	}
	msg := c.pending
	c.approved = true
	c.approvedSinceListening = true
	c.mu.Unlock()
	c.Fire(EventApprove)
	return msg, nil
}

// Cancel drops pending_message and clears the raised hand.
// A cancel with nothing raised is dropped silently.
func (c *StateController) Cancel() error {
	c.mu.Lock()
	if c.state != StateRaisedHand {
		c.mu.Unlock()
		return ErrHandNotRaised
	}
	c.mu.Unlock()
	c.Fire(EventCancel)
	return nil
}

// ClearPendingOnEmit empties pending_message once the agent has actually
// emitted it. pending_message becomes empty exactly when the agent emits it
// or the hand is cancelled.
func (c *StateController) ClearPendingOnEmit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = ""
}

// WasApprovedSinceListening reports whether hand_approved was set since the
// last transition into passive_listening.
func (c *StateController) WasApprovedSinceListening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.approvedSinceListening
}
