package copilot

import (
	"strings"
	"sync"
	"time"
)

// pttBuffer accumulates transcript fragments received while one
// participant's PTT latch is on. latched outlives the
// instantaneous PTT-off signal so a late transcript is still captured.
type pttBuffer struct {
	fragments      []string
	latched        bool
	releasePending bool
}

func (b *pttBuffer) text() string {
	return strings.TrimSpace(strings.Join(b.fragments, " "))
}

// append adds text to the buffer, deduplicating against what is already
// present since STT commonly emits overlapping, progressively-growing
// fragments ("Hello", then "Hello can you", then "Hello can you help"): if
// the new fragment already contains the current buffer it replaces it
// outright, if the current buffer already contains the new fragment it's
// dropped as a re-delivered duplicate, and only a genuinely new fragment is
// appended.
func (b *pttBuffer) append(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	current := b.text()
	if current == "" {
		b.fragments = []string{text}
		return
	}
	if strings.Contains(current, text) {
		return
	}
	if strings.Contains(text, current) {
		b.fragments = []string{text}
		return
	}
	b.fragments = append(b.fragments, text)
}

func (b *pttBuffer) clear() {
	b.fragments = nil
	b.releasePending = false
}

// TranscriptionRouter consumes final transcripts, tags each as PTT or
// passive, maintains one pttBuffer per participant, and feeds the
// Conversation Log.
type TranscriptionRouter struct {
	mu sync.Mutex

	botID      string
	registry   *ParticipantRegistry
	log        *ConversationLog
	controller *StateController
	gate       *SpeechGate

	instantPTT map[string]bool
	buffers    map[string]*pttBuffer

	// OnPTTFlush is invoked with the complete buffered text whenever a PTT
	// buffer should be handed to the PTT Responder (release, or a
	// release-pending transcript arrival). Invoked at most once per press.
	OnPTTFlush func(speakerID string, text string)

	// OnPassiveUtterance is invoked once for every transcript routed to the
	// passive channel, so the Passive Analyzer knows how much new material
	// has accumulated since its last tick.
	OnPassiveUtterance func()

	latchTimers map[string]*time.Timer
	latchGrace  time.Duration
}

// NewTranscriptionRouter wires the router to the shared session objects. It
// is constructed once, up front, and handed pointers rather than being
// wired after the fact.
func NewTranscriptionRouter(botID string, registry *ParticipantRegistry, log *ConversationLog, controller *StateController, gate *SpeechGate, latchGrace time.Duration) *TranscriptionRouter {
	return &TranscriptionRouter{
		botID:       botID,
		registry:    registry,
		log:         log,
		controller:  controller,
		gate:        gate,
		instantPTT:  make(map[string]bool),
		buffers:     make(map[string]*pttBuffer),
		latchTimers: make(map[string]*time.Timer),
		latchGrace:  latchGrace,
	}
}

func (r *TranscriptionRouter) bufferFor(id string) *pttBuffer {
	b, ok := r.buffers[id]
	if !ok {
		b = &pttBuffer{}
		r.buffers[id] = b
	}
	return b
}

// SetPTT toggles a participant's instantaneous PTT signal in response to an
// inbound {type:"ptt"} app message. Turning it on sets the latch and clears
// any previous buffer for a fresh press; turning it off is handled by the
// caller invoking HandlePTTOff, which decides whether to flush immediately
// or mark release-pending.
func (r *TranscriptionRouter) SetPTT(speakerID string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instantPTT[speakerID] = active
	if active {
		b := r.bufferFor(speakerID)
		b.clear()
		b.latched = true
		r.stopLatchTimer(speakerID)
	}
}

// HandlePTTOff implements the race-free release rule: if the buffer is
// non-empty, flush immediately; otherwise mark release_pending so the next
// transcript flushes it.
func (r *TranscriptionRouter) HandlePTTOff(speakerID string) {
	r.mu.Lock()
	r.instantPTT[speakerID] = false
	b := r.bufferFor(speakerID)
	if text := b.text(); text != "" {
		b.clear()
		r.mu.Unlock()
		r.flushPTT(speakerID, text)
		return
	}
	b.releasePending = true
	r.armLatchTimer(speakerID)
	r.mu.Unlock()
}

// armLatchTimer starts the hard grace-period watchdog: if no
// transcript materializes within PTTLatchGrace after PTT-off, the latch is
// cleared so a stale press cannot resurrect itself indefinitely.
func (r *TranscriptionRouter) armLatchTimer(speakerID string) {
	r.stopLatchTimer(speakerID)
	if r.latchGrace <= 0 {
		return
	}
	r.latchTimers[speakerID] = time.AfterFunc(r.latchGrace, func() {
		r.mu.Lock()
		b := r.bufferFor(speakerID)
		b.latched = false
		b.releasePending = false
		delete(r.latchTimers, speakerID)
		r.mu.Unlock()
	})
}

func (r *TranscriptionRouter) stopLatchTimer(speakerID string) {
	if t, ok := r.latchTimers[speakerID]; ok {
		t.Stop()
		delete(r.latchTimers, speakerID)
	}
}

// CancelLatch clears a participant's latch and buffer outright. The Session
// calls it when the hand is cancelled and after the PTT Responder has
// answered a flushed press; a new PTT-on is handled by SetPTT instead.
func (r *TranscriptionRouter) CancelLatch(speakerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bufferFor(speakerID).clear()
	r.bufferFor(speakerID).latched = false
	r.stopLatchTimer(speakerID)
}

// HandleTranscript processes one final transcript: resolves the speaker,
// routes it to the active PTT buffer or the passive channel, and appends it
// to the Conversation Log.
func (r *TranscriptionRouter) HandleTranscript(speakerID, text string, ts time.Time) {
	if speakerID == r.botID || speakerID == r.registry.BotID() {
		return // echo guard, step 1
	}

	r.gate.OnTranscriptArrival()

	p := r.registry.Get(speakerID)
	role := RoleUnknown
	if p != nil {
		role = p.Role
	}
	name := r.registry.NameOrPrefix(speakerID)

	r.mu.Lock()
	instant := r.instantPTT[speakerID]
	b := r.bufferFor(speakerID)
	pttActive := instant || b.latched

	var flushText string
	if pttActive {
		b.append(text)
		r.controller.Fire(EventPTTOn)
		if b.releasePending {
			flushText = b.text()
			b.clear()
		}
	}
	r.mu.Unlock()

	channel := ChannelPassive
	if pttActive {
		channel = ChannelPTT
	}

	r.log.Append(Utterance{
		SpeakerID:   speakerID,
		SpeakerName: name,
		SpeakerRole: role,
		Text:        text,
		Timestamp:   ts,
		Channel:     channel,
		IsQuestion:  strings.Contains(text, "?"),
	})

	if flushText != "" {
		r.flushPTT(speakerID, flushText)
	} else if channel == ChannelPassive && r.OnPassiveUtterance != nil {
		r.OnPassiveUtterance()
	}
}

func (r *TranscriptionRouter) flushPTT(speakerID, text string) {
	if r.OnPTTFlush != nil {
		r.OnPTTFlush(speakerID, text)
	}
}
