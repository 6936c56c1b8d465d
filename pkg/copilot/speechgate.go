package copilot

import (
	"sync"
	"time"
)

// now is a seam for deterministic tests; production code always uses
// time.Now.
var now = time.Now

// SpeechGate fuses VAD events and transcript arrivals into a single
// debounced "is any human speaking" predicate plus a silence-duration
// counter. It degrades to transcript-only timing when VAD
// events never arrive, without breaking correctness — only responsiveness.
type SpeechGate struct {
	mu              sync.Mutex
	lastSpeechAt    time.Time
	speaking        bool
	minSilence      time.Duration
	sawVADEvent     bool
}

// NewSpeechGate creates a gate with the given minimum silence requirement.
func NewSpeechGate(minSilence time.Duration) *SpeechGate {
	return &SpeechGate{minSilence: minSilence, lastSpeechAt: now()}
}

// OnVADEvent updates the gate from a voice-activity event. VAD is the
// preferred signal.
func (g *SpeechGate) OnVADEvent(ev VADEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sawVADEvent = true
	switch ev.Type {
	case VADSpeechStart:
		g.speaking = true
		g.lastSpeechAt = now()
	case VADSpeechEnd:
		g.speaking = false
		g.lastSpeechAt = now()
	case VADSilence:
		// no-op: absence of speech is the default state.
	}
}

// OnTranscriptArrival restarts the silence timer on any transcript. This is
// the only signal used once VAD is known unavailable.
func (g *SpeechGate) OnTranscriptArrival() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastSpeechAt = now()
	if !g.sawVADEvent {
		// Without VAD we cannot know when speech ends, only that it just
		// happened; treat the gate as "speaking" until silence elapses.
		g.speaking = true
	}
}

// CanBotSpeak reports true iff silence has exceeded min_silence_ms and no
// human is currently speaking.
func (g *SpeechGate) CanBotSpeak() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.silenceMS() >= float64(g.minSilence.Milliseconds()) && !g.currentlySpeaking()
}

// currentlySpeaking folds the VAD-degraded wall-clock check into the
// speaking flag so transcript-only mode still self-clears.
func (g *SpeechGate) currentlySpeaking() bool {
	if g.sawVADEvent {
		return g.speaking
	}
	return g.silenceMS() < float64(g.minSilence.Milliseconds())
}

// SilenceMS returns milliseconds elapsed since the last detected speech.
func (g *SpeechGate) SilenceMS() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.silenceMS()
}

func (g *SpeechGate) silenceMS() float64 {
	return float64(now().Sub(g.lastSpeechAt).Milliseconds())
}
