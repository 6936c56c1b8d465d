package copilot

import (
	"testing"
	"time"
)

func newTestRouter() (*TranscriptionRouter, *ConversationLog, *ParticipantRegistry, *StateController) {
	registry := NewParticipantRegistry()
	log := NewConversationLog()
	controller := NewStateController()
	gate := NewSpeechGate(2000 * time.Millisecond)
	router := NewTranscriptionRouter("bot-1", registry, log, controller, gate, 5*time.Second)
	return router, log, registry, controller
}

func TestHandleTranscriptPassiveChannel(t *testing.T) {
	router, log, registry, _ := newTestRouter()
	registry.Join("p1", "Alice")

	router.HandleTranscript("p1", "hello there", time.Now())

	entries := log.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Channel != ChannelPassive {
		t.Fatalf("expected passive channel, got %s", entries[0].Channel)
	}
}

func TestHandleTranscriptEchoGuard(t *testing.T) {
	router, log, _, _ := newTestRouter()
	router.HandleTranscript("bot-1", "I am the bot talking", time.Now())
	if log.Len() != 0 {
		t.Fatalf("expected bot's own speech to be dropped, got %d entries", log.Len())
	}
}

func TestPTTBufferAccumulatesUntilFlush(t *testing.T) {
	router, log, registry, controller := newTestRouter()
	registry.Join("p1", "Alice")

	var flushed string
	var flushedSpeaker string
	router.OnPTTFlush = func(speakerID, text string) {
		flushedSpeaker = speakerID
		flushed = text
	}

	router.SetPTT("p1", true)
	router.HandleTranscript("p1", "Can you hear me", time.Now())
	router.HandleTranscript("p1", "Can you hear me", time.Now()) // redelivered duplicate final

	if flushed != "" {
		t.Fatal("buffer should not flush before PTT off")
	}
	if controller.State() != StateActiveListening {
		t.Fatalf("expected active_listening while PTT held, got %s", controller.State())
	}

	router.HandlePTTOff("p1")
	if flushedSpeaker != "p1" || flushed != "Can you hear me" {
		t.Fatalf("expected duplicate final to be deduplicated, got speaker=%q text=%q", flushedSpeaker, flushed)
	}

	entries := log.All()
	for _, e := range entries {
		if e.Channel != ChannelPTT {
			t.Fatalf("expected all entries while latched to be tagged PTT, got %s", e.Channel)
		}
	}
}

func TestPTTBufferCollapsesGrowingPrefixFragments(t *testing.T) {
	router, _, registry, _ := newTestRouter()
	registry.Join("p1", "Alice")

	var flushed string
	router.OnPTTFlush = func(speakerID, text string) { flushed = text }

	router.SetPTT("p1", true)
	router.HandleTranscript("p1", "Hello", time.Now())
	router.HandleTranscript("p1", "Hello can you", time.Now())
	router.HandleTranscript("p1", "Hello can you help", time.Now())
	router.HandlePTTOff("p1")

	if flushed != "Hello can you help" {
		t.Fatalf("expected growing-prefix fragments collapsed to the longest one, got %q", flushed)
	}
}

func TestPTTOffWithEmptyBufferArmsReleasePending(t *testing.T) {
	router, _, registry, _ := newTestRouter()
	registry.Join("p1", "Alice")

	var flushed string
	router.OnPTTFlush = func(speakerID, text string) { flushed = text }

	router.SetPTT("p1", true)
	router.HandlePTTOff("p1")
	if flushed != "" {
		t.Fatal("expected no flush yet: buffer was empty at PTT-off")
	}

	router.HandleTranscript("p1", "late arriving transcript", time.Now())
	if flushed != "late arriving transcript" {
		t.Fatalf("expected release-pending flush on next transcript, got %q", flushed)
	}
}

func TestCancelLatchClearsBuffer(t *testing.T) {
	router, _, registry, _ := newTestRouter()
	registry.Join("p1", "Alice")

	var flushed bool
	router.OnPTTFlush = func(speakerID, text string) { flushed = true }

	router.SetPTT("p1", true)
	router.HandleTranscript("p1", "something", time.Now())
	router.CancelLatch("p1")
	router.HandlePTTOff("p1")

	if flushed {
		t.Fatal("expected no flush after latch was cancelled")
	}
}

func TestOnPassiveUtteranceNotifiedOnlyForPassiveChannel(t *testing.T) {
	router, _, registry, _ := newTestRouter()
	registry.Join("p1", "Alice")

	count := 0
	router.OnPassiveUtterance = func() { count++ }

	router.HandleTranscript("p1", "passive one", time.Now())
	router.HandleTranscript("p1", "passive two", time.Now())

	router.SetPTT("p1", true)
	router.HandleTranscript("p1", "ptt utterance", time.Now())

	if count != 2 {
		t.Fatalf("expected 2 passive-utterance notifications, got %d", count)
	}
}
