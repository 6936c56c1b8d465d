package copilot

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestSession(llm LLMProvider, tts TTSProvider, sink AppMessageSink, ttsSink TTSSink) *Session {
	cfg := DefaultConfig()
	cfg.PassiveAnalyzerInterval = 0 // not exercised directly in these tests
	return NewSession(cfg, "bot-1", llm, tts, sink, ttsSink, "system prompt", nil)
}

func TestSessionApproveFlowEmitsFramedUtterance(t *testing.T) {
	llm := &MockLLMProvider{completeResult: "the answer"}
	tts := &MockTTSProvider{}
	sink := &mockAppMessageSink{}
	ttsSink := &mockTTSSink{}
	s := newTestSession(llm, tts, sink, ttsSink)
	s.Registry.Join("p1", "Alice")
	s.Registry.UpgradeRole("p1", RoleBuyer)

	s.Controller.Fire(EventPTTOn)
	s.PTT.Respond(context.Background(), "p1", "what's the price")
	if s.Controller.State() != StateRaisedHand {
		t.Fatalf("expected raised_hand before approval, got %s", s.Controller.State())
	}

	s.HandleAppMessage(context.Background(), "p1", "approve_hand", false)

	if n := len(sink.states); n < 2 || sink.states[n-2] != string(StateSpeaking) || sink.states[n-1] != string(StatePassiveListening) {
		t.Fatalf("expected approval to move to speaking and, once the utterance is emitted, back to passive_listening; got %v", sink.states)
	}
	if ttsSink.started != 1 || ttsSink.ended != 1 {
		t.Fatalf("expected exactly one start/end frame pair, got started=%d ended=%d", ttsSink.started, ttsSink.ended)
	}
	if len(ttsSink.texts) != 1 || ttsSink.texts[0] != "the answer" {
		t.Fatalf("expected the approved message to be emitted as one frame, got %+v", ttsSink.texts)
	}
}

func TestSessionCancelAbortsTTSAndClearsLatch(t *testing.T) {
	llm := &MockLLMProvider{completeResult: "the answer"}
	tts := &MockTTSProvider{}
	s := newTestSession(llm, tts, &mockAppMessageSink{}, &mockTTSSink{})
	s.Registry.Join("p1", "Alice")

	s.Controller.Fire(EventPTTOn)
	s.PTT.Respond(context.Background(), "p1", "hello")

	s.HandleAppMessage(context.Background(), "p1", "cancel_bot_speech", false)

	if s.Controller.State() != StatePassiveListening {
		t.Fatalf("expected passive_listening after cancel, got %s", s.Controller.State())
	}
	if !tts.aborted {
		t.Fatal("expected TTS provider to be aborted on cancel")
	}
}

func TestSessionHandleAppMessageFromBotIsDropped(t *testing.T) {
	s := newTestSession(&MockLLMProvider{}, &MockTTSProvider{}, &mockAppMessageSink{}, &mockTTSSink{})
	before := s.Controller.State()

	s.HandleAppMessage(context.Background(), "bot-1", "ptt", true)

	if s.Controller.State() != before {
		t.Fatal("expected messages from the bot's own id to be dropped")
	}
}

func TestSessionHandleHumanSpeechStartInterruptsSpeaking(t *testing.T) {
	tts := &MockTTSProvider{}
	s := newTestSession(&MockLLMProvider{}, tts, &mockAppMessageSink{}, &mockTTSSink{})
	// Drive to speaking via the normal ptt -> approve path.
	s.Registry.Join("p1", "Alice")
	s.Controller.Fire(EventPTTOn)
	s.PTT.Respond(context.Background(), "p1", "hello")
	s.Controller.Approve()
	if s.Controller.State() != StateSpeaking {
		t.Fatalf("precondition failed, expected speaking, got %s", s.Controller.State())
	}

	s.HandleHumanSpeechStart()

	if s.Controller.State() != StatePassiveListening {
		t.Fatalf("expected interrupt to return to passive_listening, got %s", s.Controller.State())
	}
	if !tts.aborted {
		t.Fatal("expected TTS to be aborted when interrupted mid-speech")
	}
}

func TestSessionHandleParticipantLeftOnlyKeyRolesEndCall(t *testing.T) {
	s := newTestSession(&MockLLMProvider{}, &MockTTSProvider{}, &mockAppMessageSink{}, &mockTTSSink{})
	s.Registry.Join("p1", "Alice")
	s.Registry.UpgradeRole("p1", RoleBuyer)
	s.Registry.Join("p2", "Observer")

	if s.HandleParticipantLeft("p2") {
		t.Fatal("expected a non-key-role departure not to end the call")
	}
	if !s.HandleParticipantLeft("p1") {
		t.Fatal("expected a buyer departure to end the call")
	}
}

func TestSessionHandleTranscriptBroadcastsContext(t *testing.T) {
	sink := &mockAppMessageSink{}
	s := newTestSession(&MockLLMProvider{}, &MockTTSProvider{}, sink, &mockTTSSink{})
	s.Registry.Join("p1", "Alice")

	s.HandleTranscript(context.Background(), "p1", "hello there", time.Now())

	if len(sink.totals) != 1 || sink.totals[0] != 1 {
		t.Fatalf("expected one context broadcast reflecting 1 logged utterance, got %+v", sink.totals)
	}
}

func TestBuildSystemPromptIncludesTrackedQuestions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BuyerName = "Alice"
	cfg.SellerName = "Bob"
	cfg.Questions = []string{"What's the price?"}

	prompt := BuildSystemPrompt(cfg)

	if !strings.Contains(prompt, "Alice") || !strings.Contains(prompt, "Bob") || !strings.Contains(prompt, "What's the price?") {
		t.Fatalf("expected prompt to mention buyer, seller and tracked question, got: %s", prompt)
	}
}

func TestNewCallIDIsUnique(t *testing.T) {
	a := NewCallID()
	b := NewCallID()
	if a == b {
		t.Fatal("expected distinct call ids")
	}
}
