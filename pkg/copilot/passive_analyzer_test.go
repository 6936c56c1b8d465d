package copilot

import (
	"context"
	"testing"
	"time"
)

func newTestAnalyzer(llm LLMProvider) (*PassiveAnalyzer, *ConversationLog, *StateController) {
	log := NewConversationLog()
	controller := NewStateController()
	a := NewPassiveAnalyzer(llm, log, controller, time.Hour, 2, time.Second, nil)
	return a, log, controller
}

func seedLog(log *ConversationLog, n int) {
	for i := 0; i < n; i++ {
		log.Append(Utterance{SpeakerName: "Alice", Text: "hello", Timestamp: time.Now()})
	}
}

func TestPassiveAnalyzerSkipsOutsidePassiveListening(t *testing.T) {
	a, log, controller := newTestAnalyzer(&MockLLMProvider{jsonResult: `{"type":"summary","content":"x"}`})
	seedLog(log, 5)
	a.NotePassiveUtterance()
	a.NotePassiveUtterance()
	controller.Fire(EventPTTOn) // move off passive_listening

	a.tick(context.Background())

	if log.Len() != 5 {
		t.Fatalf("expected no new entries while outside passive_listening, got %d", log.Len())
	}
}

func TestPassiveAnalyzerSkipsBelowMinUtterances(t *testing.T) {
	a, log, _ := newTestAnalyzer(&MockLLMProvider{jsonResult: `{"type":"summary","content":"x"}`})
	seedLog(log, 5)
	a.NotePassiveUtterance() // only 1, minUtterances is 2

	a.tick(context.Background())

	if log.Len() != 5 {
		t.Fatalf("expected no classify call below min utterance threshold, got %d entries", log.Len())
	}
}

func TestPassiveAnalyzerSkipsEmptyLog(t *testing.T) {
	a, log, _ := newTestAnalyzer(&MockLLMProvider{jsonResult: `{"type":"summary","content":"x"}`})
	a.NotePassiveUtterance()
	a.NotePassiveUtterance()

	a.tick(context.Background())

	if log.Len() != 0 {
		t.Fatal("expected no entries appended when the log is empty")
	}
}

func TestPassiveAnalyzerLogsSummaryWithoutRaisingHand(t *testing.T) {
	a, log, controller := newTestAnalyzer(&MockLLMProvider{jsonResult: `{"type":"summary","content":"discussing price"}`})
	seedLog(log, 3)
	a.NotePassiveUtterance()
	a.NotePassiveUtterance()

	a.tick(context.Background())

	entries := log.All()
	last := entries[len(entries)-1]
	if last.SummaryTag != SummaryPassiveSummary || last.Text != "discussing price" {
		t.Fatalf("expected appended summary entry, got %+v", last)
	}
	if controller.State() != StatePassiveListening {
		t.Fatalf("expected state to remain passive_listening for a summary verdict, got %s", controller.State())
	}
}

func TestPassiveAnalyzerRaisesHandOnQuestionVerdict(t *testing.T) {
	a, log, controller := newTestAnalyzer(&MockLLMProvider{jsonResult: `{"type":"question","content":"what about the deposit?"}`})
	seedLog(log, 3)
	a.NotePassiveUtterance()
	a.NotePassiveUtterance()

	a.tick(context.Background())

	if controller.State() != StateRaisedHand {
		t.Fatalf("expected raised_hand after a question verdict, got %s", controller.State())
	}
	entries := log.All()
	last := entries[len(entries)-1]
	if !last.IsQuestion || last.SummaryTag != SummaryPassiveQuestion {
		t.Fatalf("expected logged entry flagged as a question, got %+v", last)
	}
}

func TestPassiveAnalyzerSkipsOnClassifyError(t *testing.T) {
	a, log, controller := newTestAnalyzer(&MockLLMProvider{jsonErr: errTestLLM})
	seedLog(log, 3)
	a.NotePassiveUtterance()
	a.NotePassiveUtterance()

	a.tick(context.Background())

	if log.Len() != 3 {
		t.Fatalf("expected no entry appended on classify failure, got %d", log.Len())
	}
	if controller.State() != StatePassiveListening {
		t.Fatal("expected state unchanged on classify failure")
	}
}

func TestPassiveAnalyzerResetsCounterAfterTick(t *testing.T) {
	a, log, _ := newTestAnalyzer(&MockLLMProvider{jsonResult: `{"type":"summary","content":"x"}`})
	seedLog(log, 3)
	a.NotePassiveUtterance()
	a.NotePassiveUtterance()

	a.tick(context.Background())

	a.mu.Lock()
	count := a.passiveSinceLastRun
	a.mu.Unlock()
	if count != 0 {
		t.Fatalf("expected counter reset to 0 after a tick runs, got %d", count)
	}
}

func TestPassiveAnalyzerOnTickStartCalledOnlyWhenClassifying(t *testing.T) {
	a, log, _ := newTestAnalyzer(&MockLLMProvider{jsonResult: `{"type":"summary","content":"x"}`})
	calls := 0
	a.OnTickStart = func() { calls++ }

	// Below min utterances: should not invoke the hook.
	seedLog(log, 3)
	a.NotePassiveUtterance()
	a.tick(context.Background())
	if calls != 0 {
		t.Fatalf("expected hook not called below threshold, got %d calls", calls)
	}

	a.NotePassiveUtterance()
	a.tick(context.Background())
	if calls != 1 {
		t.Fatalf("expected hook called exactly once when classify runs, got %d calls", calls)
	}
}
