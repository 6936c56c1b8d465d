package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// analyzerVerdict is the strict JSON schema the Passive Analyzer asks the
// LLM for.
type analyzerVerdict struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

const passiveAnalyzerSystemPrompt = `You are an AI co-pilot monitoring a consultation call.
You have access to the recent conversation. Analyze the passive listening
(participants talking to each other) and respond with strict JSON only.

If you detect false information, confusion, a contradiction, or a dodged
question worth clarifying:
{"type": "question", "content": "your clarifying question"}

Otherwise, provide a short internal summary:
{"type": "summary", "content": "1-2 sentence summary of what was discussed"}`

// PassiveAnalyzer runs on a timer, classifies recent passive conversation,
// and either logs a silent summary or raises the hand with a proposed
// intervention question.
type PassiveAnalyzer struct {
	llm        LLMProvider
	log        *ConversationLog
	controller *StateController
	logger     Logger

	interval      time.Duration
	minUtterances int
	timeout       time.Duration

	mu                  sync.Mutex
	passiveSinceLastRun int

	// OnTickStart is invoked right before classify runs, used to time the
	// analyzer-tick-to-hand-raised latency.
	OnTickStart func()
}

// NewPassiveAnalyzer wires the analyzer to its collaborators up front.
func NewPassiveAnalyzer(llm LLMProvider, log *ConversationLog, controller *StateController, interval time.Duration, minUtterances int, timeout time.Duration, logger Logger) *PassiveAnalyzer {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &PassiveAnalyzer{
		llm:           llm,
		log:           log,
		controller:    controller,
		logger:        logger,
		interval:      interval,
		minUtterances: minUtterances,
		timeout:       timeout,
	}
}

// NotePassiveUtterance is called by the transcription router for every
// passive-channel entry so the analyzer knows how much new material has
// arrived since its last tick.
func (a *PassiveAnalyzer) NotePassiveUtterance() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.passiveSinceLastRun++
}

// Run starts the timer loop. It returns when ctx is cancelled, making the
// background task cancellable on session end.
func (a *PassiveAnalyzer) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *PassiveAnalyzer) tick(ctx context.Context) {
	// The analyzer must not fire outside passive_listening and must not
	// read PTT buffers.
	if a.controller.State() != StatePassiveListening {
		return
	}

	a.mu.Lock()
	count := a.passiveSinceLastRun
	a.mu.Unlock()
	if count < a.minUtterances {
		return
	}

	recent := a.log.Last(10)
	if len(recent) == 0 {
		return
	}

	if a.OnTickStart != nil {
		a.OnTickStart()
	}

	verdict, err := a.classify(ctx, recent)

	a.mu.Lock()
	a.passiveSinceLastRun = 0
	a.mu.Unlock()

	if err != nil {
		// LLM call failed: no intervention, no log entry. Non-JSON output
		// does not reach here; classify turns it into an empty summary,
		// which the default branch below drops the same way.
		a.logger.Warn("passive analyzer classify failed", "error", err)
		return
	}

	switch verdict.Type {
	case "question":
		if strings.TrimSpace(verdict.Content) == "" {
			return
		}
		a.log.Append(Utterance{
			Text:       verdict.Content,
			Timestamp:  now(),
			Channel:    ChannelBot,
			SummaryTag: SummaryPassiveQuestion,
			IsQuestion: true,
		})
		a.controller.Fire(EventAnalyzerQuestion)
		if err := a.controller.RaiseHand(verdict.Content); err != nil {
			a.logger.Debug("passive hand raise no-op", "error", err)
		}
	default: // "summary" or anything unrecognized
		if strings.TrimSpace(verdict.Content) == "" {
			return
		}
		a.log.Append(Utterance{
			Text:       verdict.Content,
			Timestamp:  now(),
			Channel:    ChannelBot,
			SummaryTag: SummaryPassiveSummary,
		})
	}
}

func (a *PassiveAnalyzer) classify(ctx context.Context, recent []Utterance) (analyzerVerdict, error) {
	type compactEntry struct {
		Speaker    string `json:"speaker"`
		Role       string `json:"role"`
		Text       string `json:"text"`
		IsQuestion bool   `json:"is_question"`
		IsAnswer   bool   `json:"is_answer"`
	}
	compact := make([]compactEntry, 0, len(recent))
	for _, u := range recent {
		compact = append(compact, compactEntry{
			Speaker:    u.SpeakerName,
			Role:       string(u.SpeakerRole),
			Text:       u.Text,
			IsQuestion: u.IsQuestion,
			IsAnswer:   u.IsAnswer,
		})
	}
	view, _ := json.Marshal(compact)

	messages := []Message{
		{Role: "system", Content: passiveAnalyzerSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Recent conversation:\n%s", view)},
	}

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var raw string
	var err error
	if jsonLLM, ok := a.llm.(JSONLLMProvider); ok {
		raw, err = jsonLLM.CompleteJSON(cctx, messages)
	} else {
		raw, err = a.llm.Complete(cctx, messages)
	}
	if err != nil {
		return analyzerVerdict{}, err
	}

	var v analyzerVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return analyzerVerdict{Type: "summary", Content: ""}, nil
	}
	return v, nil
}
