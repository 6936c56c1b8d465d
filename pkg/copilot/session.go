package copilot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LatencyBreakdown captures per-turn timing, split across this domain's two
// trigger paths.
type LatencyBreakdown struct {
	PTTReleaseToHandRaisedMS   int64
	AnalyzerTickToHandRaisedMS int64
}

// AppMessageSink is the outbound half of the app-message channel a Session
// drives. cmd/copilot adapts pkg/transport.AppMessageChannel to this
// interface, converting ContextEntry values to the transport's own type.
type AppMessageSink interface {
	BroadcastBotStateChanged(ctx context.Context, state string)
	BroadcastBotHandRaised(ctx context.Context, reason string)
	BroadcastContextUpdate(ctx context.Context, history []ContextEntry, total int)
}

// ContextEntry mirrors transport.ContextEntry so that neither this package
// nor pkg/transport imports the other; cmd/copilot converts between them.
type ContextEntry struct {
	SpeakerName       string
	SpeakerRole       string
	Text              string
	Timestamp         string
	IsPTT             bool
	IsBot             bool
	IsQuestion        bool
	IsAnswer          bool
	Channel           string
	ConversationState string
}

// TTSSink receives the framed, approved bot response: a start marker, one
// text frame carrying the entire message, then an end marker, so
// downstream sentence-splitters never see a truncated utterance.
type TTSSink interface {
	StartBotUtterance(ctx context.Context) error
	BotUtteranceText(ctx context.Context, text string) error
	EndBotUtterance(ctx context.Context) error
}

// Session wires every turn-taking component together, constructed once
// up front and handed by pointer to whatever needs it.
type Session struct {
	cfg Config

	Log        *ConversationLog
	Registry   *ParticipantRegistry
	Controller *StateController
	Gate       *SpeechGate
	Router     *TranscriptionRouter
	Response   *ResponseGate
	Analyzer   *PassiveAnalyzer
	PTT        *PTTResponder

	appMessages AppMessageSink
	tts         TTSSink
	ttsProvider TTSProvider
	logger      Logger

	mu            sync.Mutex
	latency       LatencyBreakdown
	pttReleasedAt time.Time
	analyzerTick  time.Time

	cancelAnalyzer context.CancelFunc
}

// NewSession constructs every component and wires them through this single
// object. botID may be empty if the SFU has not yet assigned one; call
// ResolveBotID once the roster is known and then Registry.MarkBot.
func NewSession(cfg Config, botID string, llm LLMProvider, tts TTSProvider, appMessages AppMessageSink, ttsSink TTSSink, systemPrompt string, logger Logger) *Session {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	log := NewConversationLog()
	registry := NewParticipantRegistry()
	if botID != "" {
		registry.MarkBot(botID)
	}
	controller := NewStateController()
	gate := NewSpeechGate(cfg.MinSilenceMS)
	router := NewTranscriptionRouter(botID, registry, log, controller, gate, cfg.PTTLatchGrace)
	response := NewResponseGate(controller)
	analyzer := NewPassiveAnalyzer(llm, log, controller, cfg.PassiveAnalyzerInterval, cfg.PassiveAnalyzerMinUtterances, cfg.LLMTimeout, logger)
	ptt := NewPTTResponder(llm, log, registry, controller, systemPrompt, cfg.LLMTimeout, logger)

	s := &Session{
		cfg:         cfg,
		Log:         log,
		Registry:    registry,
		Controller:  controller,
		Gate:        gate,
		Router:      router,
		Response:    response,
		Analyzer:    analyzer,
		PTT:         ptt,
		appMessages: appMessages,
		tts:         ttsSink,
		ttsProvider: tts,
		logger:      logger,
	}

	router.OnPTTFlush = func(speakerID, text string) {
		s.mu.Lock()
		s.pttReleasedAt = now()
		s.mu.Unlock()
		go func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("ptt responder panicked", "recovered", r)
				}
			}()
			s.PTT.Respond(context.Background(), speakerID, text)
			s.Router.CancelLatch(speakerID)
		}()
	}
	router.OnPassiveUtterance = analyzer.NotePassiveUtterance
	analyzer.OnTickStart = func() {
		s.mu.Lock()
		s.analyzerTick = now()
		s.mu.Unlock()
	}

	controller.OnTransition(func(from, to BotState, event StateEvent) {
		if s.appMessages != nil {
			s.appMessages.BroadcastBotStateChanged(context.Background(), string(to))
		}
		if to == StateRaisedHand {
			s.recordHandRaisedLatency()
			status := s.Controller.Status()
			if s.appMessages != nil {
				s.appMessages.BroadcastBotHandRaised(context.Background(), previewOf(status.PendingMessage, 200))
			}
		}
	})

	return s
}

func previewOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (s *Session) recordHandRaisedLatency() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pttReleasedAt.IsZero() {
		s.latency.PTTReleaseToHandRaisedMS = now().Sub(s.pttReleasedAt).Milliseconds()
		s.pttReleasedAt = time.Time{}
	}
	if !s.analyzerTick.IsZero() {
		s.latency.AnalyzerTickToHandRaisedMS = now().Sub(s.analyzerTick).Milliseconds()
		s.analyzerTick = time.Time{}
	}
}

// LatencyBreakdown returns a snapshot of the session's per-turn timings.
func (s *Session) LatencyBreakdown() LatencyBreakdown {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency
}

// Start launches the Passive Analyzer's background ticker. It returns
// immediately; the analyzer runs until ctx is cancelled or Stop is called.
func (s *Session) Start(ctx context.Context) {
	analyzerCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelAnalyzer = cancel
	s.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("passive analyzer panicked", "recovered", r)
			}
		}()
		s.Analyzer.Run(analyzerCtx)
	}()
}

// Stop cancels the background analyzer. Call after the call ends, before
// persisting the log.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancelAnalyzer
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// HandleAppMessage routes one inbound app-message (ptt/approve_hand/
// cancel_bot_speech) from senderID. Unknown types and messages from the
// bot's own ID are dropped silently.
func (s *Session) HandleAppMessage(ctx context.Context, senderID, msgType string, pttActive bool) {
	if senderID == s.Registry.BotID() {
		return
	}
	switch msgType {
	case "ptt":
		s.Router.SetPTT(senderID, pttActive)
		if !pttActive {
			s.Router.HandlePTTOff(senderID)
		} else {
			s.Controller.Fire(EventPTTOn)
		}
	case "approve_hand":
		s.approve(ctx)
	case "cancel_bot_speech":
		s.cancel(senderID)
	default:
		s.logger.Debug("dropped unknown app-message", "type", msgType)
	}
}

func (s *Session) approve(ctx context.Context) {
	msg, err := s.Controller.Approve()
	if err != nil {
		s.logger.Debug("approve dropped", "error", err)
		return
	}
	if s.tts == nil {
		s.Controller.ClearPendingOnEmit()
		return
	}
	if err := s.tts.StartBotUtterance(ctx); err != nil {
		s.logger.Error("tts start failed", "error", err)
		return
	}
	if err := s.tts.BotUtteranceText(ctx, msg); err != nil {
		s.logger.Error("tts text frame failed", "error", err)
	}
	if err := s.tts.EndBotUtterance(ctx); err != nil {
		s.logger.Error("tts end failed", "error", err)
	}
	s.Controller.ClearPendingOnEmit()
	s.Controller.Fire(EventTTSComplete)
}

func (s *Session) cancel(speakerID string) {
	if err := s.Controller.Cancel(); err != nil {
		s.logger.Debug("cancel dropped", "error", err)
		return
	}
	s.Router.CancelLatch(speakerID)
	if s.ttsProvider != nil {
		if err := s.ttsProvider.Abort(); err != nil {
			s.logger.Warn("tts abort failed", "error", err)
		}
	}
}

// HandleHumanSpeechStart implements the interrupt rule: a human starting to
// speak while the bot is speaking flips the state back to passive_listening
// and tears down any in-flight TTS. The state change happens synchronously
// in this call; Config.InterruptHoldback is not consulted.
func (s *Session) HandleHumanSpeechStart() {
	before := s.Controller.State()
	s.Controller.Fire(EventHumanSpeechStart)
	if before == StateSpeaking && s.ttsProvider != nil {
		if err := s.ttsProvider.Abort(); err != nil {
			s.logger.Warn("tts abort on interrupt failed", "error", err)
		}
	}
}

// HandleParticipantLeft implements the only-key-roles-end-the-call rule:
// a buyer or broker leaving terminates the session so the caller can begin
// shutdown; any other departure is a no-op for session lifetime purposes.
func (s *Session) HandleParticipantLeft(participantID string) bool {
	p := s.Registry.Get(participantID)
	s.Registry.Leave(participantID)
	if p == nil {
		return false
	}
	return p.Role == RoleBuyer || p.Role == RoleBroker
}

// HandleTranscript routes one final transcript through the Speech Gate and
// Transcription Router, then broadcasts the updated context window.
func (s *Session) HandleTranscript(ctx context.Context, speakerID, text string, ts time.Time) {
	s.Router.HandleTranscript(speakerID, text, ts)
	s.broadcastContext(ctx)
}

// HandleVADEvent feeds one voice-activity event into the shared Speech
// Gate.
func (s *Session) HandleVADEvent(ev VADEvent) {
	s.Gate.OnVADEvent(ev)
}

func (s *Session) broadcastContext(ctx context.Context) {
	if s.appMessages == nil {
		return
	}
	recent := s.Log.Last(20)
	entries := make([]ContextEntry, 0, len(recent))
	state := string(s.Controller.State())
	for _, u := range recent {
		entries = append(entries, ContextEntry{
			SpeakerName:       u.SpeakerName,
			SpeakerRole:       string(u.SpeakerRole),
			Text:              u.Text,
			Timestamp:         u.Timestamp.Format(time.RFC3339),
			IsPTT:             u.Channel == ChannelPTT,
			IsBot:             u.SpeakerRole == RoleBot,
			IsQuestion:        u.IsQuestion,
			IsAnswer:          u.IsAnswer,
			Channel:           string(u.Channel),
			ConversationState: state,
		})
	}
	s.appMessages.BroadcastContextUpdate(ctx, entries, s.Log.Len())
}

// NewCallID generates a fresh call identifier for sessions that don't
// receive one from the SFU room name.
func NewCallID() string {
	return uuid.NewString()
}

// BuildSystemPrompt assembles the fixed PTT system prompt from the
// consultation context, mirroring the original's listing/roles/tracked
// questions block. The Passive Analyzer does not use it; it has its own
// fixed prompt without the tracked questions.
func BuildSystemPrompt(cfg Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI co-pilot on a consultation call between a buyer (%s) and a broker (%s)", cfg.BuyerName, cfg.SellerName)
	if cfg.TargetName != "" {
		fmt.Fprintf(&b, ", with %s as the subject of the consultation", cfg.TargetName)
	}
	b.WriteString(".\n")
	if cfg.ListingTitle != "" {
		fmt.Fprintf(&b, "Listing: %s\n", cfg.ListingTitle)
	}
	if len(cfg.Questions) > 0 {
		b.WriteString("Monitor if these get answered during the call:\n")
		for i, q := range cfg.Questions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
	}
	b.WriteString("Respond directly and concisely when addressed.")
	return b.String()
}
