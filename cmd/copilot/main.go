package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/lokutor-ai/consultation-copilot/pkg/copilot"
	llmProvider "github.com/lokutor-ai/consultation-copilot/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/consultation-copilot/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/consultation-copilot/pkg/providers/tts"
	"github.com/lokutor-ai/consultation-copilot/pkg/transport"
)

const localParticipantID = "local-human"

// stdLogger backs copilot.Logger with the standard library logger.
type stdLogger struct{}

func (stdLogger) Debug(msg string, args ...interface{}) { logKV("DEBUG", msg, args) }
func (stdLogger) Info(msg string, args ...interface{})  { logKV("INFO", msg, args) }
func (stdLogger) Warn(msg string, args ...interface{})  { logKV("WARN", msg, args) }
func (stdLogger) Error(msg string, args ...interface{}) { logKV("ERROR", msg, args) }

func logKV(level, msg string, args []interface{}) {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	log.Printf("[%s] %s", level, b.String())
}

// appMessageSink bridges copilot.AppMessageSink to the transport package's
// websocket fan-out, converting the copilot package's local ContextEntry
// shape into transport's wire shape so neither package imports the other.
type appMessageSink struct {
	ch *transport.AppMessageChannel
}

func (s appMessageSink) BroadcastBotStateChanged(ctx context.Context, state string) {
	s.ch.BroadcastBotStateChanged(ctx, state)
}

func (s appMessageSink) BroadcastBotHandRaised(ctx context.Context, reason string) {
	s.ch.BroadcastBotHandRaised(ctx, reason)
}

func (s appMessageSink) BroadcastContextUpdate(ctx context.Context, history []copilot.ContextEntry, total int) {
	out := make([]transport.ContextEntry, len(history))
	for i, e := range history {
		out[i] = transport.ContextEntry{
			SpeakerName:       e.SpeakerName,
			SpeakerRole:       e.SpeakerRole,
			Text:              e.Text,
			Timestamp:         e.Timestamp,
			IsPTT:             e.IsPTT,
			IsBot:             e.IsBot,
			IsQuestion:        e.IsQuestion,
			IsAnswer:          e.IsAnswer,
			Channel:           e.Channel,
			ConversationState: e.ConversationState,
		}
	}
	s.ch.BroadcastContextUpdate(ctx, out, total)
}

// localPlaybackSink implements copilot.TTSSink by synthesizing the approved
// message in one shot and queuing the resulting PCM for malgo playback,
// exercised by the -local demo mode.
type localPlaybackSink struct {
	tts   copilot.TTSProvider
	voice copilot.Voice
	lang  copilot.Language

	mu       sync.Mutex
	playback []byte
}

func (s *localPlaybackSink) StartBotUtterance(ctx context.Context) error { return nil }

func (s *localPlaybackSink) BotUtteranceText(ctx context.Context, text string) error {
	return s.tts.StreamSynthesize(ctx, text, s.voice, s.lang, func(chunk []byte) error {
		s.mu.Lock()
		s.playback = append(s.playback, chunk...)
		s.mu.Unlock()
		return nil
	})
}

func (s *localPlaybackSink) EndBotUtterance(ctx context.Context) error { return nil }

func (s *localPlaybackSink) read(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(p, s.playback)
	s.playback = s.playback[n:]
	return n
}

func (s *localPlaybackSink) drop() {
	s.mu.Lock()
	s.playback = nil
	s.mu.Unlock()
}

func main() {
	local := flag.Bool("local", false, "drive a session from the host mic/speakers instead of a live SFU room")
	listenAddr := flag.String("listen", ":8088", "address to serve the app-message websocket on")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	cfg := copilot.DefaultConfig()
	cfg.BuyerName = os.Getenv("BUYER_NAME")
	cfg.SellerName = os.Getenv("SELLER_NAME")
	cfg.TargetName = os.Getenv("TARGET_NAME")
	cfg.ListingTitle = os.Getenv("LISTING_TITLE")
	if lang := copilot.Language(os.Getenv("AGENT_LANGUAGE")); lang != "" {
		cfg.Language = lang
	}
	for i := 1; i <= 5; i++ {
		if q := os.Getenv(fmt.Sprintf("QUESTION_%d", i)); q != "" {
			cfg.Questions = append(cfg.Questions, q)
		}
	}
	cfg.CallID = os.Getenv("CALL_ID")
	if cfg.CallID == "" {
		cfg.CallID = copilot.NewCallID()
	}
	if mins := os.Getenv("CALL_DURATION_MINS"); mins != "" {
		fmt.Sscanf(mins, "%d", &cfg.CallDurationMins)
	}

	stt, llm, tts := buildProviders()
	systemPrompt := copilot.BuildSystemPrompt(cfg)
	logger := stdLogger{}

	appMessages := transport.NewAppMessageChannel()

	var session *copilot.Session
	var sink localPlaybackSink

	if *local {
		sink = localPlaybackSink{tts: tts, voice: cfg.Voice, lang: cfg.Language}
		session = copilot.NewSession(cfg, "", llm, tts, appMessageSink{ch: appMessages}, &sink, systemPrompt, logger)
	} else {
		session = copilot.NewSession(cfg, "", llm, tts, appMessageSink{ch: appMessages}, noopTTSSink{}, systemPrompt, logger)
	}

	appMessages.OnInbound = func(senderID string, msg transport.InboundMessage) {
		session.HandleAppMessage(context.Background(), senderID, msg.Type, msg.Active)
	}

	session.Controller.OnTransition(func(from, to copilot.BotState, event copilot.StateEvent) {
		fmt.Printf("\r\033[K[state] %s -> %s (%s)\n", from, to, event)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session.Start(ctx)
	defer session.Stop()

	if *local {
		runLocal(ctx, session, stt, cfg, &sink)
	} else {
		go serveAppMessages(*listenAddr, appMessages, session)
		fmt.Printf("Consultation co-pilot listening for app-message connections on %s\n", *listenAddr)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")

	shutdown(cfg, session)
}

func serveAppMessages(addr string, ch *transport.AppMessageChannel, session *copilot.Session) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		participantID := r.URL.Query().Get("participant_id")
		if participantID == "" {
			participantID = copilot.NewCallID()
		}
		if err := ch.ServeHTTP(w, r, participantID); err != nil {
			log.Printf("app-message connection error: %v", err)
		}
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("app-message server: %v", err)
	}
}

func shutdown(cfg copilot.Config, session *copilot.Session) {
	txtPath, jsonPath := copilot.ShutdownFilenames(cfg.CallID, time.Now())
	if err := copilot.SaveTextTranscript(txtPath, session.Log); err != nil {
		log.Printf("save transcript failed: %v", err)
	}
	exported := copilot.ExportJSON(cfg.CallID, session.Log, session.Registry)
	if err := copilot.SaveJSON(jsonPath, exported); err != nil {
		log.Printf("save context failed: %v", err)
	}
	latency := session.LatencyBreakdown()
	fmt.Printf("Saved %s and %s. Latency: PTT->hand=%dms analyzer->hand=%dms\n",
		txtPath, jsonPath, latency.PTTReleaseToHandRaisedMS, latency.AnalyzerTickToHandRaisedMS)
}

func buildProviders() (copilot.STTProvider, copilot.LLMProvider, copilot.TTSProvider) {
	groqKey := os.Getenv("GROQ_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	googleKey := os.Getenv("GOOGLE_API_KEY")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	assemblyKey := os.Getenv("ASSEMBLYAI_API_KEY")
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")

	if lokutorKey == "" {
		log.Fatal("Error: LOKUTOR_API_KEY must be set.")
	}

	sttName := envOr("STT_PROVIDER", "groq")
	var stt copilot.STTProvider
	switch sttName {
	case "openai":
		requireKey(openaiKey, "OPENAI_API_KEY", "openai STT")
		stt = sttProvider.NewOpenAISTT(openaiKey, "whisper-1")
	case "deepgram":
		requireKey(deepgramKey, "DEEPGRAM_API_KEY", "deepgram STT")
		stt = sttProvider.NewDeepgramSTT(deepgramKey)
	case "assemblyai":
		requireKey(assemblyKey, "ASSEMBLYAI_API_KEY", "assemblyai STT")
		stt = sttProvider.NewAssemblyAISTT(assemblyKey)
	default:
		requireKey(groqKey, "GROQ_API_KEY", "groq STT")
		stt = sttProvider.NewGroqSTT(groqKey, os.Getenv("GROQ_STT_MODEL"))
	}

	// responderLLM is the single LLM provider of the session: NewSession
	// hands it to both the PTT Responder and the Passive Analyzer. There is
	// no setting for a separate, cheaper analyzer model.
	responderName := envOr("LLM_PROVIDER", "groq")
	var responderLLM copilot.LLMProvider
	switch responderName {
	case "openai":
		requireKey(openaiKey, "OPENAI_API_KEY", "openai LLM")
		responderLLM = llmProvider.NewOpenAILLM(openaiKey, "gpt-4o")
	case "anthropic":
		requireKey(anthropicKey, "ANTHROPIC_API_KEY", "anthropic LLM")
		responderLLM = llmProvider.NewAnthropicLLM(anthropicKey, "claude-3-5-sonnet-20241022")
	case "google":
		requireKey(googleKey, "GOOGLE_API_KEY", "google LLM")
		responderLLM = llmProvider.NewGoogleLLM(googleKey, "gemini-1.5-flash")
	default:
		requireKey(groqKey, "GROQ_API_KEY", "groq LLM")
		responderLLM = llmProvider.NewGroqLLM(groqKey, "llama-3.3-70b-versatile")
	}

	tts := ttsProvider.NewLokutorTTS(lokutorKey)

	fmt.Printf("Configured: STT=%s | LLM=%s | TTS=Lokutor\n", sttName, responderName)
	return stt, responderLLM, tts
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireKey(key, envVar, purpose string) {
	if key == "" {
		log.Fatalf("Error: %s must be set for %s", envVar, purpose)
	}
}

// runLocal drives a session off the host mic/speakers via malgo. Space bar
// toggles PTT; 'a' approves a raised hand; 'c' cancels it.
func runLocal(ctx context.Context, session *copilot.Session, stt copilot.STTProvider, cfg copilot.Config, sink *localPlaybackSink) {
	registry := session.Registry
	registry.Join(localParticipantID, "Local user")
	registry.UpgradeRole(localParticipantID, copilot.RoleBuyer)

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	vad := copilot.NewRMSVAD(0.02, 500*time.Millisecond)

	var captureMu sync.Mutex
	var captureBuf []byte
	var rmsMu sync.Mutex
	lastRMS := 0.0
	pttActive := false
	var pttMu sync.Mutex

	flush := func() {
		captureMu.Lock()
		chunk := captureBuf
		captureBuf = nil
		captureMu.Unlock()
		if len(chunk) == 0 {
			return
		}
		text, err := stt.Transcribe(ctx, chunk, cfg.Language)
		if err != nil || strings.TrimSpace(text) == "" {
			return
		}
		fmt.Printf("\r\033[K[transcript] %s\n", text)
		session.HandleTranscript(ctx, localParticipantID, text, time.Now())
	}

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			ev, _ := vad.Process(pInput)
			captureMu.Lock()
			captureBuf = append(captureBuf, pInput...)
			captureMu.Unlock()

			rms := vad.LastRMS()
			rmsMu.Lock()
			lastRMS = rms
			rmsMu.Unlock()

			if ev != nil {
				switch ev.Type {
				case copilot.VADSpeechStart:
					session.HandleHumanSpeechStart()
				case copilot.VADSpeechEnd:
					pttMu.Lock()
					active := pttActive
					pttMu.Unlock()
					if !active {
						go flush()
					}
				}
			}
			session.HandleVADEvent(copilot.VADEvent{Type: vadEventOr(ev), Timestamp: time.Now().UnixMilli()})
		}
		if pOutput != nil {
			n := sink.read(pOutput)
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		log.Fatal(err)
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	go func() {
		for {
			rmsMu.Lock()
			level := lastRMS
			rmsMu.Unlock()
			dots := int(math.Min(level*500, 40))
			fmt.Printf("\r[MIC %-40s] rms=%.5f", strings.Repeat("|", dots), level)
			time.Sleep(100 * time.Millisecond)
		}
	}()

	fmt.Println("Local demo started. [space]=toggle PTT  a=approve  c=cancel  Ctrl+C=exit")
	go func() {
		reader := bufio.NewReader(os.Stdin)
		for {
			r, _, err := reader.ReadRune()
			if err != nil {
				return
			}
			switch r {
			case ' ':
				pttMu.Lock()
				pttActive = !pttActive
				active := pttActive
				pttMu.Unlock()
				session.HandleAppMessage(ctx, localParticipantID, "ptt", active)
				if !active {
					flush()
				}
			case 'a':
				session.HandleAppMessage(ctx, localParticipantID, "approve_hand", false)
			case 'c':
				session.HandleAppMessage(ctx, localParticipantID, "cancel_bot_speech", false)
				sink.drop()
			}
		}
	}()
}

func vadEventOr(ev *copilot.VADEvent) copilot.VADEventType {
	if ev == nil {
		return copilot.VADSilence
	}
	return ev.Type
}

// noopTTSSink is used in live-room mode until a concrete AudioTransport is
// wired to a real SFU client; the state machine and approval gate still run
// end to end, only the audio emission is a stub.
type noopTTSSink struct{}

func (noopTTSSink) StartBotUtterance(ctx context.Context) error        { return nil }
func (noopTTSSink) BotUtteranceText(ctx context.Context, s string) error { return nil }
func (noopTTSSink) EndBotUtterance(ctx context.Context) error          { return nil }
