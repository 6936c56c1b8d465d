package copilot

import "time"

// Config holds the session-wide, mostly-static settings for a Session,
// extended with the consultation context (buyer/seller/target names,
// listing, questions).
type Config struct {
	SampleRate   int
	Channels     int
	BytesPerSamp int

	MaxContextMessages int
	Voice              Voice
	Language           Language

	STTTimeout time.Duration
	LLMTimeout time.Duration
	TTSTimeout time.Duration

	// MinSilenceMS is the Speech Gate's required silence duration.
	MinSilenceMS time.Duration

	// PassiveAnalyzerInterval is the Passive Analyzer's tick period.
	PassiveAnalyzerInterval time.Duration

	// PassiveAnalyzerMinUtterances is the minimum number of passive
	// utterances required since the last tick before the analyzer runs.
	PassiveAnalyzerMinUtterances int

	// PTTLatchGrace is the hard grace period after PTT-off before an
	// unflushed latch is cleared.
	PTTLatchGrace time.Duration

	// InterruptHoldback is a configured bound on how quickly a
	// human-speech-start flips the state back to passive_listening while
	// speaking. No code reads it; Session.HandleHumanSpeechStart flips the
	// state synchronously.
	InterruptHoldback time.Duration

	// Consultation context threaded into system prompts.
	BuyerName        string
	SellerName       string
	TargetName       string
	ListingTitle     string
	CallID           string
	CallDurationMins int
	Questions        []string
}

// DefaultConfig returns sensible defaults, including the turn-taking timing
// defaults used by the state machine and speech gate.
func DefaultConfig() Config {
	return Config{
		SampleRate:                   44100,
		Channels:                     1,
		BytesPerSamp:                 2,
		MaxContextMessages:           40,
		Voice:                        "F1",
		Language:                     LanguageEn,
		STTTimeout:                   30 * time.Second,
		LLMTimeout:                   30 * time.Second,
		TTSTimeout:                   30 * time.Second,
		MinSilenceMS:                 2000 * time.Millisecond,
		PassiveAnalyzerInterval:      15 * time.Second,
		PassiveAnalyzerMinUtterances: 3,
		PTTLatchGrace:                5 * time.Second,
		InterruptHoldback:            200 * time.Millisecond,
	}
}
