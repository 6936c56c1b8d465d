package copilot

import "errors"

var (
	// ErrEmptyTranscription names an STT result with no usable text. No
	// provider in this module returns it; an empty transcript comes back as
	// "" with a nil error.
	ErrEmptyTranscription = errors.New("transcription returned empty text")

	// ErrLLMFailed names a language-model generation failure. The LLM
	// providers in this module return their own errors and do not wrap it.
	ErrLLMFailed = errors.New("language model generation failed")

	// ErrTTSFailed names a speech-synthesis failure. The TTS provider in
	// this module returns its own errors and does not wrap it.
	ErrTTSFailed = errors.New("text-to-speech synthesis failed")

	// ErrNilProvider names a required provider that is nil. The
	// constructors in this module do not check for nil and never return it.
	ErrNilProvider = errors.New("required provider is nil")

	// ErrHandAlreadyRaised is returned by RaiseHand when the hand is already
	// up. Raising an already-raised hand is a no-op, not a hard failure —
	// callers that care can check this sentinel.
	ErrHandAlreadyRaised = errors.New("hand already raised")

	// ErrHandNotRaised is returned when Approve or Cancel is attempted with
	// no hand raised. The event is dropped; no state change occurs.
	ErrHandNotRaised = errors.New("no hand raised")

	// ErrBufferEmpty names an empty PTT buffer. The router never flushes an
	// empty buffer, and nothing in this package returns it.
	ErrBufferEmpty = errors.New("ptt buffer is empty")

	// ErrInvalidTransition names an event with no defined transition from the
	// current state. Fire treats such events as self-loops and never returns
	// it; nothing in this package returns it.
	ErrInvalidTransition = errors.New("no transition defined for event in current state")
)
