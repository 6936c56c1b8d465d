package copilot

import (
	"math"
	"time"
)

// RMSVAD is a lightweight, no-dependency voice-activity detector based on
// root-mean-square signal energy. It is the Speech Gate's preferred signal
// source when no external VAD is configured.
type RMSVAD struct {
	threshold    float64
	silenceLimit time.Duration
	isSpeaking   bool
	silenceStart time.Time

	consecutiveFrames int
	minConfirmed      int
	lastRMS           float64
}

// NewRMSVAD creates an RMS-based VAD with the given threshold and the
// silence duration required before a SPEECH_END fires.
func NewRMSVAD(threshold float64, silenceLimit time.Duration) *RMSVAD {
	return &RMSVAD{
		threshold:    threshold,
		silenceLimit: silenceLimit,
		minConfirmed: 7, // ~70-100ms of continuous sound before triggering
	}
}

// SetMinConfirmed sets the number of consecutive above-threshold frames
// needed to confirm speech start.
func (v *RMSVAD) SetMinConfirmed(count int) {
	v.minConfirmed = count
}

// SetThreshold updates the RMS threshold.
func (v *RMSVAD) SetThreshold(threshold float64) {
	v.threshold = threshold
}

// Threshold returns the current RMS threshold.
func (v *RMSVAD) Threshold() float64 {
	return v.threshold
}

// LastRMS returns the RMS of the last processed chunk.
func (v *RMSVAD) LastRMS() float64 {
	return v.lastRMS
}

// IsSpeaking reports whether speech is currently detected.
func (v *RMSVAD) IsSpeaking() bool {
	return v.isSpeaking
}

// Process implements VADProvider.
func (v *RMSVAD) Process(chunk []byte) (*VADEvent, error) {
	rms := v.calculateRMS(chunk)
	v.lastRMS = rms
	nowT := time.Now()

	if rms > v.threshold {
		v.consecutiveFrames++
		if !v.isSpeaking {
			if v.consecutiveFrames >= v.minConfirmed {
				v.isSpeaking = true
				return &VADEvent{Type: VADSpeechStart, Timestamp: nowT.UnixMilli()}, nil
			}
			return nil, nil
		}
		v.silenceStart = time.Time{}
		return nil, nil
	}

	v.consecutiveFrames = 0

	if v.isSpeaking {
		if v.silenceStart.IsZero() {
			v.silenceStart = nowT
		}
		if nowT.Sub(v.silenceStart) >= v.silenceLimit {
			v.isSpeaking = false
			v.silenceStart = time.Time{}
			return &VADEvent{Type: VADSpeechEnd, Timestamp: nowT.UnixMilli()}, nil
		}
	}

	return &VADEvent{Type: VADSilence, Timestamp: nowT.UnixMilli()}, nil
}

// Name implements VADProvider.
func (v *RMSVAD) Name() string {
	return "rms_vad"
}

// Reset implements VADProvider.
func (v *RMSVAD) Reset() {
	v.isSpeaking = false
	v.silenceStart = time.Time{}
	v.consecutiveFrames = 0
}

// Clone implements VADProvider, returning a fresh detector with the same
// tuning but no accumulated state — used to give each participant their own
// detector instance.
func (v *RMSVAD) Clone() VADProvider {
	return &RMSVAD{
		threshold:    v.threshold,
		silenceLimit: v.silenceLimit,
		minConfirmed: v.minConfirmed,
	}
}

func (v *RMSVAD) calculateRMS(chunk []byte) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(chunk)-1; i += 2 {
		sample := int16(chunk[i]) | (int16(chunk[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(chunk)/2))
}
