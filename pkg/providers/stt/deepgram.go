package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/consultation-copilot/pkg/copilot"
)

// DeepgramSTT is a thin HTTP/WS adapter over Deepgram's batch and
// streaming transcription APIs. Its StreamTranscribe implementation
// delivers only final transcripts, matching the turn-taking core's
// requirement that interim results never reach the Transcription Router.
type DeepgramSTT struct {
	apiKey string
	url    string
	wsURL  string
}

func NewDeepgramSTT(apiKey string) *DeepgramSTT {
	return &DeepgramSTT{
		apiKey: apiKey,
		url:    "https://api.deepgram.com/v1/listen",
		wsURL:  "wss://api.deepgram.com/v1/listen",
	}
}

func (s *DeepgramSTT) Name() string {
	return "deepgram-stt"
}

func (s *DeepgramSTT) Transcribe(ctx context.Context, audioPCM []byte, lang copilot.Language) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", err
	}

	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	if lang != "" {
		params.Set("language", string(lang))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(audioPCM))
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", "audio/l16; rate=44100; channels=1") // Adjust rate based on usage or inject it

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("deepgram error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}

	return result.Results.Channels[0].Alternatives[0].Transcript, nil
}

type deepgramStreamResult struct {
	IsFinal bool `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// StreamTranscribe implements copilot.StreamingSTTProvider. It opens one
// Deepgram streaming connection per speaker, writes raw PCM chunks to the
// returned channel, and invokes onTranscript only for is_final results —
// interim results are read and discarded, never surfaced.
func (s *DeepgramSTT) StreamTranscribe(ctx context.Context, speakerID string, lang copilot.Language, onTranscript func(transcript string, final bool) error) (chan<- []byte, error) {
	u, err := url.Parse(s.wsURL)
	if err != nil {
		return nil, err
	}
	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	params.Set("interim_results", "false")
	if lang != "" {
		params.Set("language", string(lang))
	}
	u.RawQuery = params.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Token " + s.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram stream dial failed: %w", err)
	}

	audioIn := make(chan []byte, 32)

	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-audioIn:
				if !ok {
					return
				}
				if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		for {
			var result deepgramStreamResult
			if err := wsjson.Read(ctx, conn, &result); err != nil {
				return
			}
			if !result.IsFinal || len(result.Channel.Alternatives) == 0 {
				continue
			}
			text := result.Channel.Alternatives[0].Transcript
			if text == "" {
				continue
			}
			if err := onTranscript(text, true); err != nil {
				return
			}
		}
	}()

	return audioIn, nil
}
