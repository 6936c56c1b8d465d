package copilot

import "context"

type MockSTTProvider struct {
	transcribeResult string
	transcribeErr    error
}

func (m *MockSTTProvider) Transcribe(ctx context.Context, audio []byte, lang Language) (string, error) {
	return m.transcribeResult, m.transcribeErr
}

func (m *MockSTTProvider) Name() string { return "MockSTT" }

type MockLLMProvider struct {
	completeResult string
	completeErr    error
	jsonResult     string
	jsonErr        error
}

func (m *MockLLMProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	return m.completeResult, m.completeErr
}

func (m *MockLLMProvider) CompleteJSON(ctx context.Context, messages []Message) (string, error) {
	return m.jsonResult, m.jsonErr
}

func (m *MockLLMProvider) Name() string { return "MockLLM" }

type MockTTSProvider struct {
	synthesizeResult []byte
	synthesizeErr    error
	streamErr        error
	aborted          bool
}

func (m *MockTTSProvider) Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
	return m.synthesizeResult, m.synthesizeErr
}

func (m *MockTTSProvider) StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	if m.streamErr != nil {
		return m.streamErr
	}
	return onChunk(m.synthesizeResult)
}

func (m *MockTTSProvider) Abort() error {
	m.aborted = true
	return nil
}

func (m *MockTTSProvider) Name() string { return "MockTTS" }

type mockAppMessageSink struct {
	states  []string
	reasons []string
	totals  []int
}

func (s *mockAppMessageSink) BroadcastBotStateChanged(ctx context.Context, state string) {
	s.states = append(s.states, state)
}

func (s *mockAppMessageSink) BroadcastBotHandRaised(ctx context.Context, reason string) {
	s.reasons = append(s.reasons, reason)
}

func (s *mockAppMessageSink) BroadcastContextUpdate(ctx context.Context, history []ContextEntry, total int) {
	s.totals = append(s.totals, total)
}

type mockTTSSink struct {
	started int
	ended   int
	texts   []string
}

func (s *mockTTSSink) StartBotUtterance(ctx context.Context) error {
	s.started++
	return nil
}

func (s *mockTTSSink) BotUtteranceText(ctx context.Context, text string) error {
	s.texts = append(s.texts, text)
	return nil
}

func (s *mockTTSSink) EndBotUtterance(ctx context.Context) error {
	s.ended++
	return nil
}
