package copilot

// ResponseGate sits between the transcript stream and the main LLM
// pipeline. Upstream speech frameworks commonly auto-trigger an LLM turn on
// every utterance boundary; this suppresses that default so the agent only
// ever speaks after explicit human approval.
type ResponseGate struct {
	controller *StateController
}

// NewResponseGate wires the gate to the shared state controller.
func NewResponseGate(controller *StateController) *ResponseGate {
	return &ResponseGate{controller: controller}
}

// AllowAutoTrigger reports whether an auto-run trigger (e.g. a
// user-stopped-speaking frame) may proceed to the main LLM. It is true only
// immediately after an approval, before the next transition back into
// passive_listening.
func (g *ResponseGate) AllowAutoTrigger() bool {
	return g.controller.WasApprovedSinceListening()
}
