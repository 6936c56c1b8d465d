package copilot

import "testing"

func TestResponseGateDeniesByDefault(t *testing.T) {
	controller := NewStateController()
	g := NewResponseGate(controller)

	if g.AllowAutoTrigger() {
		t.Fatal("expected auto-trigger denied before any approval")
	}
}

func TestResponseGateAllowsOnlyAfterApproval(t *testing.T) {
	controller := NewStateController()
	g := NewResponseGate(controller)

	controller.Fire(EventPTTOn)
	controller.Fire(EventPTTOffNonEmpty)
	controller.RaiseHand("the answer")
	if g.AllowAutoTrigger() {
		t.Fatal("expected auto-trigger still denied before approval")
	}

	controller.Approve()
	if !g.AllowAutoTrigger() {
		t.Fatal("expected auto-trigger allowed immediately after approval")
	}
}

func TestResponseGateDeniesAfterReturningToPassiveListening(t *testing.T) {
	controller := NewStateController()
	g := NewResponseGate(controller)

	controller.Fire(EventPTTOn)
	controller.Fire(EventPTTOffNonEmpty)
	controller.RaiseHand("the answer")
	controller.Approve()
	controller.Fire(EventTTSComplete) // speaking -> passive_listening

	if g.AllowAutoTrigger() {
		t.Fatal("expected auto-trigger denied again once back in passive_listening")
	}
}
