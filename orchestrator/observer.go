package orchestrator

import "github.com/tailored-agentic-units/parley/observability"

// Orchestrator event types emitted during session handling.
const (
	EventSessionCreated observability.EventType = "orchestrator.session.created"
	EventTurnReceived   observability.EventType = "orchestrator.turn.received"
	EventAnswerComplete observability.EventType = "orchestrator.answer.complete"
	EventToolDispatch   observability.EventType = "orchestrator.tool.dispatch"
	EventToolComplete   observability.EventType = "orchestrator.tool.complete"
	EventBatchDrained   observability.EventType = "orchestrator.batch.drained"
	EventFillerServed   observability.EventType = "orchestrator.filler.served"
	EventError          observability.EventType = "orchestrator.error"
)
