package events

// Event enumerates high-level topics inside the trigger engine.
type Event string

const (
	EventTick            Event = "tick"
	EventTriggerCreated  Event = "trigger.created"
	EventTriggerUpdated  Event = "trigger.updated"
	EventTriggerDeleted  Event = "trigger.deleted"
	EventTriggerFired    Event = "trigger.fired"
	EventExecutionResult Event = "execution.result"
	EventFeedState       Event = "feed.state"
)
