package ports

import "time"

// EventType names a loop event.
type EventType string

const (
	EventTaskStarted    EventType = "task_started"
	EventPlanProposed   EventType = "plan_proposed"
	EventPlanRejected   EventType = "plan_rejected"
	EventStepStarted    EventType = "step_started"
	EventStepRetrying   EventType = "step_retrying"
	EventStepFinished   EventType = "step_finished"
	EventStepsDiscarded EventType = "steps_discarded"
	EventTaskFinished   EventType = "task_finished"
)

// AgentEvent is emitted by the orchestration loop as a task progresses.
type AgentEvent struct {
	Type    EventType
	TaskID  string
	Time    time.Time
	Round   int
	Step    *Step
	Status  TaskStatus
	Message string
	Err     error
}

// EventListener consumes agent events (used by the CLI progress output)
type EventListener interface {
	OnEvent(event AgentEvent)
}

// EventListenerFunc adapts a function to EventListener.
type EventListenerFunc func(event AgentEvent)

func (f EventListenerFunc) OnEvent(event AgentEvent) {
	f(event)
}
