package sched

import "github.com/sarchlab/lotto/pubsub"

// The chains of the engine bus.
const (
	// ChainIntercept carries captures as they enter the engine.
	ChainIntercept pubsub.Chain = 1

	// ChainInterface carries the topics below.
	ChainInterface pubsub.Chain = 2
)

// The topics published on ChainInterface.
const (
	// TopicEngineStart is published once before the first capture.
	TopicEngineStart pubsub.Type = iota + 1

	// TopicBeforeCapture is published with the *Context of every capture
	// before the sequencer sees it.
	TopicBeforeCapture

	// TopicNextTask is published with the *Context of a task that resumes
	// after a decision.
	TopicNextTask

	// TopicTriggerTimeout is published with a *TimeoutEvent when a logical
	// deadline expires.
	TopicTriggerTimeout

	// The topics published after a state group is loaded from a trace.
	TopicAfterUnmarshalConfig
	TopicAfterUnmarshalPersistent
	TopicAfterUnmarshalFinal

	// TopicDeadlockDetected is published with the rendered wait chain when
	// a resource deadlock is found.
	TopicDeadlockDetected
)

// TimeoutEvent tells that the deadline of a task has expired.
type TimeoutEvent struct {
	ID  TaskID
	Clk Clk
}

// AdvertiseTopics names the topics on a bus.
func AdvertiseTopics(b *pubsub.Bus) {
	b.Advertise(TopicEngineStart, "ENGINE_START")
	b.Advertise(TopicBeforeCapture, "BEFORE_CAPTURE")
	b.Advertise(TopicNextTask, "NEXT_TASK")
	b.Advertise(TopicTriggerTimeout, "TRIGGER_TIMEOUT")
	b.Advertise(TopicAfterUnmarshalConfig, "AFTER_UNMARSHAL_CONFIG")
	b.Advertise(TopicAfterUnmarshalPersistent, "AFTER_UNMARSHAL_PERSISTENT")
	b.Advertise(TopicAfterUnmarshalFinal, "AFTER_UNMARSHAL_FINAL")
	b.Advertise(TopicDeadlockDetected, "DEADLOCK_DETECTED")
}
