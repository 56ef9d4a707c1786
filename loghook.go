package lotto

import (
	"log"

	"github.com/sarchlab/lotto/pubsub"
	"github.com/sarchlab/lotto/sched"
)

// CaptureLogger is a bus hook that prints every capture and every task
// that takes the turn.
type CaptureLogger struct {
	Logger *log.Logger
}

// NewCaptureLogger creates a hook writing into logger.
func NewCaptureLogger(logger *log.Logger) *CaptureLogger {
	return &CaptureLogger{Logger: logger}
}

// Func implements pubsub.Hook.
func (h *CaptureLogger) Func(ctx pubsub.HookCtx) {
	if ctx.Pos != pubsub.HookPosBeforePublish {
		return
	}

	d := ctx.Detail
	c, ok := ctx.Item.(*sched.Context)

	switch {
	case d.Chain == sched.ChainInterface && d.Type == sched.TopicBeforeCapture && ok:
		h.Logger.Printf("capture %s", c)
	case d.Chain == sched.ChainInterface && d.Type == sched.TopicNextTask && ok:
		h.Logger.Printf("resume  task %s after %s", c.ID, c.Cat)
	case d.Chain == sched.ChainInterface && d.Type == sched.TopicDeadlockDetected:
		h.Logger.Printf("deadlock %v", ctx.Item)
	}
}
