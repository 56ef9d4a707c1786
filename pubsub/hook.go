package pubsub

// HookPos names the point of a delivery at which hooks run.
type HookPos struct {
	Name string
}

// HookPosBeforePublish runs before subscribers see an event.
var HookPosBeforePublish = &HookPos{Name: "BeforePublish"}

// HookPosAfterPublish runs once delivery has finished. Detail then carries
// the final status.
var HookPosAfterPublish = &HookPos{Name: "AfterPublish"}

// HookCtx describes one delivery observed by a hook.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   any
	Detail Delivery
}

// Delivery identifies a publish call.
type Delivery struct {
	Chain  Chain
	Type   Type
	Status Status
}

// Hook observes deliveries. Hooks cannot influence delivery.
type Hook interface {
	Func(ctx HookCtx)
}

// HookFunc turns a plain function into a Hook.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// Hookable objects accept hooks during setup.
type Hookable interface {
	AcceptHook(hook Hook)
}

type hookList struct {
	hooks []Hook
}

func (l *hookList) AcceptHook(hook Hook) {
	l.hooks = append(l.hooks, hook)
}

func (l *hookList) invoke(ctx HookCtx) {
	for _, h := range l.hooks {
		h.Func(ctx)
	}
}
