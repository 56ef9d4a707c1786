// Package pubsub provides the event bus that connects the interceptors, the
// engine and the handlers.
//
// A bus carries events on chains. Every chain has a fixed number of event
// types, and every type has a list of subscriptions sorted by slot. An event
// is delivered to the subscriptions in ascending slot order.
package pubsub

import (
	"bytes"
	"fmt"
	"log"
	"runtime"
	"strconv"
	"sync/atomic"
)

// Chain identifies a group of event types.
type Chain uint16

// Type identifies an event type within a chain.
type Type uint16

const (
	// MaxChains is the number of chains of a bus.
	MaxChains = 16

	// MaxTypes is the number of event types per chain.
	MaxTypes = 128
)

// ChainControl is reserved for the bus life cycle. Subscriptions to it are
// ignored; only a fast dispatcher can observe its events.
const ChainControl Chain = 0

// AnyType subscribes to every type of a chain.
const AnyType Type = 0

// The events published on ChainControl.
const (
	EventInit  Type = 1
	EventReady Type = 2
)

// Status is the result of a delivery.
type Status int

// The statuses.
const (
	OK Status = iota
	StopChain
	DropEvent
	HandlerOff
	Invalid
	Error
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case StopChain:
		return "STOP_CHAIN"
	case DropEvent:
		return "DROP_EVENT"
	case HandlerOff:
		return "HANDLER_OFF"
	case Invalid:
		return "INVALID"
	case Error:
		return "ERROR"
	default:
		return "STATUS_" + strconv.Itoa(int(s))
	}
}

// Callback receives an event. md is the metadata supplied by the publisher.
type Callback func(chain Chain, typ Type, event any, md any) Status

type subscription struct {
	slot    int
	anyType bool
	cb      Callback
}

type fastDispatch struct {
	max int
	fn  Callback
}

const (
	stateNone int32 = iota
	stateStart
	stateReady
)

// Bus delivers events to subscriptions. Subscriptions are only added during
// setup, before concurrent publishing starts; there is no unsubscribe.
type Bus struct {
	hookList

	chains [MaxChains][MaxTypes][]subscription
	fast   [MaxChains]*fastDispatch
	names  map[Type]string

	state       atomic.Int32
	initRoutine atomic.Uint64
}

// NewBus creates a bus with no subscriptions.
func NewBus() *Bus {
	return &Bus{names: make(map[Type]string)}
}

// SetFastDispatch installs a compiled-in dispatcher for a chain. It runs
// before the dynamic subscriptions and owns every slot up to max.
//
// The dispatcher returns HandlerOff (or OK) to let the dynamic subscriptions
// run, StopChain to end the delivery successfully and DropEvent to drop the
// event.
func (b *Bus) SetFastDispatch(chain Chain, max int, fn Callback) {
	if chain >= MaxChains {
		log.Panicf("pubsub: invalid chain %d", chain)
	}

	b.fast[chain] = &fastDispatch{max: max, fn: fn}
}

// Advertise gives a type a name for log messages.
func (b *Bus) Advertise(typ Type, name string) {
	b.names[typ] = name
}

// TypeName returns the advertised name of a type.
func (b *Bus) TypeName(typ Type) string {
	if n, ok := b.names[typ]; ok {
		return n
	}

	return "type_" + strconv.Itoa(int(typ))
}

// Subscribe registers a callback for a type of a chain. Subscribing to
// AnyType registers the callback for every type of the chain. Among
// subscriptions of the same slot, type specific ones run before AnyType
// ones.
func (b *Bus) Subscribe(chain Chain, typ Type, slot int, cb Callback) Status {
	b.initialized()

	if chain < MaxChains {
		if f := b.fast[chain]; f != nil && slot <= f.max {
			return OK
		}
	}

	if chain == ChainControl {
		return OK
	}

	if chain >= MaxChains {
		return Invalid
	}

	if typ != AnyType {
		if typ >= MaxTypes {
			return Invalid
		}

		b.insert(chain, typ, subscription{slot: slot, cb: cb})

		return OK
	}

	for t := Type(1); t < MaxTypes; t++ {
		b.insert(chain, t, subscription{slot: slot, anyType: true, cb: cb})
	}

	return OK
}

func (b *Bus) insert(chain Chain, typ Type, sub subscription) {
	subs := b.chains[chain][typ]

	pos := len(subs)
	for i, cur := range subs {
		if sub.slot < cur.slot || (sub.slot == cur.slot && !sub.anyType) {
			pos = i
			break
		}
	}

	subs = append(subs, subscription{})
	copy(subs[pos+1:], subs[pos:])
	subs[pos] = sub

	b.chains[chain][typ] = subs
}

// NumSubscriptions returns the number of subscriptions of a type.
func (b *Bus) NumSubscriptions(chain Chain, typ Type) int {
	if chain >= MaxChains || typ >= MaxTypes {
		return 0
	}

	return len(b.chains[chain][typ])
}

// Publish delivers an event. DropEvent and StopChain are regular outcomes;
// any other failure reported by a subscriber is fatal.
func (b *Bus) Publish(chain Chain, typ Type, event any, md any) Status {
	if !b.initialized() {
		return DropEvent
	}

	if len(b.hooks) > 0 {
		b.invoke(HookCtx{
			Domain: b,
			Pos:    HookPosBeforePublish,
			Item:   event,
			Detail: Delivery{Chain: chain, Type: typ},
		})
	}

	status := b.publish(chain, typ, event, md)

	if len(b.hooks) > 0 {
		b.invoke(HookCtx{
			Domain: b,
			Pos:    HookPosAfterPublish,
			Item:   event,
			Detail: Delivery{Chain: chain, Type: typ, Status: status},
		})
	}

	return status
}

func (b *Bus) publish(chain Chain, typ Type, event any, md any) Status {
	switch b.dispatchFast(chain, typ, event, md) {
	case StopChain:
		return OK
	case DropEvent:
		return DropEvent
	}

	return b.deliver(chain, typ, event, md)
}

func (b *Bus) dispatchFast(chain Chain, typ Type, event any, md any) Status {
	if chain >= MaxChains || b.fast[chain] == nil {
		return HandlerOff
	}

	return b.fast[chain].fn(chain, typ, event, md)
}

func (b *Bus) deliver(chain Chain, typ Type, event any, md any) Status {
	if chain >= MaxChains {
		return Invalid
	}

	if typ == AnyType || typ >= MaxTypes {
		return Invalid
	}

	for _, sub := range b.chains[chain][typ] {
		switch s := sub.cb(chain, typ, event, md); s {
		case OK:
		case StopChain:
			return OK
		case DropEvent:
			return DropEvent
		default:
			log.Panicf("pubsub: subscriber of %d/%s at slot %d failed: %s",
				chain, b.TypeName(typ), sub.slot, s)
		}
	}

	return OK
}

// initialized runs the INIT and READY publications exactly once. Publishing
// from within the INIT publication is dropped, while other goroutines wait
// until the bus is ready.
func (b *Bus) initialized() bool {
	if b.state.Load() == stateReady {
		return true
	}

	if b.state.CompareAndSwap(stateNone, stateStart) {
		b.initRoutine.Store(goroutineID())
		b.publish(ChainControl, EventInit, nil, nil)
		b.state.Store(stateReady)
		b.publish(ChainControl, EventReady, nil, nil)

		return true
	}

	if b.initRoutine.Load() == goroutineID() {
		return b.state.Load() == stateReady
	}

	for b.state.Load() != stateReady {
		runtime.Gosched()
	}

	return true
}

// goroutineID parses the id of the calling goroutine from its stack header.
// It only runs while the bus initializes, to tell a publication nested in
// INIT from one of another goroutine.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i > 0 {
		field = field[:i]
	}

	id, err := strconv.ParseUint(string(field), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("pubsub: cannot parse goroutine id: %v", err))
	}

	return id
}
