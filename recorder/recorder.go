// Package recorder writes the records needed to replay an execution and
// feeds the decisions of a recorded execution back to the sequencer.
package recorder

import (
	"log"
	"sync"

	"github.com/rs/xid"

	"github.com/sarchlab/lotto/sched"
	"github.com/sarchlab/lotto/statemgr"
	"github.com/sarchlab/lotto/trace"
)

// Status tells the sequencer how to treat the current clock.
type Status int

// The replay statuses.
const (
	// Done means there is nothing (left) to replay.
	Done Status = iota

	// Load means a record was found for the clock and its state was loaded.
	Load

	// Force means an externally modified record was found for the clock.
	Force

	// Cont means replay is on but the next record is in the future.
	Cont
)

func (s Status) String() string {
	switch s {
	case Done:
		return "DONE"
	case Load:
		return "LOAD"
	case Force:
		return "FORCE"
	case Cont:
		return "CONT"
	default:
		return "UNKNOWN"
	}
}

// Replay is the outcome of a replay step.
type Replay struct {
	Status Status
	ID     sched.TaskID
	Reason sched.Reason
}

// Source provides the state written into records.
type Source interface {
	Marshal(g statemgr.Group) ([]byte, error)
	Unmarshal(g statemgr.Group, data []byte) error
}

// Recorder moves records between the engine and the traces.
type Recorder struct {
	mu sync.Mutex

	src    Source
	input  trace.Trace
	output trace.Trace
	runID  xid.ID

	replaying bool
	finished  bool
}

// New creates a recorder reading and writing state through src.
func New(src Source) *Recorder {
	return &Recorder{src: src}
}

// Init binds the traces. Both may be nil. The START record of the output
// carries a fresh run id.
func (r *Recorder) Init(input, output trace.Trace) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.input = input
	r.output = output
	r.runID = xid.New()

	if output != nil {
		output.Append(trace.Record{Kind: trace.KindStart, Data: r.runID.Bytes()})
	}

	if input == nil {
		return
	}

	if _, ok := input.Next(trace.KindStart); !ok {
		log.Panicf("recorder: replay trace has no START record")
	}
	input.Advance()

	r.replaying = true
}

// RunID returns the id of the current run.
func (r *Recorder) RunID() xid.ID {
	return r.runID
}

// Replaying reports if records are still being replayed.
func (r *Recorder) Replaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.replaying
}

// Config loads the configuration of the replayed trace, if any, and writes
// the current configuration to the output.
func (r *Recorder) Config() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.input != nil {
		if rec, ok := r.input.Next(trace.KindConfig); ok {
			if err := r.src.Unmarshal(statemgr.Config, rec.Data); err != nil {
				log.Panicf("recorder: cannot load configuration: %v", err)
			}
			r.input.Advance()
		}
	}

	if r.output == nil {
		return
	}

	data, err := r.src.Marshal(statemgr.Config)
	if err != nil {
		log.Panicf("recorder: cannot save configuration: %v", err)
	}

	r.output.Append(trace.Record{Kind: trace.KindConfig, ID: 1, Data: data})
}

// Replay looks for a record at clk.
func (r *Recorder) Replay(clk sched.Clk) Replay {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.replaying {
		return Replay{Status: Done}
	}

	rec, ok := r.input.Next(trace.KindSched | trace.KindForce | trace.KindExit)
	if !ok || rec.Kind == trace.KindExit {
		r.replaying = false
		return Replay{Status: Done}
	}

	if rec.Clk < clk {
		log.Panicf("recorder: replay divergence: record at clk %d, engine at clk %d",
			rec.Clk, clk)
	}

	if rec.Clk > clk {
		return Replay{Status: Cont}
	}

	r.input.Advance()

	if len(rec.Data) > 0 {
		if err := r.src.Unmarshal(statemgr.Persistent, rec.Data); err != nil {
			log.Panicf("recorder: cannot load state at clk %d: %v", clk, err)
		}
	}

	status := Load
	if rec.Kind == trace.KindForce {
		status = Force
	}

	return Replay{Status: status, ID: rec.ID, Reason: rec.Reason}
}

// Record writes a scheduling record for the task resuming at clk.
func (r *Recorder) Record(ctx *sched.Context, clk sched.Clk, reason sched.Reason) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.output == nil || r.finished {
		return
	}

	data, err := r.src.Marshal(statemgr.Persistent)
	if err != nil {
		log.Panicf("recorder: cannot save state at clk %d: %v", clk, err)
	}

	r.output.Append(trace.Record{
		Kind:   trace.KindSched,
		Clk:    clk,
		ID:     ctx.ID,
		Cat:    ctx.Cat,
		Reason: reason,
		PC:     ctx.PC,
		Data:   data,
	})
}

// Fini writes the EXIT record. Only the first call has an effect.
func (r *Recorder) Fini(clk sched.Clk, id sched.TaskID, reason sched.Reason) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return
	}
	r.finished = true

	if r.output == nil {
		return
	}

	rec := trace.Record{Kind: trace.KindExit, Clk: clk, ID: id, Reason: reason}

	if reason.IsRecordFinal() {
		data, err := r.src.Marshal(statemgr.Final)
		if err != nil {
			log.Printf("recorder: cannot save final state: %v", err)
		} else {
			rec.Data = data
		}
	}

	r.output.Append(rec)
}
