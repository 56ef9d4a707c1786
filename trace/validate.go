package trace

import "fmt"

// ValidationError locates the first problem found in a trace.
type ValidationError struct {
	Index  int
	Record Record
	Msg    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("trace: record %d (%s): %s", e.Index, e.Record.Kind, e.Msg)
}

// Validate checks the structure of a trace. It must start with a START
// record, the clocks of scheduling records must be strictly increasing and
// no record may follow an EXIT. A complete trace must end with an EXIT.
func Validate(t Trace, complete bool) error {
	records := t.Records()
	if len(records) == 0 {
		return fmt.Errorf("trace: empty")
	}

	if records[0].Kind != KindStart {
		return &ValidationError{Record: records[0], Msg: "trace does not begin with START"}
	}

	var (
		lastClk uint64
		seen    bool
	)

	for i, r := range records {
		if i > 0 && r.Kind == KindStart {
			return &ValidationError{Index: i, Record: r, Msg: "START in the middle of the trace"}
		}

		if r.Kind == KindExit && i != len(records)-1 {
			return &ValidationError{Index: i, Record: r, Msg: "records after EXIT"}
		}

		if r.Kind != KindSched {
			continue
		}

		if seen && uint64(r.Clk) <= lastClk {
			return &ValidationError{
				Index:  i,
				Record: r,
				Msg:    fmt.Sprintf("clock %d does not increase (previous %d)", r.Clk, lastClk),
			}
		}

		lastClk = uint64(r.Clk)
		seen = true
	}

	last := records[len(records)-1]
	if complete && last.Kind != KindExit {
		return &ValidationError{
			Index:  len(records) - 1,
			Record: last,
			Msg:    "complete trace does not end with EXIT",
		}
	}

	return nil
}
