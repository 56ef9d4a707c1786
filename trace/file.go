package trace

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sarchlab/lotto/mempool"
	"github.com/sarchlab/lotto/sched"
)

// Magic starts every trace file.
var Magic = [4]byte{'L', 'T', 'T', 'O'}

// Version is the format version written by Save.
const Version uint32 = 1

// ErrBadMagic is returned when a stream is not a trace.
var ErrBadMagic = errors.New("trace: bad magic")

type recordHeader struct {
	Kind   uint32
	Clk    uint64
	ID     uint64
	Cat    uint32
	Reason uint32
	PC     uint64
	Size   uint32
}

// Save writes every record of a trace to w.
func Save(w io.Writer, t Trace) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(Magic[:]); err != nil {
		return fmt.Errorf("trace: writing header: %w", err)
	}

	if err := binary.Write(bw, binary.LittleEndian, Version); err != nil {
		return fmt.Errorf("trace: writing header: %w", err)
	}

	for i, r := range t.Records() {
		h := recordHeader{
			Kind:   uint32(r.Kind),
			Clk:    uint64(r.Clk),
			ID:     uint64(r.ID),
			Cat:    uint32(r.Cat),
			Reason: uint32(r.Reason),
			PC:     uint64(r.PC),
			Size:   uint32(len(r.Data)),
		}

		if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
			return fmt.Errorf("trace: writing record %d: %w", i, err)
		}

		if _, err := bw.Write(r.Data); err != nil {
			return fmt.Errorf("trace: writing record %d: %w", i, err)
		}
	}

	return bw.Flush()
}

// Load reads a trace written by Save. The payload pool of the returned trace
// is sized to fit the records.
func Load(r io.Reader) (*Flat, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("trace: reading header: %w", err)
	}

	if magic != Magic {
		return nil, ErrBadMagic
	}

	var version uint32
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("trace: reading header: %w", err)
	}

	if version != Version {
		return nil, fmt.Errorf("trace: unsupported version %d", version)
	}

	records := []Record{}
	capacity := 0

	for {
		var h recordHeader

		err := binary.Read(br, binary.LittleEndian, &h)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("trace: reading record %d: %w", len(records), err)
		}

		rec := Record{
			Kind:   Kind(h.Kind),
			Clk:    sched.Clk(h.Clk),
			ID:     sched.TaskID(h.ID),
			Cat:    sched.Category(h.Cat),
			Reason: sched.Reason(h.Reason),
			PC:     uintptr(h.PC),
		}

		if h.Size > 0 {
			size := mempool.BlockSize(int(h.Size))
			if size < 0 {
				return nil, fmt.Errorf("trace: record %d too large (%d bytes)",
					len(records), h.Size)
			}

			capacity += size
			rec.Data = make([]byte, h.Size)

			if _, err := io.ReadFull(br, rec.Data); err != nil {
				return nil, fmt.Errorf("trace: reading record %d: %w", len(records), err)
			}
		}

		records = append(records, rec)
	}

	t := NewFlat(mempool.MakeBuilder().WithCapacity(capacity).Build())
	for _, rec := range records {
		t.Append(rec)
	}

	return t, nil
}

// File is a trace bound to a path. It is loaded when opened and written back
// when closed.
type File struct {
	*Flat

	path  string
	once  sync.Once
	err   error
	dirty bool
}

// Open opens the trace at path. A missing file yields an empty trace.
func Open(path string) (*File, error) {
	f := &File{path: path}

	in, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		f.Flat = NewFlat(nil)
		return f, nil
	}

	if err != nil {
		return nil, fmt.Errorf("trace: opening %s: %w", path, err)
	}
	defer in.Close()

	f.Flat, err = Load(in)
	if err != nil {
		return nil, fmt.Errorf("trace: loading %s: %w", path, err)
	}

	return f, nil
}

// Create opens an empty trace that replaces any file at path on Close.
func Create(path string) *File {
	return &File{path: path, Flat: NewFlat(nil), dirty: true}
}

// Path returns the path the trace is bound to.
func (f *File) Path() string {
	return f.path
}

// Append adds a record and marks the file as modified.
func (f *File) Append(r Record) {
	f.dirty = true
	f.Flat.Append(r)
}

// Pop removes the last record and marks the file as modified.
func (f *File) Pop() {
	f.dirty = true
	f.Flat.Pop()
}

// Clear removes every record and marks the file as modified.
func (f *File) Clear() {
	f.dirty = true
	f.Flat.Clear()
}

// Close writes the trace back to its path if it was modified. Closing twice
// writes once.
func (f *File) Close() error {
	f.once.Do(func() {
		if !f.dirty {
			return
		}

		out, err := os.Create(f.path)
		if err != nil {
			f.err = fmt.Errorf("trace: creating %s: %w", f.path, err)
			return
		}

		if err := Save(out, f.Flat); err != nil {
			out.Close()
			f.err = err

			return
		}

		f.err = out.Close()
	})

	return f.err
}
