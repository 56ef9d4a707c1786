// Package monitoring serves the state of a running execution over HTTP.
//
// The state of the handlers is only ever read by the task holding the turn.
// A request for it waits for the next capture, which serves it from within
// the engine.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"reflect"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/lotto/handlers"
	"github.com/sarchlab/lotto/monitoring/web"
	"github.com/sarchlab/lotto/pubsub"
	"github.com/sarchlab/lotto/sched"
	"github.com/sarchlab/lotto/sequencer"
	"github.com/sarchlab/lotto/switcher"
	"github.com/sarchlab/lotto/trace"
)

// DefaultTurnTimeout is how long a request waits for the next capture.
const DefaultTurnTimeout = 2 * time.Second

// ErrNotRunning is returned when no capture serves a request in time.
var ErrNotRunning = errors.New("monitoring: execution is not running")

// StatsSource provides the counters of the sequencer.
type StatsSource interface {
	Stats() sequencer.Stats
}

// SwitcherSource provides the state of the switcher.
type SwitcherSource interface {
	Snapshot() switcher.Snapshot
}

type turnRequest struct {
	fn    func() ([]byte, error)
	reply chan turnReply
}

type turnReply struct {
	data []byte
	err  error
}

// Monitor can turn an execution into a server.
type Monitor struct {
	portNumber  int
	turnTimeout time.Duration
	pagesDir    string

	stats    StatsSource
	sw       SwitcherSource
	creation *handlers.Creation
	blocking *handlers.Blocking
	trace    trace.Trace

	handlerNames []string
	handlers     map[string]any

	requests chan *turnRequest

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	serverLock sync.Mutex
	server     *http.Server
	addr       string
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		turnTimeout: DefaultTurnTimeout,
		handlers:    make(map[string]any),
		requests:    make(chan *turnRequest),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithPagesDir serves the dashboard pages from dir instead of the pages
// built into the binary.
func (m *Monitor) WithPagesDir(dir string) *Monitor {
	m.pagesDir = dir
	return m
}

// WithTurnTimeout sets how long a request waits for the next capture.
func (m *Monitor) WithTurnTimeout(d time.Duration) *Monitor {
	m.turnTimeout = d
	return m
}

// RegisterBus lets the captures published on bus serve the requests.
func (m *Monitor) RegisterBus(bus *pubsub.Bus) {
	bus.Subscribe(sched.ChainInterface, sched.TopicBeforeCapture,
		int(sched.NumSlots), m.serveTurn)
}

// RegisterStats registers the counters shown by /api/now.
func (m *Monitor) RegisterStats(s StatsSource) {
	m.stats = s
}

// RegisterSwitcher registers the switcher shown by /api/now.
func (m *Monitor) RegisterSwitcher(s SwitcherSource) {
	m.sw = s
}

// RegisterTasks registers the handlers that know the live and the blocked
// tasks.
func (m *Monitor) RegisterTasks(c *handlers.Creation, b *handlers.Blocking) {
	m.creation = c
	m.blocking = b
}

// RegisterTrace registers the trace shown by /api/trace. t may be nil.
func (m *Monitor) RegisterTrace(t trace.Trace) {
	m.trace = t
}

// RegisterHandler registers a handler whose state can be inspected.
func (m *Monitor) RegisterHandler(name string, h any) {
	if _, exists := m.handlers[name]; !exists {
		m.handlerNames = append(m.handlerNames, name)
		sort.Strings(m.handlerNames)
	}

	m.handlers[name] = h
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := newProgressBar(name, total)

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

func (m *Monitor) serveTurn(pubsub.Chain, pubsub.Type, any, any) pubsub.Status {
	m.updateTracked()

	for {
		select {
		case req := <-m.requests:
			data, err := req.fn()
			req.reply <- turnReply{data: data, err: err}
		default:
			return pubsub.OK
		}
	}
}

// inTurn runs fn from within the next capture.
func (m *Monitor) inTurn(fn func() ([]byte, error)) ([]byte, error) {
	req := &turnRequest{fn: fn, reply: make(chan turnReply, 1)}
	timeout := time.NewTimer(m.turnTimeout)
	defer timeout.Stop()

	select {
	case m.requests <- req:
	case <-timeout.C:
		return nil, ErrNotRunning
	}

	rep := <-req.reply

	return rep.data, rep.err
}

// Handler returns the routes of the monitor.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/tasks", m.listTasks)
	r.HandleFunc("/api/handlers", m.listHandlers)
	r.HandleFunc("/api/handler/{name}", m.handlerDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/trace", m.listRecords)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	r.PathPrefix("/").Handler(web.Handler(m.pages()))

	return r
}

func (m *Monitor) pages() http.FileSystem {
	pages, err := web.Pages(m.pagesDir)
	if err != nil {
		log.Printf("[lotto] monitoring: %v, serving the built-in pages", err)
		pages, _ = web.Pages("")
	}

	return pages
}

// StartServer starts the monitor as a web server with a custom port if wanted.
func (m *Monitor) StartServer() {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	srv := &http.Server{Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}

	m.serverLock.Lock()
	m.server = srv
	m.addr = fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port)
	m.serverLock.Unlock()

	fmt.Fprintf(os.Stderr, "Monitoring execution with %s\n", m.URL())

	go func() {
		err := srv.Serve(listener)
		if !errors.Is(err, http.ErrServerClosed) {
			dieOnErr(err)
		}
	}()
}

// URL returns the address of the running server.
func (m *Monitor) URL() string {
	m.serverLock.Lock()
	defer m.serverLock.Unlock()

	return m.addr
}

// StopServer shuts the server down.
func (m *Monitor) StopServer() error {
	m.serverLock.Lock()
	defer m.serverLock.Unlock()

	if m.server == nil {
		return nil
	}

	err := m.server.Close()
	m.server = nil

	return err
}

type nowRsp struct {
	Clk      sched.Clk    `json:"clk"`
	Chpts    uint64       `json:"chpts"`
	Switches uint64       `json:"switches"`
	Next     sched.TaskID `json:"next"`
	Prev     sched.TaskID `json:"prev"`
	Status   string       `json:"status"`
	Waiters  int          `json:"waiters"`
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	rsp := nowRsp{}

	if m.stats != nil {
		s := m.stats.Stats()
		rsp.Clk, rsp.Chpts, rsp.Switches = s.Clk, s.Chpts, s.Switches
	}

	if m.sw != nil {
		s := m.sw.Snapshot()
		rsp.Next, rsp.Prev, rsp.Waiters = s.Next, s.Prev, s.Waiters
		rsp.Status = s.Status.String()
	}

	writeJSON(w, rsp)
}

type tasksRsp struct {
	Live    []sched.TaskID `json:"live"`
	Blocked []sched.TaskID `json:"blocked"`
}

func (m *Monitor) listTasks(w http.ResponseWriter, _ *http.Request) {
	if m.creation == nil {
		http.Error(w, "no task information", http.StatusNotFound)
		return
	}

	data, err := m.inTurn(func() ([]byte, error) {
		rsp := tasksRsp{Live: m.creation.Tasks().IDs}
		if m.blocking != nil {
			rsp.Blocked = m.blocking.Blocked().IDs
		}

		return json.Marshal(rsp)
	})

	writeTurnReply(w, data, err)
}

func (m *Monitor) listHandlers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.handlerNames)
}

func (m *Monitor) findHandlerOr404(w http.ResponseWriter, name string) any {
	h, ok := m.handlers[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Handler not found"))
		dieOnErr(err)
	}

	return h
}

func (m *Monitor) handlerDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	h := m.findHandlerOr404(w, name)
	if h == nil {
		return
	}

	data, err := m.inTurn(func() ([]byte, error) {
		buf := bytes.NewBuffer(nil)

		serializer := goseth.NewSerializer()
		serializer.SetRoot(h)
		serializer.SetMaxDepth(2)
		err := serializer.Serialize(buf)

		return buf.Bytes(), err
	})

	writeTurnReply(w, data, err)
}

type fieldReq struct {
	Handler   string `json:"handler,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	if err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h := m.findHandlerOr404(w, req.Handler)
	if h == nil {
		return
	}

	fields := strings.Split(req.FieldName, ".")

	data, err := m.inTurn(func() ([]byte, error) {
		if _, err := walkFields(h, req.FieldName); err != nil {
			return nil, err
		}

		buf := bytes.NewBuffer(nil)

		serializer := goseth.NewSerializer()
		serializer.SetRoot(h)
		serializer.SetMaxDepth(1)

		if err := serializer.SetEntryPoint(fields); err != nil {
			return nil, err
		}

		err := serializer.Serialize(buf)

		return buf.Bytes(), err
	})

	var ffe fieldFormatError
	if errors.As(err, &ffe) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeTurnReply(w, data, err)
}

type recordRsp struct {
	Index  int    `json:"index"`
	Kind   string `json:"kind"`
	Clk    uint64 `json:"clk"`
	ID     uint64 `json:"id"`
	Cat    string `json:"cat"`
	Reason string `json:"reason"`
	PC     string `json:"pc"`
	Size   int    `json:"size"`
}

func (m *Monitor) listRecords(w http.ResponseWriter, r *http.Request) {
	if m.trace == nil {
		writeJSON(w, []recordRsp{})
		return
	}

	limit, offset, err := pageParams(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	records := m.trace.Records()

	offset = min(offset, len(records))
	end := len(records)
	if limit > 0 {
		end = min(offset+limit, end)
	}

	rsp := make([]recordRsp, 0, end-offset)
	for i := offset; i < end; i++ {
		rec := records[i]
		rsp = append(rsp, recordRsp{
			Index:  i,
			Kind:   rec.Kind.String(),
			Clk:    uint64(rec.Clk),
			ID:     uint64(rec.ID),
			Cat:    rec.Cat.String(),
			Reason: rec.Reason.String(),
			PC:     fmt.Sprintf("0x%x", rec.PC),
			Size:   len(rec.Data),
		})
	}

	writeJSON(w, rsp)
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "0"
	}

	limit, err = strconv.Atoi(limitStr)
	if err != nil || limit < 0 {
		return 0, 0, fmt.Errorf("invalid limit %q", limitStr)
	}

	offsetStr := r.URL.Query().Get("offset")
	if offsetStr == "" {
		offsetStr = "0"
	}

	offset, err = strconv.Atoi(offsetStr)
	if err != nil || offset < 0 {
		return limit, 0, fmt.Errorf("invalid offset %q", offsetStr)
	}

	return limit, offset, nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func writeTurnReply(w http.ResponseWriter, data []byte, err error) {
	switch {
	case errors.Is(err, ErrNotRunning):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.Header().Set("Content-Type", "application/json")
		_, err = w.Write(data)
		dieOnErr(err)
	}
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}

type fieldFormatError struct {
	field string
}

func (e fieldFormatError) Error() string {
	return fmt.Sprintf("invalid field %q", e.field)
}

// walkFields follows a dotted path of field names, slice indexes and map
// keys from root.
func walkFields(root any, fields string) (reflect.Value, error) {
	elem := reflect.ValueOf(root)

	fieldNames := strings.Split(fields, ".")

	for len(fieldNames) > 0 {
		switch elem.Kind() {
		case reflect.Ptr, reflect.Interface:
			if elem.IsNil() {
				return elem, fieldFormatError{fieldNames[0]}
			}

			elem = elem.Elem()
		case reflect.Struct:
			elem = elem.FieldByName(fieldNames[0])
			if !elem.IsValid() {
				return elem, fieldFormatError{fieldNames[0]}
			}

			fieldNames = fieldNames[1:]
		case reflect.Slice, reflect.Array:
			index, err := strconv.Atoi(fieldNames[0])
			if err != nil || index < 0 || index >= elem.Len() {
				return elem, fieldFormatError{fieldNames[0]}
			}

			elem = elem.Index(index)
			fieldNames = fieldNames[1:]
		case reflect.Map:
			elem = mapIndex(elem, fieldNames[0])
			if !elem.IsValid() {
				return elem, fieldFormatError{fieldNames[0]}
			}

			fieldNames = fieldNames[1:]
		default:
			return elem, fieldFormatError{fieldNames[0]}
		}
	}

	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}

	return elem, nil
}

func mapIndex(m reflect.Value, key string) reflect.Value {
	kt := m.Type().Key()

	switch kt.Kind() {
	case reflect.String:
		return m.MapIndex(reflect.ValueOf(key).Convert(kt))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(key, 0, 64)
		if err != nil {
			return reflect.Value{}
		}

		return m.MapIndex(reflect.ValueOf(n).Convert(kt))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64, reflect.Uintptr:
		n, err := strconv.ParseUint(key, 0, 64)
		if err != nil {
			return reflect.Value{}
		}

		return m.MapIndex(reflect.ValueOf(n).Convert(kt))
	default:
		return reflect.Value{}
	}
}
