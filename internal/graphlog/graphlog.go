// Package graphlog implements the GRAPH and LOGOPS hooks from spec.md
// §6. LOGOPS appends scheduled ASTs to a file, skipping LoadOps and
// DISK-sourced items exactly as spec.md §4.5 describes. GRAPH
// additionally serves a websocket endpoint, grounded on the teacher's
// network module, that broadcasts discovery and realize events to any
// attached visualizer, best-effort: a slow or absent client never
// blocks scheduling.
package graphlog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lazysched/internal/ops"
)

// Event is one graph-visualization notification, broadcast as JSON.
type Event struct {
	Kind string `json:"kind"` // "discover", "realize", "schedule"
	Node string `json:"node"`
	Info string `json:"info,omitempty"`
}

// Logger owns the optional LOGOPS file handle and the optional GRAPH
// websocket server. A zero-value Logger is a no-op sink.
type Logger struct {
	logFile *os.File
	logMu   sync.Mutex

	upgrader websocket.Upgrader
	server   *http.Server
	clients  map[*websocket.Conn]bool
	clientMu sync.Mutex
	events   chan Event
	wg       sync.WaitGroup
}

// New opens the LOGOPS file (if logPath is non-empty) and starts a
// GRAPH websocket server at addr (if both graph is true and addr is
// non-empty).
func New(logPath string, graph bool, addr string) (*Logger, error) {
	l := &Logger{}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("graphlog: open %s: %w", logPath, err)
		}
		l.logFile = f
	}
	if graph && addr != "" {
		l.clients = map[*websocket.Conn]bool{}
		l.events = make(chan Event, 256)
		l.upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		mux := http.NewServeMux()
		mux.HandleFunc("/graph", l.handleConn)
		l.server = &http.Server{Addr: addr, Handler: mux}
		l.wg.Add(2)
		go l.serve()
		go l.broadcastLoop()
	}
	return l, nil
}

func (l *Logger) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	l.clientMu.Lock()
	l.clients[conn] = true
	l.clientMu.Unlock()
}

func (l *Logger) serve() {
	defer l.wg.Done()
	_ = l.server.ListenAndServe()
}

func (l *Logger) broadcastLoop() {
	defer l.wg.Done()
	for ev := range l.events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		l.clientMu.Lock()
		for conn := range l.clients {
			conn.SetWriteDeadline(writeDeadline())
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				delete(l.clients, conn)
				conn.Close()
			}
		}
		l.clientMu.Unlock()
	}
}

func writeDeadline() time.Time { return time.Now().Add(2 * time.Second) }

// Emit best-effort enqueues a graph event. A full or disabled channel
// drops the event rather than blocking the scheduler.
func (l *Logger) Emit(ev Event) {
	if l == nil || l.events == nil {
		return
	}
	select {
	case l.events <- ev:
	default:
	}
}

// LogOp appends a scheduled item's AST to the LOGOPS file, skipping
// LoadOps tops and items whose only inputs are DISK-device buffers, as
// spec.md §4.5 prescribes.
func (l *Logger) LogOp(item *ops.ScheduleItem) {
	if l == nil || l.logFile == nil {
		return
	}
	var render func(n *ops.LazyOp) string
	render = func(n *ops.LazyOp) string {
		if len(n.Src) == 0 {
			return n.Op.String()
		}
		parts := make([]string, len(n.Src))
		for i, s := range n.Src {
			parts[i] = render(s)
		}
		return n.Op.String() + "(" + strings.Join(parts, ", ") + ")"
	}
	for _, ast := range item.AST {
		if ast.Op.IsLoad() {
			continue
		}
		diskOnly := true
		for _, in := range item.Inputs {
			if in.Device != "DISK" {
				diskOnly = false
				break
			}
		}
		if diskOnly && len(item.Inputs) > 0 {
			continue
		}
		l.logMu.Lock()
		fmt.Fprintf(l.logFile, "%s\n", render(ast))
		l.logMu.Unlock()
	}
}

// Close flushes and releases the log file and stops the websocket
// server, if either was started.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	if l.events != nil {
		close(l.events)
	}
	if l.server != nil {
		l.server.Close()
	}
	l.wg.Wait()
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}
