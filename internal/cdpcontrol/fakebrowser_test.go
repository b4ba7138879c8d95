package cdpcontrol

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type fakeCall struct {
	Method    string
	SessionID string
	Params    json.RawMessage
}

type fakeHandler func(sessionID string, params json.RawMessage) (any, *cdpError)

// fakeBrowser serves /json/version, /json/list and a browser WebSocket that
// answers CDP commands from a handler table.
type fakeBrowser struct {
	srv *httptest.Server

	mu       sync.Mutex
	targets  []map[string]any
	handlers map[string]fakeHandler
	calls    []fakeCall
	conn     net.Conn

	writeMu sync.Mutex
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{handlers: make(map[string]fakeHandler)}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"Browser":              "Chrome/140.0",
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, _ *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		_ = json.NewEncoder(w).Encode(fb.targets)
	})
	mux.HandleFunc("/devtools/browser/fake", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		fb.mu.Lock()
		fb.conn = conn
		fb.mu.Unlock()
		go fb.serve(conn)
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		fb.mu.Lock()
		if fb.conn != nil {
			fb.conn.Close()
		}
		fb.mu.Unlock()
		fb.srv.Close()
	})
	return fb
}

func (fb *fakeBrowser) URL() string { return fb.srv.URL }

func (fb *fakeBrowser) addPage(id, url string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.targets = append(fb.targets, map[string]any{"id": id, "type": "page", "url": url, "title": id})
}

func (fb *fakeBrowser) addTarget(id, typ, url string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.targets = append(fb.targets, map[string]any{"id": id, "type": typ, "url": url})
}

func (fb *fakeBrowser) handle(method string, h fakeHandler) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.handlers[method] = h
}

func (fb *fakeBrowser) Calls() []fakeCall {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]fakeCall(nil), fb.calls...)
}

func (fb *fakeBrowser) called(method, sessionID string) bool {
	for _, c := range fb.Calls() {
		if c.Method == method && c.SessionID == sessionID {
			return true
		}
	}
	return false
}

func (fb *fakeBrowser) serve(conn net.Conn) {
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var req struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &req) != nil {
			continue
		}
		fb.mu.Lock()
		fb.calls = append(fb.calls, fakeCall{Method: req.Method, SessionID: req.SessionID, Params: req.Params})
		h := fb.handlers[req.Method]
		fb.mu.Unlock()

		resp := map[string]any{"id": req.ID}
		if req.SessionID != "" {
			resp["sessionId"] = req.SessionID
		}
		var result any = map[string]any{}
		var cerr *cdpError
		if h != nil {
			result, cerr = h(req.SessionID, req.Params)
		}
		if cerr != nil {
			resp["error"] = cerr
		} else {
			resp["result"] = result
		}
		fb.write(conn, resp)
	}
}

func (fb *fakeBrowser) write(conn net.Conn, msg any) {
	b, _ := json.Marshal(msg)
	fb.writeMu.Lock()
	defer fb.writeMu.Unlock()
	_ = wsutil.WriteServerText(conn, b)
}

// emit pushes an event to the connected client.
func (fb *fakeBrowser) emit(method, sessionID string, params any) {
	fb.mu.Lock()
	conn := fb.conn
	fb.mu.Unlock()
	if conn == nil {
		return
	}
	msg := map[string]any{"method": method, "params": params}
	if sessionID != "" {
		msg["sessionId"] = sessionID
	}
	fb.write(conn, msg)
}
