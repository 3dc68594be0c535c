package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// MockRoomServer mocks the bilibili live and account HTTP APIs. Handlers
// are keyed by URL path; unknown paths answer 404.
type MockRoomServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu    sync.Mutex
	posts []url.Values
}

// NewMockRoomServer starts a server that is closed when t finishes.
func NewMockRoomServer(t *testing.T) *MockRoomServer {
	t.Helper()
	m := &MockRoomServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// WriteEnvelope writes the {"code","message","data"} wrapper every endpoint uses.
func WriteEnvelope(w http.ResponseWriter, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
		"code":    code,
		"message": message,
		"data":    data,
	})
}

// MockRoomInfo answers getInfoByRoom.
func (m *MockRoomServer) MockRoomInfo(roomID, anchorUID int64, anchor string, live bool) {
	status := 0
	if live {
		status = 1
	}
	m.Handlers["/xlive/web-room/v1/index/getInfoByRoom"] = func(w http.ResponseWriter, r *http.Request) {
		WriteEnvelope(w, 0, "0", map[string]any{
			"room_info": map[string]any{"room_id": roomID, "short_id": 0, "uid": anchorUID, "live_status": status, "title": "test"},
			"anchor_info": map[string]any{
				"base_info":  map[string]any{"uname": anchor},
				"medal_info": map[string]any{"medal_name": "MEDAL"},
			},
		})
	}
}

// MockDanmuInfo answers getDanmuInfo with token and a single wss host.
func (m *MockRoomServer) MockDanmuInfo(token, host string, port int) {
	m.Handlers["/xlive/web-room/v1/index/getDanmuInfo"] = func(w http.ResponseWriter, r *http.Request) {
		WriteEnvelope(w, 0, "0", map[string]any{
			"token":     token,
			"host_list": []map[string]any{{"host": host, "wss_port": port}},
		})
	}
}

// MockSend accepts danmaku posts and records their form values. A non-zero
// code makes the room reject the message.
func (m *MockRoomServer) MockSend(code int, message string) {
	m.Handlers["/msg/send"] = func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		form := r.PostForm
		if c, err := r.Cookie("SESSDATA"); err == nil {
			form.Set("cookie_SESSDATA", c.Value)
		}
		if c, err := r.Cookie("bili_jct"); err == nil {
			form.Set("cookie_bili_jct", c.Value)
		}
		m.mu.Lock()
		m.posts = append(m.posts, form)
		m.mu.Unlock()
		WriteEnvelope(w, code, message, map[string]any{})
	}
}

// Posts returns the recorded danmaku post forms.
func (m *MockRoomServer) Posts() []url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]url.Values(nil), m.posts...)
}

// GuardMember is one row of the mocked guard list.
type GuardMember struct {
	UID        int64
	GuardLevel int
}

// MockGuardList serves members split into pages of pageSize; the first
// three go to top3 on page one.
func (m *MockRoomServer) MockGuardList(members []GuardMember, pageSize int) {
	top := min(3, len(members))
	rest := members[top:]
	pages := (len(rest) + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}
	rows := func(ms []GuardMember) []map[string]any {
		out := make([]map[string]any, 0, len(ms))
		for _, g := range ms {
			out = append(out, map[string]any{"uid": g.UID, "guard_level": g.GuardLevel, "username": "u"})
		}
		return out
	}
	m.Handlers["/xlive/app-room/v2/guardTab/topList"] = func(w http.ResponseWriter, r *http.Request) {
		page := 1
		if p := r.URL.Query().Get("page"); p != "" {
			_ = json.Unmarshal([]byte(p), &page)
		}
		start := min((page-1)*pageSize, len(rest))
		end := min(start+pageSize, len(rest))
		data := map[string]any{
			"info": map[string]any{"num": len(members), "page": pages, "now": page},
			"list": rows(rest[start:end]),
			"top3": []map[string]any{},
		}
		if page == 1 {
			data["top3"] = rows(members[:top])
		}
		WriteEnvelope(w, 0, "0", data)
	}
}

// MockRelation answers relation/stat with the follower count for any uid.
func (m *MockRoomServer) MockRelation(followers map[string]int64) {
	m.Handlers["/x/relation/stat"] = func(w http.ResponseWriter, r *http.Request) {
		vmid := r.URL.Query().Get("vmid")
		WriteEnvelope(w, 0, "0", map[string]any{"mid": vmid, "following": 1, "follower": followers[vmid]})
	}
}

// MockProfile answers space/acc/info.
func (m *MockRoomServer) MockProfile(sex string, level int) {
	m.Handlers["/x/space/acc/info"] = func(w http.ResponseWriter, r *http.Request) {
		WriteEnvelope(w, 0, "0", map[string]any{"mid": r.URL.Query().Get("mid"), "sex": sex, "level": level})
	}
}

// MockTuringServer is a scripted AI backend. Reply picks the intent code
// and text per API key.
type MockTuringServer struct {
	*httptest.Server
	Reply func(apiKey, text string) (code int, reply string)

	mu   sync.Mutex
	keys []string
}

// NewMockTuringServer starts a backend answering every question with reply.
func NewMockTuringServer(t *testing.T, reply string) *MockTuringServer {
	t.Helper()
	m := &MockTuringServer{
		Reply: func(string, string) (int, string) { return 10004, reply },
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Perception struct {
				InputText struct {
					Text string `json:"text"`
				} `json:"inputText"`
			} `json:"perception"`
			UserInfo struct {
				APIKey string `json:"apiKey"`
			} `json:"userInfo"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.keys = append(m.keys, req.UserInfo.APIKey)
		reply := m.Reply
		m.mu.Unlock()
		code, text := reply(req.UserInfo.APIKey, req.Perception.InputText.Text)
		resp := map[string]any{"intent": map[string]any{"code": code}}
		if text != "" {
			resp["results"] = []map[string]any{{"groupType": 1, "resultType": "text", "values": map[string]any{"text": text}}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp) //nolint:errcheck // test mock response
	}))
	t.Cleanup(m.Close)
	return m
}

// Keys returns the API keys used so far, in order.
func (m *MockTuringServer) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}
