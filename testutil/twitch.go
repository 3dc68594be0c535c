package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockTwitchServer mocks the Helix API and the OAuth token endpoint.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu     sync.Mutex
	grants []string
	live   bool
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
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

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"data": []map[string]string{{"id": userID, "login": login}},
		})
	}
}

// MockStreams serves /helix/streams from the live flag set with SetLive.
func (m *MockTwitchServer) MockStreams() {
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		live := m.live
		m.mu.Unlock()
		data := []map[string]string{}
		if live {
			data = append(data, map[string]string{"id": "1", "type": "live", "user_login": r.URL.Query().Get("user_login")})
		}
		writeJSON(w, map[string]any{"data": data})
	}
}

// SetLive switches what MockStreams reports.
func (m *MockTwitchServer) SetLive(live bool) {
	m.mu.Lock()
	m.live = live
	m.mu.Unlock()
}

// MockFollowers answers /helix/channels/followers with per-broadcaster totals.
func (m *MockTwitchServer) MockFollowers(totals map[string]int64) {
	m.Handlers["/helix/channels/followers"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"total": totals[r.URL.Query().Get("broadcaster_id")], "data": []any{}})
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint and records
// the grant type of each request.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.grants = append(m.grants, r.PostForm.Get("grant_type"))
		m.mu.Unlock()
		writeJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}
}

// Grants returns the grant types requested from the token endpoint.
func (m *MockTwitchServer) Grants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.grants...)
}
