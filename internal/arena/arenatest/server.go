// Package arenatest provides an in-process fake of the Arena PLM REST API.
package arenatest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/gorilla/mux"

	"github.com/wallcrawler78/arenadocs/internal/arena"
)

// Credentials accepted by the fake login endpoint.
const (
	Email       = "a@b.com"
	Password    = "x"
	WorkspaceID = "123"
)

// Server is a fake PLM. Fixture fields are read without locking; set them
// before issuing requests.
type Server struct {
	*httptest.Server

	Categories []arena.Category
	Attributes map[string][]arena.Attribute
	Items      []arena.Item

	// NextSessionID is handed out by the next successful login.
	NextSessionID string

	mu       sync.Mutex
	sessions map[string]bool
	calls    map[string]int
	headers  []http.Header
	failures map[string][]int
}

// NewServer starts a fake with one workspace and no fixtures.
func NewServer() *Server {
	s := &Server{
		Attributes:    map[string][]arena.Attribute{},
		NextSessionID: "S1",
		sessions:      map[string]bool{},
		calls:         map[string]int{},
		failures:      map[string][]int{},
	}

	r := mux.NewRouter()
	r.Use(s.record)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)

	authed := r.PathPrefix("/").Subrouter()
	authed.Use(s.requireSession)
	authed.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPut)
	authed.HandleFunc("/settings/users/me", s.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/settings/items/categories", s.handleCategories).Methods(http.MethodGet)
	authed.HandleFunc("/settings/items/categories/{id}/attributes", s.handleAttributes).Methods(http.MethodGet)
	authed.HandleFunc("/items", s.handleItems).Methods(http.MethodGet)
	authed.HandleFunc("/items/{id}", s.handleItem).Methods(http.MethodGet)

	s.Server = httptest.NewServer(r)
	return s
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// LastHeader returns header name from the most recent request.
func (s *Server) LastHeader(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.headers) == 0 {
		return ""
	}
	return s.headers[len(s.headers)-1].Get(name)
}

// ExpireSessions makes every issued session id invalid.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = map[string]bool{}
}

// AddSession marks id as a live session.
func (s *Server) AddSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = true
}

// FailNext makes the next requests to path answer with the given statuses, in order.
func (s *Server) FailNext(path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = append(s.failures[path], statuses...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		s.headers = append(s.headers, r.Header.Clone())
		var status int
		if q := s.failures[r.URL.Path]; len(q) > 0 {
			status, s.failures[r.URL.Path] = q[0], q[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			writeJSON(w, status, map[string]any{"errors": []map[string]string{{"message": http.StatusText(status)}}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(arena.SessionHeader)
		s.mu.Lock()
		ok := s.sessions[id]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"errors": []map[string]string{{"message": "session is not valid"}}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		WorkspaceID string `json:"workspaceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
		return
	}
	if in.Email != Email || in.Password != Password || in.WorkspaceID != WorkspaceID {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
		return
	}
	s.mu.Lock()
	id := s.NextSessionID
	s.sessions[id] = true
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"arenaSessionId": id, "workspaceName": "Test Workspace"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.sessions, r.Header.Get(arena.SessionHeader))
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"email": Email})
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"count": len(s.Categories), "results": s.Categories})
}

func (s *Server) handleAttributes(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	attrs, ok := s.Attributes[id]
	if !ok {
		known := false
		for _, c := range s.Categories {
			known = known || c.GUID == id
		}
		if !known {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "no such category"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(attrs), "results": attrs})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 {
		limit = 20
	}

	var matched []arena.Item
	for _, it := range s.Items {
		if c := q.Get("category.guid"); c != "" && it.Category.GUID != c {
			continue
		}
		if n := q.Get("number"); n != "" && it.Number != n {
			continue
		}
		matched = append(matched, it)
	}

	page := []arena.Item{}
	if offset < len(matched) {
		end := min(offset+limit, len(matched))
		page = matched[offset:end]
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(page), "results": page})
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, it := range s.Items {
		if it.GUID == id {
			writeJSON(w, http.StatusOK, it)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "item not found"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Fixtures loads a small catalog: Resistor and Capacitor categories, one
// custom attribute each, and two items.
func (s *Server) Fixtures() {
	s.Categories = []arena.Category{
		{GUID: "CAT-R", Name: "Resistor"},
		{GUID: "CAT-C", Name: "Capacitor"},
	}
	s.Attributes = map[string][]arena.Attribute{
		"CAT-R": {{GUID: "ATT-RES", Name: "Resistance", FieldType: "SINGLE_LINE_TEXT"}},
		"CAT-C": {{GUID: "ATT-CAP", Name: "Capacitance", FieldType: "SINGLE_LINE_TEXT"}},
	}
	s.Items = []arena.Item{
		{
			GUID: "ITEM-1", Number: "RES-001", Name: "10k Resistor", Description: "Carbon film",
			RevisionNumber: "A", Category: arena.Ref{GUID: "CAT-R", Name: "Resistor"},
			LifecyclePhase:       arena.Ref{GUID: "LP-1", Name: "Production"},
			Owner:                &arena.Person{GUID: "U1", FullName: "Pat Lee"},
			CreationDateTime:     "2024-01-15T10:00:00Z",
			AdditionalAttributes: []arena.AttributeValue{{GUID: "ATT-RES", Name: "Resistance", Value: json.RawMessage(`"10k"`)}},
		},
		{
			GUID: "ITEM-2", Number: "CAP-001", Name: "1uF Capacitor",
			RevisionNumber: "B", Category: arena.Ref{GUID: "CAT-C", Name: "Capacitor"},
			AdditionalAttributes: []arena.AttributeValue{{GUID: "ATT-CAP", Name: "Capacitance", Value: json.RawMessage(`"1uF"`)}},
		},
	}
}
