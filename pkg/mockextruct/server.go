package mockextruct

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Server implements an in-memory "Extruct-like" table API surface.
//
// A run started by adding rows with run=true reports "running" for RunPolls table reads,
// then "idle"; the rows are enriched at that point.
type Server struct {
	mu    sync.Mutex
	calls []Call

	expectedAuthorization string

	runPolls   int
	autoCreate bool

	tables map[string]*table
	faults []fault
}

type table struct {
	id           string
	name         string
	rows         []*row
	pendingPolls int
}

type row struct {
	id       string
	input    string
	data     map[string]any
	enriched bool
}

type fault struct {
	method     string
	pathPrefix string
	status     int
}

// New constructs a mock server with no tables. Unknown tables are created on first use.
func New() *Server {
	return &Server{
		runPolls:   1,
		autoCreate: true,
		tables:     make(map[string]*table),
	}
}

// CreateTable registers a table.
func (s *Server) CreateTable(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tableLocked(id).name = name
}

// AutoCreateTables controls whether unknown table ids are created on first use (default) or 404.
func (s *Server) AutoCreateTables(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoCreate = enabled
}

// SetRunPolls sets how many table reads report "running" after a run starts.
// A negative value keeps tables running forever.
func (s *Server) SetRunPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runPolls = n
}

// RequireBearerToken enforces that requests include an Authorization header matching the token.
// If token is empty, authorization is not enforced.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// FailNext makes the next request matching method and path prefix fail with status.
// Faults are consumed in the order they were added.
func (s *Server) FailNext(method, pathPrefix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault{method: method, pathPrefix: pathPrefix, status: status})
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount counts recorded calls matching method and path prefix.
func (s *Server) CallCount(method, pathPrefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method && strings.HasPrefix(c.Path, pathPrefix) {
			n++
		}
	}
	return n
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/tables", s.handleListTables)
	mux.HandleFunc("GET /v1/tables/{tableId}", s.handleGetTable)
	mux.HandleFunc("POST /v1/tables/{tableId}/rows", s.handleAddRows)
	mux.HandleFunc("GET /v1/tables/{tableId}/rows/{rowId}", s.handleGetRow)
	mux.HandleFunc("GET /v1/tables/{tableId}/data", s.handleGetData)
	return s.middleware(mux)
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
		expected := s.expectedAuthorization
		status := s.takeFaultLocked(r)
		s.mu.Unlock()

		if expected != "" && r.Header.Get("Authorization") != expected {
			writeError(w, http.StatusUnauthorized, "Invalid or missing API token")
			return
		}
		if status != 0 {
			writeError(w, status, fmt.Sprintf("injected failure (%d)", status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) takeFaultLocked(r *http.Request) int {
	for i, f := range s.faults {
		if f.method != "" && f.method != r.Method {
			continue
		}
		if !strings.HasPrefix(r.URL.Path, f.pathPrefix) {
			continue
		}
		s.faults = slices.Delete(s.faults, i, i+1)
		return f.status
	}
	return 0
}

func (s *Server) tableLocked(id string) *table {
	t, ok := s.tables[id]
	if !ok {
		t = &table{id: id, name: id}
		s.tables[id] = t
	}
	return t
}

// lookupLocked returns the table, creating it when auto-create is on.
func (s *Server) lookupLocked(id string) (*table, bool) {
	if t, ok := s.tables[id]; ok {
		return t, true
	}
	if !s.autoCreate {
		return nil, false
	}
	return s.tableLocked(id), true
}

func (s *Server) handleListTables(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	ids := lo.Keys(s.tables)
	slices.Sort(ids)
	out := lo.Map(ids, func(id string, _ int) map[string]any {
		return s.tables[id].summaryLocked(false)
	})
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("tableId")

	s.mu.Lock()
	t, ok := s.lookupLocked(id)
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Table not found")
		return
	}
	running := false
	switch {
	case t.pendingPolls < 0:
		running = true
	case t.pendingPolls > 0:
		t.pendingPolls--
		running = true
	default:
		s.finishRunLocked(t)
	}
	out := t.summaryLocked(running)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

type addRowsReq struct {
	Rows []struct {
		Data map[string]any `json:"data"`
	} `json:"rows"`
	Run bool `json:"run"`
}

func (s *Server) handleAddRows(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("tableId")

	var req addRowsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	if len(req.Rows) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "rows must not be empty")
		return
	}

	s.mu.Lock()
	t, ok := s.lookupLocked(id)
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Table not found")
		return
	}
	out := make([]map[string]any, 0, len(req.Rows))
	for _, in := range req.Rows {
		input, _ := in.Data["input"].(string)
		rw := &row{
			id:    uuid.NewString(),
			input: input,
			data:  map[string]any{"input": input},
		}
		t.rows = append(t.rows, rw)
		out = append(out, rw.jsonLocked())
	}
	if req.Run {
		t.pendingPolls = s.runPolls
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("tableId")
	rowID := r.PathValue("rowId")

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Table not found")
		return
	}
	for _, rw := range t.rows {
		if rw.id == rowID {
			writeJSON(w, http.StatusOK, rw.jsonLocked())
			return
		}
	}
	writeError(w, http.StatusNotFound, "Row not found")
}

func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("tableId")
	offset, err := queryInt(r.URL.Query(), "offset")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	limit, err := queryInt(r.URL.Query(), "limit")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.mu.Lock()
	t, ok := s.tables[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Table not found")
		return
	}
	total := len(t.rows)
	start := min(offset, total)
	end := total
	if limit > 0 {
		end = min(start+limit, total)
	}
	rows := make([]map[string]any, 0, end-start)
	for _, rw := range t.rows[start:end] {
		rows = append(rows, rw.jsonLocked())
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"rows":   rows,
		"total":  total,
		"offset": start,
	})
}

func (s *Server) finishRunLocked(t *table) {
	for _, rw := range t.rows {
		if rw.enriched {
			continue
		}
		for k, v := range DefaultEnrich(rw.input) {
			rw.data[k] = v
		}
		rw.enriched = true
	}
}

func (t *table) summaryLocked(running bool) map[string]any {
	status := "idle"
	if running {
		status = "running"
	}
	return map[string]any{
		"id":   t.id,
		"name": t.name,
		"status": map[string]any{
			"run_status": status,
			"num_rows":   len(t.rows),
		},
	}
}

func (rw *row) jsonLocked() map[string]any {
	data := make(map[string]any, len(rw.data))
	for k, v := range rw.data {
		data[k] = v
	}
	status := "pending"
	if rw.enriched {
		status = "done"
	}
	return map[string]any{
		"id":     rw.id,
		"status": status,
		"data":   data,
	}
}

// DefaultEnrich derives a plausible company name and domain from a website or name input.
func DefaultEnrich(input string) map[string]any {
	in := strings.TrimSpace(input)
	host := in
	if u, err := url.Parse(in); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")

	name := in
	domain := ""
	if strings.Contains(host, ".") && !strings.Contains(host, " ") {
		domain = host
		label := strings.SplitN(host, ".", 2)[0]
		if label != "" {
			name = strings.ToUpper(label[:1]) + label[1:]
		}
	}
	return map[string]any{
		"company_name": name,
		"domain":       domain,
	}
}

func queryInt(q url.Values, key string) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
