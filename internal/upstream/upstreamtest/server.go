// Package upstreamtest provides an in-memory fake of the DigitalOcean
// domains API for tests.
package upstreamtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/digitalocean/godo"
)

// Failure injects an error response; return status 0 to let the call through.
type Failure func(method, path string) (status int, message string)

type Server struct {
	*httptest.Server

	Zone  string
	Token string
	// PageSize caps records per page regardless of per_page.
	PageSize int
	Fail     Failure

	mu      sync.Mutex
	records []godo.DomainRecord
	nextID  int
	calls   atomic.Int64
}

// NewServer starts a fake serving one zone, accepting only token.
func NewServer(t *testing.T, zone, token string) *Server {
	t.Helper()
	s := &Server{Zone: zone, Token: token, nextID: 1000}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/domains/{zone}", s.getDomain)
	mux.HandleFunc("GET /v2/domains/{zone}/records", s.listRecords)
	mux.HandleFunc("POST /v2/domains/{zone}/records", s.createRecord)
	mux.HandleFunc("PUT /v2/domains/{zone}/records/{id}", s.editRecord)
	mux.HandleFunc("DELETE /v2/domains/{zone}/records/{id}", s.deleteRecord)

	s.Server = httptest.NewServer(s.middleware(mux))
	t.Cleanup(s.Close)
	return s
}

// BaseURL is suitable for upstream.Options.BaseURL.
func (s *Server) BaseURL() string {
	return s.URL + "/"
}

// Calls is the number of requests received so far.
func (s *Server) Calls() int {
	return int(s.calls.Load())
}

// Seed adds a record directly, returning its id.
func (s *Server) Seed(r godo.DomainRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r.ID = s.nextID
	s.records = append(s.records, r)
	return r.ID
}

// Records returns a snapshot of the stored records.
func (s *Server) Records() []godo.DomainRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]godo.DomainRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Matching returns the stored records with the given name and type.
func (s *Server) Matching(name, recordType string) []godo.DomainRecord {
	var out []godo.DomainRecord
	for _, r := range s.Records() {
		if r.Name == name && r.Type == recordType {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Unable to authenticate you")
			return
		}
		if s.Fail != nil {
			if status, msg := s.Fail(r.Method, r.URL.Path); status != 0 {
				writeError(w, status, "injected", msg)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) zoneOK(w http.ResponseWriter, r *http.Request) bool {
	if r.PathValue("zone") != s.Zone {
		writeError(w, http.StatusNotFound, "not_found", "The resource you were accessing could not be found.")
		return false
	}
	return true
}

func (s *Server) getDomain(w http.ResponseWriter, r *http.Request) {
	if !s.zoneOK(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"domain": godo.Domain{Name: s.Zone, TTL: 1800},
	})
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	if !s.zoneOK(w, r) {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if size < 1 {
		size = 20
	}
	if s.PageSize > 0 && s.PageSize < size {
		size = s.PageSize
	}

	all := s.Records()
	lastPage := (len(all) + size - 1) / size
	if lastPage == 0 {
		lastPage = 1
	}
	start := (page - 1) * size
	end := start + size
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}

	pageURL := func(n int) string {
		return fmt.Sprintf("http://%s%s?page=%d&per_page=%d", r.Host, r.URL.Path, n, size)
	}
	pages := &godo.Pages{}
	if page > 1 {
		pages.First = pageURL(1)
		pages.Prev = pageURL(page - 1)
	}
	if page < lastPage {
		pages.Next = pageURL(page + 1)
		pages.Last = pageURL(lastPage)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"domain_records": all[start:end],
		"links":          godo.Links{Pages: pages},
		"meta":           godo.Meta{Total: len(all)},
	})
}

func (s *Server) createRecord(w http.ResponseWriter, r *http.Request) {
	if !s.zoneOK(w, r) {
		return
	}
	var req godo.DomainRecordEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Type == "" || req.Data == "" {
		writeError(w, http.StatusUnprocessableEntity, "unprocessable_entity", "Data needs to be provided.")
		return
	}
	id := s.Seed(fromRequest(req))
	writeJSON(w, http.StatusCreated, map[string]any{"domain_record": s.find(id)})
}

func (s *Server) editRecord(w http.ResponseWriter, r *http.Request) {
	if !s.zoneOK(w, r) {
		return
	}
	id, _ := strconv.Atoi(r.PathValue("id"))
	var req godo.DomainRecordEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "not_found", "The resource you were accessing could not be found.")
		return
	}
	updated := fromRequest(req)
	updated.ID = id
	s.records[idx] = updated
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"domain_record": updated})
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	if !s.zoneOK(w, r) {
		return
	}
	id, _ := strconv.Atoi(r.PathValue("id"))

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "not_found", "The resource you were accessing could not be found.")
		return
	}
	s.records = append(s.records[:idx], s.records[idx+1:]...)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) find(id int) godo.DomainRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(id); idx >= 0 {
		return s.records[idx]
	}
	return godo.DomainRecord{}
}

// indexOf must be called with mu held.
func (s *Server) indexOf(id int) int {
	for i, r := range s.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func fromRequest(req godo.DomainRecordEditRequest) godo.DomainRecord {
	return godo.DomainRecord{
		Type:     req.Type,
		Name:     req.Name,
		Data:     req.Data,
		Priority: req.Priority,
		Port:     req.Port,
		TTL:      req.TTL,
		Weight:   req.Weight,
		Flags:    req.Flags,
		Tag:      req.Tag,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, id, message string) {
	writeJSON(w, status, map[string]string{"id": id, "message": message})
}
