package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"pacsbridge-rest/archive"
)

// stubArchive is an in-process archive backend for tests. Register
// handlers per exact path; unregistered paths return 404. Every request
// is counted so tests can assert how often an endpoint was hit.
type stubArchive struct {
	mu     sync.Mutex
	counts map[string]int
	mux    *http.ServeMux

	srv    *httptest.Server
	client *archive.Client
}

func newStubArchive(t *testing.T) *stubArchive {
	t.Helper()

	s := &stubArchive{
		counts: make(map[string]int),
		mux:    http.NewServeMux(),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.counts[r.URL.Path]++
		s.mu.Unlock()
		s.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.srv.Close)

	client, err := archive.NewClient(s.srv.URL, "", "")
	if err != nil {
		t.Fatalf("archive.NewClient: %v", err)
	}
	s.client = client
	return s
}

func (s *stubArchive) handle(path string, h http.HandlerFunc) {
	s.mux.HandleFunc(path, h)
}

// handleJSON registers a path that always answers 200 with v as JSON.
func (s *stubArchive) handleJSON(path string, v interface{}) {
	s.handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			panic(err)
		}
	})
}

// handleBytes registers a path that answers 200 with a fixed binary body.
func (s *stubArchive) handleBytes(path, contentType string, body []byte) {
	s.handle(path, func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.Write(body)
	})
}

// handleStatus registers a path that always answers with the given
// status and an empty body.
func (s *stubArchive) handleStatus(path string, status int) {
	s.handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

func (s *stubArchive) hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[path]
}

// handleHierarchy registers a complete instance -> series -> study walk
// so resolution succeeds with the given UID triple.
func (s *stubArchive) handleHierarchy(instanceID, studyUID, seriesUID, instanceUID string) {
	s.handleJSON("/instances/"+instanceID, archive.Instance{
		ID:           instanceID,
		ParentSeries: "series-1",
		MainDicomTags: map[string]string{
			"SOPInstanceUID": instanceUID,
		},
	})
	s.handleJSON("/series/series-1", archive.Series{
		ID:          "series-1",
		ParentStudy: "study-1",
		MainDicomTags: map[string]string{
			"SeriesInstanceUID": seriesUID,
		},
	})
	s.handleJSON("/studies/study-1", archive.Study{
		ID: "study-1",
		MainDicomTags: map[string]string{
			"StudyInstanceUID": studyUID,
		},
	})
}
