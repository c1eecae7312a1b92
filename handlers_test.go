package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"pacsbridge-rest/archive"
)

func newTestHandlers(stub *stubArchive) *Handlers {
	h := &Handlers{
		Cfg: Config{DefaultStrategy: StrategyAutomatic},
	}
	if stub != nil {
		h.Archive = stub.client
	}
	return h
}

// asUser adds the dev identity header so the request clears auth.
func asUser(r *http.Request) *http.Request {
	r.Header.Set("X-User-Id", "test-user")
	return r
}

func decodeDatasets(t *testing.T, rec *httptest.ResponseRecorder) []Dataset {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/dicom+json" {
		t.Fatalf("Content-Type = %q, want application/dicom+json", ct)
	}
	var out []Dataset
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestInstanceMetadataEndpoint(t *testing.T) {
	stub := newStubArchive(t)
	stub.handleJSON("/instances/i1", archive.Instance{
		ID:           "i1",
		ParentSeries: "series-1",
		MainDicomTags: map[string]string{
			"SOPInstanceUID": "1.1.instance",
			"Rows":           "768",
			"Columns":        "1024",
		},
	})
	stub.handleJSON("/instances/i1/tags", map[string]interface{}{
		"0008,0018": nativeEntry("String", "1.1.instance"),
		"0008,0060": nativeEntry("String", "MR"),
	})
	stub.handleJSON("/instances/i1/simplified-tags", map[string]interface{}{})
	stub.handleJSON("/instances/i1/statistics", map[string]interface{}{
		"UncompressedSize": "524288",
		"CompressedSize":   "524288",
	})

	req := asUser(httptest.NewRequest(http.MethodGet, "http://gw.example/instances/i1/metadata", nil))
	rec := httptest.NewRecorder()
	newTestHandlers(stub).InstancesHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	datasets := decodeDatasets(t, rec)
	if len(datasets) != 1 {
		t.Fatalf("got %d datasets, want exactly 1", len(datasets))
	}
	ds := datasets[0]

	if el := ds["00080060"]; len(el.Value) != 1 || el.Value[0] != "MR" {
		t.Errorf("Modality = %v, want [MR]", el.Value)
	}
	if el := ds["00280010"]; el.VR != "US" || len(el.Value) != 1 || el.Value[0] != float64(768) {
		t.Errorf("Rows = %+v, want US [768]", el)
	}
	if el := ds["00280011"]; len(el.Value) != 1 || el.Value[0] != float64(1024) {
		t.Errorf("Columns = %+v, want [1024]", el)
	}

	pixel := ds["7fe00010"]
	if pixel.BulkDataURI != "http://gw.example/instances/i1/frames/1" {
		t.Errorf("pixel BulkDataURI = %q", pixel.BulkDataURI)
	}
	if pixel.Value != nil {
		t.Errorf("pixel data carried inline Value: %v", pixel.Value)
	}

	// A required default fills in what the archive never sent.
	if el := ds["00100010"]; len(el.Value) != 1 || el.Value[0] != "ANONYMOUS" {
		t.Errorf("PatientName = %v, want injected [ANONYMOUS]", el.Value)
	}
}

func TestInstanceMetadataSurvivesAuxiliaryFailures(t *testing.T) {
	stub := newStubArchive(t)
	stub.handleJSON("/instances/i1", archive.Instance{
		ID:            "i1",
		MainDicomTags: map[string]string{},
	})
	stub.handleJSON("/instances/i1/tags", map[string]interface{}{})
	// simplified-tags and statistics unregistered: both 404.

	req := asUser(httptest.NewRequest(http.MethodGet, "http://gw.example/instances/i1/metadata", nil))
	rec := httptest.NewRecorder()
	newTestHandlers(stub).InstancesHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite auxiliary 404s", rec.Code)
	}
	ds := decodeDatasets(t, rec)[0]
	if el := ds["00280010"]; len(el.Value) != 1 || el.Value[0] != float64(512) {
		t.Errorf("Rows = %v, want fallback [512]", el.Value)
	}
}

func TestInstanceMetadataNotFound(t *testing.T) {
	stub := newStubArchive(t)

	req := asUser(httptest.NewRequest(http.MethodGet, "http://gw.example/instances/ghost/metadata", nil))
	rec := httptest.NewRecorder()
	newTestHandlers(stub).InstancesHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != "upstream_not_found" {
		t.Errorf("error code = %v, want upstream_not_found", body["error"])
	}
}

func TestInstancesHandlerRequiresAuth(t *testing.T) {
	stub := newStubArchive(t)

	req := httptest.NewRequest(http.MethodGet, "http://gw.example/instances/i1/metadata", nil)
	rec := httptest.NewRecorder()
	newTestHandlers(stub).InstancesHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestInstancesHandlerWithoutArchive(t *testing.T) {
	req := asUser(httptest.NewRequest(http.MethodGet, "http://gw.example/instances/i1/metadata", nil))
	rec := httptest.NewRecorder()
	newTestHandlers(nil).InstancesHandler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != "archive_not_configured" {
		t.Errorf("error code = %v, want archive_not_configured", body["error"])
	}
}

func TestInstanceFrameEndpointValidatesNumber(t *testing.T) {
	stub := newStubArchive(t)

	for _, frame := range []string{"0", "-1", "two"} {
		req := asUser(httptest.NewRequest(http.MethodGet, "http://gw.example/instances/i1/frames/"+frame, nil))
		rec := httptest.NewRecorder()
		newTestHandlers(stub).InstancesHandler(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("frame %q: status = %d, want 400", frame, rec.Code)
		}
	}
}

func TestInstanceFrameEndpointStreams(t *testing.T) {
	stub := newStubArchive(t)
	stub.handleJSON("/instances/i1", archive.Instance{
		ID:            "i1",
		MainDicomTags: map[string]string{"NumberOfFrames": "4"},
	})
	stub.handleBytes("/instances/i1/frames/1/raw", "application/octet-stream", []byte("frame-2"))

	req := asUser(httptest.NewRequest(http.MethodGet, "http://gw.example/instances/i1/frames/2", nil))
	rec := httptest.NewRecorder()
	newTestHandlers(stub).InstancesHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "frame-2" {
		t.Errorf("body = %q, want frame-2", rec.Body.String())
	}
}

func TestInstanceRetrieveEndpoint(t *testing.T) {
	stub := newStubArchive(t)
	stub.handleBytes("/instances/i1/file", "application/dicom", []byte("dicom-bytes"))

	req := asUser(httptest.NewRequest(http.MethodGet,
		"http://gw.example/instances/i1/retrieve?strategy=direct-file", nil))
	rec := httptest.NewRecorder()
	newTestHandlers(stub).InstancesHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "dicom-bytes" {
		t.Errorf("body = %q, want dicom-bytes", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/dicom" {
		t.Errorf("Content-Type = %q, want upstream application/dicom", ct)
	}
	if used := rec.Header().Get("X-Retrieval-Strategy"); used != "direct-file" {
		t.Errorf("X-Retrieval-Strategy = %q, want direct-file", used)
	}
}

func TestInstanceRetrieveExplicitStrategyMapsUpstreamNotFound(t *testing.T) {
	// Archive has no such instance; the explicit strategy's 404 must
	// surface as 404/upstream_not_found, not a generic 500.
	stub := newStubArchive(t)

	req := asUser(httptest.NewRequest(http.MethodGet,
		"http://gw.example/instances/i1/retrieve?strategy=direct-file", nil))
	rec := httptest.NewRecorder()
	newTestHandlers(stub).InstancesHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != "upstream_not_found" {
		t.Errorf("error code = %v, want upstream_not_found", body["error"])
	}
}

func TestInstanceRetrieveRejectsUnknownStrategy(t *testing.T) {
	stub := newStubArchive(t)

	req := asUser(httptest.NewRequest(http.MethodGet,
		"http://gw.example/instances/i1/retrieve?strategy=fastest", nil))
	rec := httptest.NewRecorder()
	newTestHandlers(stub).InstancesHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStudiesHandlerListsSeries(t *testing.T) {
	stub := newStubArchive(t)
	stub.handleJSON("/studies/st1", archive.Study{
		ID:            "st1",
		Series:        []string{"se1", "se2"},
		MainDicomTags: map[string]string{"StudyInstanceUID": "1.1.study"},
	})
	stub.handleJSON("/series/se1", archive.Series{
		ID: "se1",
		MainDicomTags: map[string]string{
			"SeriesInstanceUID": "1.1.series.1",
			"Modality":          "CT",
			"SeriesDescription": "Axial",
		},
	})
	// se2 is broken in the archive; the listing skips it.

	req := asUser(httptest.NewRequest(http.MethodGet, "http://gw.example/studies/st1/series", nil))
	rec := httptest.NewRecorder()
	newTestHandlers(stub).StudiesHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	datasets := decodeDatasets(t, rec)
	if len(datasets) != 1 {
		t.Fatalf("got %d series datasets, want 1", len(datasets))
	}
	ds := datasets[0]
	if el := ds["0020000d"]; len(el.Value) != 1 || el.Value[0] != "1.1.study" {
		t.Errorf("StudyInstanceUID = %v", el.Value)
	}
	if el := ds["0020000e"]; len(el.Value) != 1 || el.Value[0] != "1.1.series.1" {
		t.Errorf("SeriesInstanceUID = %v", el.Value)
	}
	if el := ds["00080060"]; len(el.Value) != 1 || el.Value[0] != "CT" {
		t.Errorf("Modality = %v", el.Value)
	}
}

func TestSeriesHandlerListsInstances(t *testing.T) {
	stub := newStubArchive(t)
	stub.handleJSON("/series/se1", archive.Series{
		ID:            "se1",
		ParentStudy:   "st1",
		Instances:     []string{"i1"},
		MainDicomTags: map[string]string{"SeriesInstanceUID": "1.1.series"},
	})
	stub.handleJSON("/studies/st1", archive.Study{
		ID:            "st1",
		MainDicomTags: map[string]string{"StudyInstanceUID": "1.1.study"},
	})
	stub.handleJSON("/instances/i1", archive.Instance{
		ID: "i1",
		MainDicomTags: map[string]string{
			"SOPInstanceUID": "1.1.instance",
			"InstanceNumber": "7",
			"NumberOfFrames": "12",
		},
	})

	req := asUser(httptest.NewRequest(http.MethodGet, "http://gw.example/series/se1/instances", nil))
	rec := httptest.NewRecorder()
	newTestHandlers(stub).SeriesHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	datasets := decodeDatasets(t, rec)
	if len(datasets) != 1 {
		t.Fatalf("got %d instance datasets, want 1", len(datasets))
	}
	ds := datasets[0]
	if el := ds["00080018"]; len(el.Value) != 1 || el.Value[0] != "1.1.instance" {
		t.Errorf("SOPInstanceUID = %v", el.Value)
	}
	if el := ds["0020000d"]; len(el.Value) != 1 || el.Value[0] != "1.1.study" {
		t.Errorf("StudyInstanceUID = %v", el.Value)
	}
	if el := ds["00200013"]; len(el.Value) != 1 || el.Value[0] != "7" {
		t.Errorf("InstanceNumber = %v", el.Value)
	}
	if el := ds["00280008"]; len(el.Value) != 1 || el.Value[0] != float64(12) {
		t.Errorf("NumberOfFrames = %v", el.Value)
	}
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://gw.example/healthz", nil)
	rec := httptest.NewRecorder()
	newTestHandlers(nil).HealthzHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/instances/", newTestHandlers(nil).InstancesHandler)

	req := httptest.NewRequest(http.MethodOptions, "http://gw.example/instances/i1/metadata", nil)
	req.Header.Set("Origin", "https://viewer.example")
	rec := httptest.NewRecorder()
	withCORS(mux).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Access-Control-Allow-Origin missing")
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("Access-Control-Allow-Methods missing")
	}
}

func TestInstancesHandlerRejectsNonGET(t *testing.T) {
	req := asUser(httptest.NewRequest(http.MethodPost, "http://gw.example/instances/i1/metadata", nil))
	rec := httptest.NewRecorder()
	newTestHandlers(nil).InstancesHandler(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
