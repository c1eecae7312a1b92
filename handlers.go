package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// writeJSON is a small helper to send JSON responses with status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON error: %v", err)
	}
}

// writeError maps err to its status code and emits the structured error
// body.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), map[string]interface{}{
		"error":  errorCode(err),
		"detail": err.Error(),
	})
}

// requestBaseURL reconstructs the external base URL of this gateway so
// payload references point back at it.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if v := r.Header.Get("X-Forwarded-Proto"); v != "" {
		scheme = v
	}
	return scheme + "://" + r.Host
}

// authorized runs the shared auth preamble; it writes the 401 itself and
// returns false when no user can be determined.
func (h *Handlers) authorized(w http.ResponseWriter, r *http.Request) bool {
	if _, err := h.GetUserIDFromRequest(r.Context(), r); err != nil {
		log.Printf("auth: %v", err)
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"error": "unauthorized",
		})
		return false
	}
	return true
}

// HealthzHandler implements GET /healthz (unauthenticated liveness).
func (h *Handlers) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// InstancesHandler implements:
//   - GET /instances/{id}/metadata
//   - GET /instances/{id}/frames/{n}
//   - GET /instances/{id}/retrieve?strategy=auto|direct-file|raw-attachment|standard-web
//
// It routes to the appropriate sub-handler based on the URL path.
func (h *Handlers) InstancesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := r.URL.Path
	const prefix = "/instances/"
	if !strings.HasPrefix(path, prefix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	suffix := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if suffix == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "instance_id required",
		})
		return
	}

	parts := strings.Split(suffix, "/")

	if h.Archive == nil {
		writeError(w, ErrConfigMissing)
		return
	}
	if !h.authorized(w, r) {
		return
	}

	// /instances/{id}/metadata
	if len(parts) == 2 && parts[1] == "metadata" {
		h.handleInstanceMetadata(w, r, parts[0])
		return
	}

	// /instances/{id}/frames/{n}
	if len(parts) == 3 && parts[1] == "frames" {
		h.handleInstanceFrame(w, r, parts[0], parts[2])
		return
	}

	// /instances/{id}/retrieve
	if len(parts) == 2 && parts[1] == "retrieve" {
		h.handleInstanceRetrieve(w, r, parts[0])
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

// handleInstanceMetadata fetches the instance's raw attributes and
// auxiliary views from the archive, runs the normalization and
// dimension-resolution pipeline, and returns one wire-format dataset.
func (h *Handlers) handleInstanceMetadata(w http.ResponseWriter, r *http.Request, instanceID string) {
	ctx := r.Context()

	inst, err := h.Archive.Instance(ctx, instanceID)
	if err != nil {
		log.Printf("handleInstanceMetadata Instance error: %v", err)
		writeError(w, err)
		return
	}

	rawTags, err := h.Archive.InstanceTags(ctx, instanceID)
	if err != nil {
		log.Printf("handleInstanceMetadata InstanceTags error: %v", err)
		writeError(w, err)
		return
	}

	// The auxiliary views only improve dimension resolution; their
	// failures are absorbed, never fatal for the response.
	simplified, err := h.Archive.InstanceSimplifiedTags(ctx, instanceID)
	if err != nil {
		log.Printf("handleInstanceMetadata InstanceSimplifiedTags error: %v", err)
		simplified = nil
	}
	stats, err := h.Archive.InstanceStatistics(ctx, instanceID)
	if err != nil {
		log.Printf("handleInstanceMetadata InstanceStatistics error: %v", err)
		stats = nil
	}

	pixelDataURI := requestBaseURL(r) + "/instances/" + instanceID + "/frames/1"
	ds := NormalizeTags(rawTags, pixelDataURI)

	resolver := DimensionResolver{SizeInference: h.Cfg.SizeInference}
	dims := resolver.Resolve(inst, rawTags, simplified, stats)
	ds[tagKey(tag.Rows)] = Element{VR: VRUnsignedShort, Value: []interface{}{dims.Rows}}
	ds[tagKey(tag.Columns)] = Element{VR: VRUnsignedShort, Value: []interface{}{dims.Columns}}

	w.Header().Set("Content-Type", "application/dicom+json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode([]Dataset{ds}); err != nil {
		log.Printf("handleInstanceMetadata encode error: %v", err)
	}
}

// handleInstanceFrame streams one frame's bytes through the bounded
// fallback chain.
func (h *Handlers) handleInstanceFrame(w http.ResponseWriter, r *http.Request, instanceID, frame string) {
	frameNumber, err := strconv.Atoi(frame)
	if err != nil || frameNumber < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "frame number must be a positive integer",
		})
		return
	}

	streamer := &FrameStreamer{
		Archive:   h.Archive,
		Hierarchy: NewHierarchyResolver(h.Archive),
	}
	if err := streamer.StreamFrame(r.Context(), w, instanceID, frameNumber); err != nil {
		log.Printf("handleInstanceFrame error: %v", err)
		writeError(w, err)
	}
}

// handleInstanceRetrieve relays the whole instance via the selected or
// automatic strategy.
func (h *Handlers) handleInstanceRetrieve(w http.ResponseWriter, r *http.Request, instanceID string) {
	strategy := h.Cfg.DefaultStrategy
	if raw := r.URL.Query().Get("strategy"); raw != "" {
		parsed, err := ParseStrategy(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		strategy = parsed
	}

	router := &StrategyRouter{
		Archive:   h.Archive,
		Hierarchy: NewHierarchyResolver(h.Archive),
	}
	resp, used, err := router.Retrieve(r.Context(), instanceID, strategy, r.Header.Get("Accept"))
	if err != nil {
		log.Printf("handleInstanceRetrieve error: %v", err)
		writeError(w, err)
		return
	}
	defer resp.Body.Close()

	// Pass through upstream Content-Type and (if present) Content-Length.
	for k, values := range resp.Header {
		if strings.EqualFold(k, "Content-Type") || strings.EqualFold(k, "Content-Length") {
			for _, v := range values {
				w.Header().Add(k, v)
			}
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/dicom")
	}
	w.Header().Set("X-Retrieval-Strategy", string(used))

	w.WriteHeader(http.StatusOK)
	buf := make([]byte, streamChunkSize)
	if _, err := io.CopyBuffer(w, resp.Body, buf); err != nil {
		log.Printf("handleInstanceRetrieve copy error: %v", err)
	}
}

// StudiesHandler implements GET /studies/{studyID}/series: a DICOM JSON
// array describing the series within the study, for viewer navigation.
func (h *Handlers) StudiesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := r.URL.Path
	const prefix = "/studies/"
	if !strings.HasPrefix(path, prefix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, prefix), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "series" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	studyID := parts[0]

	if h.Archive == nil {
		writeError(w, ErrConfigMissing)
		return
	}
	if !h.authorized(w, r) {
		return
	}

	ctx := r.Context()
	study, err := h.Archive.Study(ctx, studyID)
	if err != nil {
		log.Printf("StudiesHandler Study error: %v", err)
		writeError(w, err)
		return
	}
	studyUID := study.MainDicomTags["StudyInstanceUID"]

	out := make([]Dataset, 0, len(study.Series))
	for _, seriesID := range study.Series {
		series, err := h.Archive.Series(ctx, seriesID)
		if err != nil {
			log.Printf("StudiesHandler Series %s error: %v", seriesID, err)
			continue
		}

		ds := Dataset{}
		ds[tagKey(tag.StudyInstanceUID)] = Element{VR: VRUniqueIdentifier, Value: []interface{}{studyUID}}
		ds[tagKey(tag.SeriesInstanceUID)] = Element{VR: VRUniqueIdentifier, Value: []interface{}{series.MainDicomTags["SeriesInstanceUID"]}}
		if modality := series.MainDicomTags["Modality"]; modality != "" {
			ds[tagKey(tag.Modality)] = Element{VR: VRCodeString, Value: []interface{}{modality}}
		}
		if desc := series.MainDicomTags["SeriesDescription"]; desc != "" {
			ds[tagKey(tag.SeriesDescription)] = Element{VR: VRLongString, Value: []interface{}{desc}}
		}
		out = append(out, ds)
	}

	w.Header().Set("Content-Type", "application/dicom+json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Printf("StudiesHandler encode error: %v", err)
	}
}

// SeriesHandler implements GET /series/{seriesID}/instances: a DICOM
// JSON array describing the instances within the series.
func (h *Handlers) SeriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := r.URL.Path
	const prefix = "/series/"
	if !strings.HasPrefix(path, prefix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, prefix), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "instances" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	seriesID := parts[0]

	if h.Archive == nil {
		writeError(w, ErrConfigMissing)
		return
	}
	if !h.authorized(w, r) {
		return
	}

	ctx := r.Context()
	series, err := h.Archive.Series(ctx, seriesID)
	if err != nil {
		log.Printf("SeriesHandler Series error: %v", err)
		writeError(w, err)
		return
	}
	seriesUID := series.MainDicomTags["SeriesInstanceUID"]

	// Study UID is nice to have for the viewer; its absence doesn't
	// block the listing.
	studyUID := ""
	if series.ParentStudy != "" {
		if study, err := h.Archive.Study(ctx, series.ParentStudy); err == nil {
			studyUID = study.MainDicomTags["StudyInstanceUID"]
		} else {
			log.Printf("SeriesHandler Study %s error: %v", series.ParentStudy, err)
		}
	}

	out := make([]Dataset, 0, len(series.Instances))
	for _, instanceID := range series.Instances {
		inst, err := h.Archive.Instance(ctx, instanceID)
		if err != nil {
			log.Printf("SeriesHandler Instance %s error: %v", instanceID, err)
			continue
		}
		sopUID := inst.MainDicomTags["SOPInstanceUID"]
		if sopUID == "" {
			continue
		}

		ds := Dataset{}
		if studyUID != "" {
			ds[tagKey(tag.StudyInstanceUID)] = Element{VR: VRUniqueIdentifier, Value: []interface{}{studyUID}}
		}
		ds[tagKey(tag.SeriesInstanceUID)] = Element{VR: VRUniqueIdentifier, Value: []interface{}{seriesUID}}
		ds[tagKey(tag.SOPInstanceUID)] = Element{VR: VRUniqueIdentifier, Value: []interface{}{sopUID}}
		if num := inst.MainDicomTags["InstanceNumber"]; num != "" {
			ds[tagKey(tag.InstanceNumber)] = Element{VR: VRIntegerString, Value: []interface{}{num}}
		}
		if frames := inst.FrameCount(); frames > 1 {
			ds[tagKey(tag.NumberOfFrames)] = Element{VR: VRIntegerString, Value: []interface{}{frames}}
		}
		out = append(out, ds)
	}

	w.Header().Set("Content-Type", "application/dicom+json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Printf("SeriesHandler encode error: %v", err)
	}
}
