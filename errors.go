package main

import (
	"errors"
	"net/http"

	"pacsbridge-rest/archive"
)

// ErrConfigMissing means no archive is configured; every request that
// needs the archive fails with it until configuration is fixed.
var ErrConfigMissing = errors.New("archive not configured")

// ErrHierarchyIncomplete means a parent link or UID was missing while
// walking instance -> series -> study, so standardized addressing is
// unavailable for that instance.
var ErrHierarchyIncomplete = errors.New("instance hierarchy incomplete")

// ErrAllStrategiesExhausted means every retrieval strategy in a fallback
// chain failed.
var ErrAllStrategiesExhausted = errors.New("all retrieval strategies exhausted")

// statusForError maps an error to the HTTP status surfaced to the caller.
// Not-found beats unreachable beats exhausted, matching the nearest
// upstream condition.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrConfigMissing):
		return http.StatusServiceUnavailable
	case errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, archive.ErrUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, ErrHierarchyIncomplete):
		return http.StatusBadGateway
	case errors.Is(err, ErrAllStrategiesExhausted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the short machine-readable code used in error bodies.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrConfigMissing):
		return "archive_not_configured"
	case errors.Is(err, archive.ErrNotFound):
		return "upstream_not_found"
	case errors.Is(err, archive.ErrUnreachable):
		return "upstream_unreachable"
	case errors.Is(err, ErrHierarchyIncomplete):
		return "hierarchy_incomplete"
	case errors.Is(err, ErrAllStrategiesExhausted):
		return "all_strategies_exhausted"
	default:
		return "server_error"
	}
}
