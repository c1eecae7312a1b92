package main

import (
	"context"
	"fmt"

	"pacsbridge-rest/archive"
)

// InstanceAddress carries everything needed to address one instance
// through the archive's standards-compliant web endpoint.
type InstanceAddress struct {
	SeriesID string
	StudyID  string

	StudyUID    string
	SeriesUID   string
	InstanceUID string
}

// HierarchyResolver recovers an instance's series/study identifiers and
// UID triple by walking the archive's containment hierarchy. Resolved
// addresses are memoized for the resolver's lifetime, which is one
// request; a frame fallback chain walks the hierarchy at most once.
//
// Not safe for concurrent use; create one per request.
type HierarchyResolver struct {
	archive *archive.Client
	cache   map[string]*InstanceAddress
}

// NewHierarchyResolver creates a resolver bound to the given archive.
func NewHierarchyResolver(c *archive.Client) *HierarchyResolver {
	return &HierarchyResolver{
		archive: c,
		cache:   make(map[string]*InstanceAddress),
	}
}

// Resolve walks instance -> series -> study and returns the full
// address. A missing link at any hop is terminal for this resolution:
// callers must treat the error as "standardized addressing unavailable"
// and fall back to another retrieval strategy.
func (h *HierarchyResolver) Resolve(ctx context.Context, instanceID string) (*InstanceAddress, error) {
	if addr, ok := h.cache[instanceID]; ok {
		return addr, nil
	}

	inst, err := h.archive.Instance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("resolve instance %s: %w", instanceID, err)
	}
	instanceUID := inst.MainDicomTags["SOPInstanceUID"]
	if inst.ParentSeries == "" || instanceUID == "" {
		return nil, fmt.Errorf("%w: instance %s has no parent series or SOP instance UID", ErrHierarchyIncomplete, instanceID)
	}

	series, err := h.archive.Series(ctx, inst.ParentSeries)
	if err != nil {
		return nil, fmt.Errorf("resolve series %s: %w", inst.ParentSeries, err)
	}
	seriesUID := series.MainDicomTags["SeriesInstanceUID"]
	if series.ParentStudy == "" || seriesUID == "" {
		return nil, fmt.Errorf("%w: series %s has no parent study or series UID", ErrHierarchyIncomplete, inst.ParentSeries)
	}

	study, err := h.archive.Study(ctx, series.ParentStudy)
	if err != nil {
		return nil, fmt.Errorf("resolve study %s: %w", series.ParentStudy, err)
	}
	studyUID := study.MainDicomTags["StudyInstanceUID"]
	if studyUID == "" {
		return nil, fmt.Errorf("%w: study %s has no study UID", ErrHierarchyIncomplete, series.ParentStudy)
	}

	addr := &InstanceAddress{
		SeriesID:    inst.ParentSeries,
		StudyID:     series.ParentStudy,
		StudyUID:    studyUID,
		SeriesUID:   seriesUID,
		InstanceUID: instanceUID,
	}
	h.cache[instanceID] = addr
	return addr, nil
}
