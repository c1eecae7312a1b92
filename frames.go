package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"pacsbridge-rest/archive"
)

// streamChunkSize is the relay buffer size; memory use per stream is
// independent of image size.
const streamChunkSize = 64 * 1024

// FrameStreamer retrieves and streams the byte payload for one image
// frame, falling back through the archive's access shapes when the
// preferred one fails. At most four attempts are made per request.
type FrameStreamer struct {
	Archive   *archive.Client
	Hierarchy *HierarchyResolver
}

// frameAttempt is one step of the bounded fallback chain. forcedType,
// when set, overrides the upstream Content-Type on the relayed response.
type frameAttempt struct {
	name       string
	forcedType string
	fetch      func(ctx context.Context) (*http.Response, error)
}

// StreamFrame streams the payload of the 1-based external frame number
// to w. The upstream frame index is always frameNumber-1. Returns an
// error only when nothing was streamed; a relay failure after the first
// byte is logged and swallowed since the status line is already gone.
func (fs *FrameStreamer) StreamFrame(ctx context.Context, w http.ResponseWriter, instanceID string, frameNumber int) error {
	if frameNumber < 1 {
		return fmt.Errorf("frame number must be >= 1, got %d", frameNumber)
	}
	frameIndex := frameNumber - 1

	inst, err := fs.Archive.Instance(ctx, instanceID)
	if err != nil {
		return err
	}

	var failures []string
	for _, a := range fs.attemptsFor(inst, frameIndex) {
		resp, err := a.fetch(ctx)
		if err != nil {
			log.Printf("FrameStreamer: %s failed for instance %s frame %d: %v", a.name, instanceID, frameNumber, err)
			failures = append(failures, fmt.Sprintf("%s: %v", a.name, err))
			continue
		}
		fs.relay(w, resp, a.forcedType)
		return nil
	}

	return fmt.Errorf("%w: frame %d of instance %s: %s",
		ErrAllStrategiesExhausted, frameNumber, instanceID, strings.Join(failures, "; "))
}

// attemptsFor builds the bounded fallback chain for one frame: the
// multi-frame raw endpoint (only when the instance has more than one
// frame), the single-frame raw-pixel endpoint at the same index, the
// complete encoded file, and finally the standards-addressed URL.
func (fs *FrameStreamer) attemptsFor(inst *archive.Instance, frameIndex int) []frameAttempt {
	instanceID := inst.ID

	var attempts []frameAttempt
	if inst.FrameCount() > 1 {
		attempts = append(attempts, frameAttempt{
			name: "multi-frame-raw",
			fetch: func(ctx context.Context) (*http.Response, error) {
				return fs.Archive.InstanceFrameRaw(ctx, instanceID, frameIndex)
			},
		})
	}
	attempts = append(attempts,
		frameAttempt{
			name: "raw-pixel-item",
			fetch: func(ctx context.Context) (*http.Response, error) {
				return fs.Archive.InstancePixelItem(ctx, instanceID, frameIndex)
			},
		},
		frameAttempt{
			name:       "full-file",
			forcedType: "application/octet-stream",
			fetch: func(ctx context.Context) (*http.Response, error) {
				return fs.Archive.InstanceFile(ctx, instanceID)
			},
		},
		frameAttempt{
			name: "standard-web",
			fetch: func(ctx context.Context) (*http.Response, error) {
				addr, err := fs.Hierarchy.Resolve(ctx, instanceID)
				if err != nil {
					return nil, err
				}
				return fs.Archive.WebInstance(ctx, addr.StudyUID, addr.SeriesUID, addr.InstanceUID, "")
			},
		},
	)
	return attempts
}

// relay streams an upstream body through in fixed-size chunks,
// propagating Content-Type (or forcing the generic binary type) and
// Content-Length when present.
func (fs *FrameStreamer) relay(w http.ResponseWriter, resp *http.Response, forcedType string) {
	defer resp.Body.Close()

	ct := forcedType
	if ct == "" {
		ct = resp.Header.Get("Content-Type")
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}

	w.WriteHeader(http.StatusOK)
	buf := make([]byte, streamChunkSize)
	if _, err := io.CopyBuffer(w, resp.Body, buf); err != nil {
		// Usually the viewer disconnecting mid-stream; the outbound
		// request context tears down the upstream transfer.
		log.Printf("FrameStreamer: relay copy error: %v", err)
	}
}
