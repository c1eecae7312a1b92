package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"pacsbridge-rest/archive"
)

// Strategy selects how instance bytes are retrieved from the archive.
// Different deployments expose different subsets of the archive's access
// shapes reliably, so the gateway supports several and can fall back.
type Strategy string

const (
	// StrategyDirectFile fetches the instance's canonical file blob by
	// its archive identifier.
	StrategyDirectFile Strategy = "direct-file"

	// StrategyRawAttachment fetches the first stored attachment's raw
	// bytes by identifier.
	StrategyRawAttachment Strategy = "raw-attachment"

	// StrategyStandardWeb addresses the instance by its UID triple
	// through the archive's standards-compliant web endpoint. Most
	// portable; preferred.
	StrategyStandardWeb Strategy = "standard-web"

	// StrategyAutomatic tries standard-web, then raw-attachment, then
	// direct-file, returning the first success.
	StrategyAutomatic Strategy = "automatic"
)

// ParseStrategy validates a strategy name from config or query string.
// "auto" is accepted as an alias for automatic.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.TrimSpace(strings.ToLower(s))) {
	case StrategyDirectFile:
		return StrategyDirectFile, nil
	case StrategyRawAttachment:
		return StrategyRawAttachment, nil
	case StrategyStandardWeb:
		return StrategyStandardWeb, nil
	case StrategyAutomatic, "auto", "":
		return StrategyAutomatic, nil
	}
	return "", fmt.Errorf("unknown retrieval strategy %q", s)
}

// StrategyRouter retrieves instance bytes via one of the backend access
// shapes, trying them in a fixed order in automatic mode. Each strategy
// is attempted at most once per request; nothing is retried.
type StrategyRouter struct {
	Archive   *archive.Client
	Hierarchy *HierarchyResolver
}

// strategyAttempt pairs a strategy name with its fetch function; the
// router iterates an ordered list of these and returns the first
// success.
type strategyAttempt struct {
	name  Strategy
	fetch func(ctx context.Context) (*http.Response, error)
}

// Retrieve fetches the instance's bytes using the selected strategy, or
// the automatic fallback order. It returns the winning upstream response
// (caller closes the body) and the strategy that produced it.
func (sr *StrategyRouter) Retrieve(ctx context.Context, instanceID string, strategy Strategy, accept string) (*http.Response, Strategy, error) {
	attempts := sr.attemptsFor(instanceID, strategy, accept)

	var failures []string
	var lastErr error
	for _, a := range attempts {
		resp, err := a.fetch(ctx)
		if err == nil {
			return resp, a.name, nil
		}
		log.Printf("StrategyRouter: %s failed for instance %s: %v", a.name, instanceID, err)
		failures = append(failures, fmt.Sprintf("%s: %v", a.name, err))
		lastErr = err
	}

	// A single explicit strategy surfaces its own failure so callers can
	// still classify it (not-found vs unreachable).
	if len(attempts) == 1 {
		return nil, "", fmt.Errorf("strategy %s failed: %w", attempts[0].name, lastErr)
	}
	return nil, "", fmt.Errorf("%w: %s", ErrAllStrategiesExhausted, strings.Join(failures, "; "))
}

// attemptsFor builds the ordered attempt list: a single entry for an
// explicit strategy, or the fixed automatic order.
func (sr *StrategyRouter) attemptsFor(instanceID string, strategy Strategy, accept string) []strategyAttempt {
	standardWeb := strategyAttempt{
		name: StrategyStandardWeb,
		fetch: func(ctx context.Context) (*http.Response, error) {
			addr, err := sr.Hierarchy.Resolve(ctx, instanceID)
			if err != nil {
				return nil, err
			}
			return sr.Archive.WebInstance(ctx, addr.StudyUID, addr.SeriesUID, addr.InstanceUID, accept)
		},
	}
	rawAttachment := strategyAttempt{
		name: StrategyRawAttachment,
		fetch: func(ctx context.Context) (*http.Response, error) {
			return sr.Archive.InstanceAttachment(ctx, instanceID)
		},
	}
	directFile := strategyAttempt{
		name: StrategyDirectFile,
		fetch: func(ctx context.Context) (*http.Response, error) {
			return sr.Archive.InstanceFile(ctx, instanceID)
		},
	}

	switch strategy {
	case StrategyStandardWeb:
		return []strategyAttempt{standardWeb}
	case StrategyRawAttachment:
		return []strategyAttempt{rawAttachment}
	case StrategyDirectFile:
		return []strategyAttempt{directFile}
	default:
		return []strategyAttempt{standardWeb, rawAttachment, directFile}
	}
}
