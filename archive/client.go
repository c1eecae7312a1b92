package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the archive answers 404 for a lookup.
var ErrNotFound = errors.New("archive: not found")

// ErrUnreachable is returned when the archive cannot be reached at all
// (connection refused, DNS failure, timeout).
var ErrUnreachable = errors.New("archive: unreachable")

// Client talks to the legacy imaging archive over its plain REST surface.
// Metadata lookups and byte transfers use separate HTTP clients so a slow
// file download never ties up the short metadata timeout.
type Client struct {
	baseURL  string
	username string
	password string

	meta     *http.Client
	transfer *http.Client
}

// NewClient creates a client for the archive at baseURL. Credentials are
// optional; when set they are sent as HTTP basic auth on every request.
func NewClient(baseURL, username, password string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("archive base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid archive base URL %q: %w", baseURL, err)
	}
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		meta:     &http.Client{Timeout: 15 * time.Second},
		transfer: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// BaseURL returns the configured archive base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// get performs a GET against the archive and returns the response on any
// 2xx status. Non-2xx responses are drained, closed, and converted to
// errors; 404 maps to ErrNotFound, transport failures to ErrUnreachable.
func (c *Client) get(ctx context.Context, hc *http.Client, path, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", path, err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrUnreachable, path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: GET %s", ErrNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d %s", path, resp.StatusCode, resp.Status)
	}
	return resp, nil
}

// getJSON fetches path with the metadata client and decodes the JSON body
// into v.
func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	resp, err := c.get(ctx, c.meta, path, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Instance is the archive's summary view of a single stored instance.
type Instance struct {
	ID            string            `json:"ID"`
	ParentSeries  string            `json:"ParentSeries"`
	MainDicomTags map[string]string `json:"MainDicomTags"`
	FileSize      int64             `json:"FileSize"`
	IndexInSeries int               `json:"IndexInSeries"`
}

// FrameCount reads the instance's NumberOfFrames summary tag, defaulting
// to 1 when absent or unparseable.
func (i *Instance) FrameCount() int {
	if i == nil {
		return 1
	}
	raw := strings.TrimSpace(i.MainDicomTags["NumberOfFrames"])
	if raw == "" {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Series is the archive's summary view of a series and its instances.
type Series struct {
	ID            string            `json:"ID"`
	ParentStudy   string            `json:"ParentStudy"`
	Instances     []string          `json:"Instances"`
	MainDicomTags map[string]string `json:"MainDicomTags"`
}

// Study is the archive's summary view of a study and its series.
type Study struct {
	ID            string            `json:"ID"`
	Series        []string          `json:"Series"`
	MainDicomTags map[string]string `json:"MainDicomTags"`
}

// InstanceStatistics reports the archive's storage accounting for one
// instance. The archive serializes sizes as decimal strings.
type InstanceStatistics struct {
	UncompressedSize int64
	CompressedSize   int64
}

func (s *InstanceStatistics) UnmarshalJSON(data []byte) error {
	var raw struct {
		UncompressedSize interface{} `json:"UncompressedSize"`
		CompressedSize   interface{} `json:"CompressedSize"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.UncompressedSize = looseInt64(raw.UncompressedSize)
	s.CompressedSize = looseInt64(raw.CompressedSize)
	return nil
}

// looseInt64 accepts the size either as a JSON number or as the decimal
// string older archive versions emit.
func looseInt64(v interface{}) int64 {
	switch t := v.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0
		}
		return n
	case float64:
		return int64(t)
	}
	return 0
}

// Instance fetches the summary record for an instance by its archive ID.
func (c *Client) Instance(ctx context.Context, instanceID string) (*Instance, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instanceID is required")
	}
	var inst Instance
	if err := c.getJSON(ctx, "/instances/"+url.PathEscape(instanceID), &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Series fetches the summary record for a series by its archive ID.
func (c *Client) Series(ctx context.Context, seriesID string) (*Series, error) {
	if seriesID == "" {
		return nil, fmt.Errorf("seriesID is required")
	}
	var s Series
	if err := c.getJSON(ctx, "/series/"+url.PathEscape(seriesID), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Study fetches the summary record for a study by its archive ID.
func (c *Client) Study(ctx context.Context, studyID string) (*Study, error) {
	if studyID == "" {
		return nil, fmt.Errorf("studyID is required")
	}
	var s Study
	if err := c.getJSON(ctx, "/studies/"+url.PathEscape(studyID), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// InstanceTags fetches the full per-tag attribute dictionary for an
// instance. Keys look like "0008,0018"; values carry the archive's own
// {Type, Value} shape.
func (c *Client) InstanceTags(ctx context.Context, instanceID string) (map[string]interface{}, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instanceID is required")
	}
	var tags map[string]interface{}
	if err := c.getJSON(ctx, "/instances/"+url.PathEscape(instanceID)+"/tags", &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// InstanceSimplifiedTags fetches the flat name-keyed tag view for an
// instance ("Rows": "512", ...).
func (c *Client) InstanceSimplifiedTags(ctx context.Context, instanceID string) (map[string]interface{}, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instanceID is required")
	}
	var tags map[string]interface{}
	if err := c.getJSON(ctx, "/instances/"+url.PathEscape(instanceID)+"/simplified-tags", &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// InstanceStatistics fetches storage statistics for an instance.
func (c *Client) InstanceStatistics(ctx context.Context, instanceID string) (*InstanceStatistics, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instanceID is required")
	}
	var stats InstanceStatistics
	if err := c.getJSON(ctx, "/instances/"+url.PathEscape(instanceID)+"/statistics", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// InstanceFile retrieves the instance's canonical encoded file blob.
// The caller is responsible for closing resp.Body.
func (c *Client) InstanceFile(ctx context.Context, instanceID string) (*http.Response, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instanceID is required")
	}
	return c.get(ctx, c.transfer, "/instances/"+url.PathEscape(instanceID)+"/file", "")
}

// InstanceAttachment retrieves the raw bytes of the instance's stored
// file attachment. The caller is responsible for closing resp.Body.
func (c *Client) InstanceAttachment(ctx context.Context, instanceID string) (*http.Response, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instanceID is required")
	}
	return c.get(ctx, c.transfer, "/instances/"+url.PathEscape(instanceID)+"/attachments/dicom/data", "")
}

// InstanceFrameRaw retrieves the raw pixel bytes of one frame by its
// 0-based index. The caller is responsible for closing resp.Body.
func (c *Client) InstanceFrameRaw(ctx context.Context, instanceID string, frameIndex int) (*http.Response, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instanceID is required")
	}
	if frameIndex < 0 {
		return nil, fmt.Errorf("frameIndex must be >= 0, got %d", frameIndex)
	}
	path := fmt.Sprintf("/instances/%s/frames/%d/raw", url.PathEscape(instanceID), frameIndex)
	return c.get(ctx, c.transfer, path, "")
}

// InstancePixelItem retrieves one item of the instance's pixel-data
// attribute by its 0-based index, the archive's single-frame raw-pixel
// endpoint. The caller is responsible for closing resp.Body.
func (c *Client) InstancePixelItem(ctx context.Context, instanceID string, frameIndex int) (*http.Response, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instanceID is required")
	}
	if frameIndex < 0 {
		return nil, fmt.Errorf("frameIndex must be >= 0, got %d", frameIndex)
	}
	path := fmt.Sprintf("/instances/%s/content/7fe0-0010/%d", url.PathEscape(instanceID), frameIndex)
	return c.get(ctx, c.transfer, path, "")
}

// WebInstance retrieves an instance through the archive's
// standards-compliant web endpoint, addressed by its UID triple. The
// caller's Accept header is forwarded so viewers get the representation
// they asked for. The caller is responsible for closing resp.Body.
func (c *Client) WebInstance(ctx context.Context, studyUID, seriesUID, instanceUID, accept string) (*http.Response, error) {
	if studyUID == "" || seriesUID == "" || instanceUID == "" {
		return nil, fmt.Errorf("studyUID, seriesUID, and instanceUID are required")
	}
	path := fmt.Sprintf("/dicom-web/studies/%s/series/%s/instances/%s",
		url.PathEscape(studyUID), url.PathEscape(seriesUID), url.PathEscape(instanceUID))
	return c.get(ctx, c.transfer, path, accept)
}
