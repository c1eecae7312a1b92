package archive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "", "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", "", ""); err == nil {
		t.Error("NewClient should reject an empty base URL")
	}

	c, err := NewClient("http://pacs.example:8042/", "", "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.BaseURL() != "http://pacs.example:8042" {
		t.Errorf("BaseURL = %q, trailing slash not trimmed", c.BaseURL())
	}
}

func TestClientNotFound(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := c.Instance(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestClientUnreachable(t *testing.T) {
	// A closed server gives connection refused.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, "", "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = c.Instance(context.Background(), "i1")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("error = %v, want ErrUnreachable", err)
	}
}

func TestClientNon2xxIsAnError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.InstanceFile(context.Background(), "i1")
	if err == nil {
		t.Fatal("InstanceFile should fail on 502")
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnreachable) {
		t.Errorf("502 misclassified: %v", err)
	}
}

func TestClientSendsBasicAuth(t *testing.T) {
	gotUser, gotPass := "", ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "orthanc", "s3cret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.Instance(context.Background(), "i1"); err != nil {
		t.Fatalf("Instance: %v", err)
	}

	if gotUser != "orthanc" || gotPass != "s3cret" {
		t.Errorf("basic auth = %q/%q, want orthanc/s3cret", gotUser, gotPass)
	}
}

func TestClientFramePaths(t *testing.T) {
	gotPath := ""
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	})
	ctx := context.Background()

	resp, err := c.InstanceFrameRaw(ctx, "i1", 2)
	if err != nil {
		t.Fatalf("InstanceFrameRaw: %v", err)
	}
	resp.Body.Close()
	if gotPath != "/instances/i1/frames/2/raw" {
		t.Errorf("frame path = %q", gotPath)
	}

	resp, err = c.InstancePixelItem(ctx, "i1", 0)
	if err != nil {
		t.Fatalf("InstancePixelItem: %v", err)
	}
	resp.Body.Close()
	if gotPath != "/instances/i1/content/7fe0-0010/0" {
		t.Errorf("pixel item path = %q", gotPath)
	}

	if _, err := c.InstanceFrameRaw(ctx, "i1", -1); err == nil {
		t.Error("InstanceFrameRaw should reject a negative index")
	}
}

func TestWebInstancePathAndValidation(t *testing.T) {
	gotPath := ""
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	})
	ctx := context.Background()

	resp, err := c.WebInstance(ctx, "1.2.3", "4.5.6", "7.8.9", "")
	if err != nil {
		t.Fatalf("WebInstance: %v", err)
	}
	resp.Body.Close()
	if gotPath != "/dicom-web/studies/1.2.3/series/4.5.6/instances/7.8.9" {
		t.Errorf("web path = %q", gotPath)
	}

	if _, err := c.WebInstance(ctx, "1.2.3", "", "7.8.9", ""); err == nil {
		t.Error("WebInstance should require the full UID triple")
	}
}

func TestInstanceStatisticsDecodesStringSizes(t *testing.T) {
	for _, body := range []string{
		`{"UncompressedSize":"524288","CompressedSize":"100000"}`,
		`{"UncompressedSize":524288,"CompressedSize":100000}`,
	} {
		var stats InstanceStatistics
		if err := json.Unmarshal([]byte(body), &stats); err != nil {
			t.Fatalf("Unmarshal %s: %v", body, err)
		}
		if stats.UncompressedSize != 524288 {
			t.Errorf("UncompressedSize = %d from %s, want 524288", stats.UncompressedSize, body)
		}
		if stats.CompressedSize != 100000 {
			t.Errorf("CompressedSize = %d from %s, want 100000", stats.CompressedSize, body)
		}
	}
}

func TestFrameCount(t *testing.T) {
	cases := []struct {
		tags map[string]string
		want int
	}{
		{map[string]string{"NumberOfFrames": "12"}, 12},
		{map[string]string{"NumberOfFrames": " 3 "}, 3},
		{map[string]string{"NumberOfFrames": "garbage"}, 1},
		{map[string]string{"NumberOfFrames": "0"}, 1},
		{map[string]string{}, 1},
		{nil, 1},
	}
	for _, c := range cases {
		inst := &Instance{MainDicomTags: c.tags}
		if got := inst.FrameCount(); got != c.want {
			t.Errorf("FrameCount(%v) = %d, want %d", c.tags, got, c.want)
		}
	}

	var nilInst *Instance
	if got := nilInst.FrameCount(); got != 1 {
		t.Errorf("nil instance FrameCount = %d, want 1", got)
	}
}
