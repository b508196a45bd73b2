package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m3ugate/m3ugate/internal/config"
)

func TestParseExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseExpiry("+720h", now)
	if err != nil {
		t.Fatalf("parseExpiry(+720h): %v", err)
	}
	if want := now.Add(720 * time.Hour); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	got, err = parseExpiry("2027-01-01T00:00:00+02:00", now)
	if err != nil {
		t.Fatalf("parseExpiry(rfc3339): %v", err)
	}
	if got.Location() != time.UTC || got.Hour() != 22 {
		t.Errorf("expected UTC conversion, got %v", got)
	}

	for _, bad := range []string{"tomorrow", "+soon", "2027-01-01"} {
		if _, err := parseExpiry(bad, now); err == nil {
			t.Errorf("parseExpiry(%q): expected error", bad)
		}
	}
}

func TestPublicBase(t *testing.T) {
	cfg := config.Default()
	if got := publicBase(cfg); got != "http://localhost:3001" {
		t.Errorf("default base = %q", got)
	}

	cfg.Server.Host = "10.0.0.5"
	cfg.Server.Port = 8080
	if got := publicBase(cfg); got != "http://10.0.0.5:8080" {
		t.Errorf("host base = %q", got)
	}

	cfg.Server.PublicURL = "https://tv.example.net/"
	if got := playlistURL(cfg, "a b"); got != "https://tv.example.net/playlist.m3u?token=a+b" {
		t.Errorf("playlistURL = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("Chrome on Windows", 10); got != "Chrome on…" {
		t.Errorf("got %q", got)
	}
}

func TestPercentile(t *testing.T) {
	if percentile(nil, 50) != 0 {
		t.Error("empty percentile should be 0")
	}
	lat := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(lat, 50); got != 6 {
		t.Errorf("p50 = %v", got)
	}
	if got := percentile(lat, 100); got != 10 {
		t.Errorf("p100 = %v", got)
	}
}

func TestRunBench(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/playlist.m3u" || r.URL.Query().Get("token") != "tok" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		ua := r.UserAgent()
		if !seen[ua] && len(seen) >= 2 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		seen[ua] = true
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer ts.Close()

	opts := benchOptions{
		baseURL:     ts.URL + "/",
		token:       "tok",
		identities:  5,
		concurrency: 4,
		duration:    200 * time.Millisecond,
	}
	res, err := runBench(context.Background(), opts)
	if err != nil {
		t.Fatalf("runBench: %v", err)
	}
	if res.allowed == 0 || res.denied == 0 {
		t.Errorf("allowed=%d denied=%d, want both non-zero", res.allowed, res.denied)
	}
	if res.other != 0 {
		t.Errorf("other = %d, want 0", res.other)
	}
	if len(res.admitted) != 2 {
		t.Errorf("admitted identities = %d, want 2", len(res.admitted))
	}

	var buf bytes.Buffer
	res.print(&buf, opts)
	if !strings.Contains(buf.String(), "Admitted identities: 2 of 5") {
		t.Errorf("report missing admitted line:\n%s", buf.String())
	}
}

func TestRunBench_InvalidOptions(t *testing.T) {
	if _, err := runBench(context.Background(), benchOptions{identities: 0, concurrency: 1}); err == nil {
		t.Error("expected error for zero identities")
	}
}
