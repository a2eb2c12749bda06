package downloader

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestDownloader(retries int) *Downloader {
	return New(Options{Retries: retries, Backoff: 10 * time.Millisecond, Timeout: 5 * time.Second}, log.New(io.Discard, "", 0))
}

func TestDownloadRetryThenSucceed(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.WriteString(w, "audio-bytes")
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "sub", "A - B.flac")
	n, err := newTestDownloader(3).Download(context.Background(), srv.URL+"/file", dest)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if n != int64(len("audio-bytes")) {
		t.Errorf("Download() wrote %d bytes", n)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Errorf("server hit %d times, want 3", got)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "audio-bytes" {
		t.Errorf("dest content = %q, %v", data, err)
	}
	if _, err := os.Stat(dest + PartSuffix); !os.IsNotExist(err) {
		t.Error("partial file left behind")
	}
}

func TestDownloadExhaustedRemovesPartial(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		// 声明的长度大于实际写出的内容
		w.Header().Set("Content-Length", "100")
		io.WriteString(w, "partial")
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "A - B.mp3")
	_, err := newTestDownloader(3).Download(context.Background(), srv.URL+"/secret-token", dest)

	var de *DownloadError
	if !errors.As(err, &de) {
		t.Fatalf("Download() error = %v, want *DownloadError", err)
	}
	if got := atomic.LoadInt32(&hits); de.Attempts != 3 || got != 3 {
		t.Errorf("attempts = %d, hits = %d, want 3", de.Attempts, got)
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Errorf("error leaks the url: %v", err)
	}
	for _, p := range []string{dest, dest + PartSuffix} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should not exist", filepath.Base(p))
		}
	}
}

func TestDownloadStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d := New(Options{Retries: 5, Backoff: time.Hour}, log.New(io.Discard, "", 0))
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := d.Download(ctx, srv.URL, filepath.Join(t.TempDir(), "x.mp3"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Download() error = %v, want context.Canceled", err)
	}
}

func TestDownloadError(t *testing.T) {
	original := errors.New("connection reset")
	err := &DownloadError{Message: "failed", Attempts: 3, Original: original}
	if err.Unwrap() != original {
		t.Error("Unwrap() should return original error")
	}
	if (&DownloadError{Message: "failed"}).Unwrap() != nil {
		t.Error("Unwrap() should return nil when no original error")
	}
}
