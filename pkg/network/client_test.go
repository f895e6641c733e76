package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestGetTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Reason", "denied")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("no access"))
	}))
	defer server.Close()

	_, err := Get(context.Background(), NewHTTPClient(Options{}), server.URL+"/thing", nil)
	if err == nil {
		t.Fatal("expected error for 403 response")
	}

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error %v is not a *TransportError", err)
	}
	if transportErr.Status != http.StatusForbidden {
		t.Errorf("Status = %d, want %d", transportErr.Status, http.StatusForbidden)
	}
	if transportErr.Body != "no access" {
		t.Errorf("Body = %q, want %q", transportErr.Body, "no access")
	}
	if transportErr.Header.Get("X-Reason") != "denied" {
		t.Errorf("Header X-Reason = %q, want denied", transportErr.Header.Get("X-Reason"))
	}
	if !errors.Is(err, ErrRequestFailed) {
		t.Error("TransportError should match ErrRequestFailed")
	}
}

func TestGetForwardsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer abc")

	resp, err := Get(context.Background(), NewHTTPClient(Options{}), server.URL, header)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	resp.Body.Close()
}

func TestFetchOnce(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("libc.so.6\n"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "share", "excludelist")
	client := NewHTTPClient(Options{})

	fetched, err := FetchOnce(context.Background(), client, server.URL, dest)
	if err != nil {
		t.Fatalf("FetchOnce failed: %v", err)
	}
	if !fetched {
		t.Error("first FetchOnce should download")
	}

	fetched, err = FetchOnce(context.Background(), client, server.URL, dest)
	if err != nil {
		t.Fatalf("second FetchOnce failed: %v", err)
	}
	if fetched {
		t.Error("second FetchOnce should reuse the existing file")
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(data) != "libc.so.6\n" {
		t.Errorf("content = %q", data)
	}
}

func TestFetchOnceFailureLeavesNoFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "patch.tar.gz")

	if _, err := FetchOnce(context.Background(), NewHTTPClient(Options{}), server.URL, dest); err == nil {
		t.Fatal("expected error for 404")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty directory, found %d entries", len(entries))
	}
}
