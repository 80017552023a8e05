package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"conjure/internal/types"
)

func TestFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), types.NopLogger{})
	media, err := f.Fetch(context.Background(), srv.URL+"/outputs/result.png?sig=abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(media.Data) != "png-bytes" {
		t.Errorf("unexpected body %q", media.Data)
	}
	if media.Filename != "result.png" {
		t.Errorf("expected filename result.png, got %q", media.Filename)
	}
	if media.ContentType != "image/png" {
		t.Errorf("expected image/png, got %q", media.ContentType)
	}
}

func TestFetcher_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), types.NopLogger{})
	_, err := f.Fetch(context.Background(), srv.URL+"/expired.png")
	if err == nil {
		t.Fatal("expected error")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeDeliveryFetch {
		t.Errorf("expected fetch AppError, got %v", err)
	}
}

func TestFetcher_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), types.NopLogger{})
	f.maxBytes = 50

	_, err := f.Fetch(context.Background(), srv.URL+"/big.bin")
	if err == nil {
		t.Fatal("expected error for oversized media")
	}
}

func TestFetcher_FetchAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body-of-" + strings.TrimPrefix(r.URL.Path, "/")))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), types.NopLogger{})
	urls := []string{srv.URL + "/a.png", srv.URL + "/b.png", srv.URL + "/c.png"}
	all, err := f.FetchAll(context.Background(), urls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 results, got %d", len(all))
	}
	// Results must preserve input order regardless of download order.
	for i, name := range []string{"a.png", "b.png", "c.png"} {
		if got := string(all[i].Data); got != "body-of-"+name {
			t.Errorf("result %d: expected body-of-%s, got %q", i, name, got)
		}
	}
}

func TestFetcher_FetchAllOneFailureFailsBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), types.NopLogger{})
	_, err := f.FetchAll(context.Background(), []string{srv.URL + "/good.png", srv.URL + "/broken.png"})
	if err == nil {
		t.Fatal("expected error when one fetch fails")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeDeliveryFetch {
		t.Errorf("expected fetch AppError, got %v", err)
	}
}

func TestFetcher_FetchText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("generated story text"))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), types.NopLogger{})
	text, err := f.FetchText(context.Background(), srv.URL+"/story.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "generated story text" {
		t.Errorf("unexpected text %q", text)
	}
}

func TestFilenameFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://cdn.example.com/a/b/image.png", "image.png"},
		{"https://cdn.example.com/a/b/image.png?X-Amz-Signature=abc", "image.png"},
		{"https://cdn.example.com/", "file"},
		{"", "file"},
	}
	for _, tc := range cases {
		if got := filenameFromURL(tc.url); got != tc.want {
			t.Errorf("filenameFromURL(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}
