package delivery

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"reportbot/internal/config"
	"reportbot/internal/logging"
	"reportbot/internal/spreadsheet"
)

// newTestNotifier returns a notifier with sleeps recorded instead of
// performed.
func newTestNotifier() (*Notifier, *[]time.Duration) {
	n := NewNotifier(logging.New("test"))
	var slept []time.Duration
	n.sleep = func(d time.Duration) { slept = append(slept, d) }
	return n, &slept
}

// failFirstN returns a handler failing the first n requests with 500.
func failFirstN(n int, hits *int) http.HandlerFunc {
	var mu sync.Mutex
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*hits++
		seen := *hits
		mu.Unlock()
		if seen <= n {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func TestSendSucceedsOnThirdAttempt(t *testing.T) {
	var hits int
	srv := httptest.NewServer(failFirstN(2, &hits))
	defer srv.Close()

	n, slept := newTestNotifier()
	err := n.Send(context.Background(), srv.URL, NewTextMessage("hello", nil), "test message")
	if err != nil {
		t.Fatalf("Send() error = %v, want success on third attempt", err)
	}
	if hits != 3 {
		t.Errorf("attempts = %d, want exactly 3", hits)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("backoff sleeps = %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, (*slept)[i], want[i])
		}
	}
}

func TestSendExhaustsRetries(t *testing.T) {
	var hits int
	srv := httptest.NewServer(failFirstN(100, &hits))
	defer srv.Close()

	n, slept := newTestNotifier()
	err := n.Send(context.Background(), srv.URL, NewTextMessage("hello", nil), "test message")
	if err == nil {
		t.Fatal("Send() error = nil, want failure after exhausted retries")
	}
	if hits != 3 {
		t.Errorf("attempts = %d, want exactly 3", hits)
	}
	// No delay after the final attempt.
	if len(*slept) != 2 {
		t.Errorf("backoff sleeps = %v, want 2 entries", *slept)
	}
}

func TestSendPayloadShape(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))
	defer srv.Close()

	n, _ := newTestNotifier()
	msg := NewTextMessage("report ready", []string{"alice", "bob"})
	if err := n.Send(context.Background(), srv.URL, msg, "text"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got.MsgType != "text" || got.Text == nil {
		t.Fatalf("payload = %+v, want msgtype text with text body", got)
	}
	if got.Text.Content != "report ready" {
		t.Errorf("content = %q, want %q", got.Text.Content, "report ready")
	}
	if len(got.Text.MentionedList) != 2 {
		t.Errorf("mentioned = %v, want 2 users", got.Text.MentionedList)
	}
}

func TestNewImageMessage(t *testing.T) {
	data := []byte("png-bytes")
	msg := NewImageMessage(data)

	if msg.MsgType != "image" || msg.Image == nil {
		t.Fatalf("message = %+v, want image payload", msg)
	}
	if got := msg.Image.Base64; got != base64.StdEncoding.EncodeToString(data) {
		t.Errorf("base64 = %q, want round-trippable encoding", got)
	}
	sum := md5.Sum(data)
	if got := msg.Image.MD5; got != hex.EncodeToString(sum[:]) {
		t.Errorf("md5 = %q, want %q", got, hex.EncodeToString(sum[:]))
	}
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		f, header, err := r.FormFile("media")
		if err != nil {
			t.Fatalf("form file media: %v", err)
		}
		defer f.Close()
		if !strings.HasSuffix(header.Filename, ".xlsx") {
			t.Errorf("uploaded filename = %q, want .xlsx suffix", header.Filename)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"media_id": "media-123"})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "weekly.xlsx")
	if err := os.WriteFile(path, []byte("workbook"), 0o644); err != nil {
		t.Fatal(err)
	}

	n, _ := newTestNotifier()
	id, err := n.Upload(context.Background(), srv.URL, path)
	if err != nil {
		t.Fatalf("Upload() error = %v, want nil", err)
	}
	if id != "media-123" {
		t.Errorf("Upload() media id = %q, want %q", id, "media-123")
	}
}

func TestUploadMissingMediaID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "weekly.xlsx")
	if err := os.WriteFile(path, []byte("workbook"), 0o644); err != nil {
		t.Fatal(err)
	}

	n, _ := newTestNotifier()
	if _, err := n.Upload(context.Background(), srv.URL, path); err == nil {
		t.Error("Upload() error = nil, want missing media_id failure")
	}
}

// writeArtifacts creates n artifact files and returns them.
func writeArtifacts(t *testing.T, n int) []spreadsheet.Artifact {
	t.Helper()
	dir := t.TempDir()
	arts := make([]spreadsheet.Artifact, 0, n)
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, "shot_"+string(rune('a'+i))+".png")
		if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
			t.Fatal(err)
		}
		arts = append(arts, spreadsheet.Artifact{Path: path, CreatedAt: time.Now()})
	}
	return arts
}

func TestPipelineDeliversAndCleansUp(t *testing.T) {
	var kinds []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg Message
		_ = json.NewDecoder(r.Body).Decode(&msg)
		mu.Lock()
		kinds = append(kinds, msg.MsgType)
		mu.Unlock()
	}))
	defer srv.Close()

	n, _ := newTestNotifier()
	p := NewPipeline(n, logging.New("test"))
	arts := writeArtifacts(t, 2)

	p.Deliver(context.Background(), arts, nil, srv.URL)

	if len(kinds) != 2 {
		t.Fatalf("sends = %d, want 2", len(kinds))
	}
	for i, kind := range kinds {
		if kind != "image" {
			t.Errorf("send[%d] kind = %q, want image", i, kind)
		}
	}
	for _, a := range arts {
		if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
			t.Errorf("artifact %s not cleaned up", a.Path)
		}
	}
}

func TestPipelineCleansUpAfterTotalFailure(t *testing.T) {
	var hits int
	srv := httptest.NewServer(failFirstN(100, &hits))
	defer srv.Close()

	n, _ := newTestNotifier()
	p := NewPipeline(n, logging.New("test"))
	arts := writeArtifacts(t, 1)

	// Must complete without raising anything despite every send failing.
	p.Deliver(context.Background(), arts, nil, srv.URL)

	if hits != 3 {
		t.Errorf("attempts = %d, want exactly 3", hits)
	}
	if _, err := os.Stat(arts[0].Path); !os.IsNotExist(err) {
		t.Error("artifact not cleaned up after delivery failure")
	}
}

func TestPipelineAttachment(t *testing.T) {
	uploadSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"media_id": "media-9"})
	}))
	defer uploadSrv.Close()

	var got Message
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer hookSrv.Close()

	path := filepath.Join(t.TempDir(), "weekly.xlsx")
	if err := os.WriteFile(path, []byte("workbook"), 0o644); err != nil {
		t.Fatal(err)
	}

	n, _ := newTestNotifier()
	p := NewPipeline(n, logging.New("test"))
	att := &config.Attachment{Path: path, UploadURL: uploadSrv.URL}

	p.Deliver(context.Background(), nil, att, hookSrv.URL)

	if got.MsgType != "file" || got.File == nil {
		t.Fatalf("payload = %+v, want file message", got)
	}
	if got.File.MediaID != "media-9" {
		t.Errorf("media id = %q, want %q", got.File.MediaID, "media-9")
	}
}

func TestPipelineSkipsMissingAttachment(t *testing.T) {
	var hookHits int
	hookSrv := httptest.NewServer(failFirstN(0, &hookHits))
	defer hookSrv.Close()

	n, _ := newTestNotifier()
	p := NewPipeline(n, logging.New("test"))
	att := &config.Attachment{Path: "/no/such/file.xlsx", UploadURL: "http://unused"}

	p.Deliver(context.Background(), nil, att, hookSrv.URL)

	if hookHits != 0 {
		t.Errorf("webhook hits = %d, want 0 for missing attachment", hookHits)
	}
}
