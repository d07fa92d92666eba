package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"reportbot/internal/logging"
	"reportbot/internal/metrics"
)

// defaultBackoff doubles each attempt counting from a base of 2 seconds.
var defaultBackoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// Notifier posts messages to the notification service with bounded
// retry. One instance is shared by all tasks; it holds no per-firing
// state.
type Notifier struct {
	client  *http.Client
	log     *logging.Logger
	backoff []time.Duration

	sleep func(time.Duration)
}

func NewNotifier(log *logging.Logger) *Notifier {
	return &Notifier{
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
		backoff: defaultBackoff,
		sleep:   time.Sleep,
	}
}

// Send posts one message to the webhook, retrying up to the backoff
// schedule length. Exhausting retries is terminal for this message only:
// the final failure is logged and returned, never raised further up.
func (n *Notifier) Send(ctx context.Context, webhook string, msg Message, desc string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", desc, err)
	}

	maxAttempts := len(n.backoff)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = n.post(ctx, webhook, body)
		if lastErr == nil {
			metrics.RecordDelivery(msg.MsgType, "ok")
			n.log.WithContext(ctx).WithField("desc", desc).Info("send succeeded")
			return nil
		}

		n.log.WithContext(ctx).WithError(lastErr).WithFields(map[string]any{
			"desc":    desc,
			"attempt": attempt,
			"of":      maxAttempts,
		}).Warn("send failed")

		if attempt < maxAttempts {
			metrics.DeliveryRetriesTotal.Inc()
			n.sleep(n.backoff[attempt-1])
		}
	}

	metrics.RecordDelivery(msg.MsgType, "failed")
	n.log.WithContext(ctx).WithError(lastErr).WithField("desc", desc).Error("send abandoned")
	return lastErr
}

func (n *Notifier) post(ctx context.Context, webhook string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Upload posts the file as multipart form data to the upload endpoint
// and returns the media reference id from the response. The uploaded
// filename carries the current date so recipients can tell runs apart.
func (n *Notifier) Upload(ctx context.Context, uploadURL, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	stamped := fmt.Sprintf("%s_%s%s", name, time.Now().Format("2006-01-02"), ext)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("media", stamped)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := n.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload status %d", resp.StatusCode)
	}

	var out struct {
		MediaID string `json:"media_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.MediaID == "" {
		return "", fmt.Errorf("upload response missing media_id")
	}
	return out.MediaID, nil
}
