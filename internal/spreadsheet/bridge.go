package spreadsheet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// BridgeEngine talks to the document-automation bridge over HTTP. The
// bridge owns the actual spreadsheet application; this client only
// drives it.
type BridgeEngine struct {
	baseURL string
	client  *http.Client
}

// NewBridgeEngine creates a client for the bridge at baseURL.
func NewBridgeEngine(baseURL string) *BridgeEngine {
	return &BridgeEngine{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Open asks the bridge to open the workbook at path and returns the
// resulting handle.
func (e *BridgeEngine) Open(ctx context.Context, path string, visible bool) (Workbook, error) {
	var resp struct {
		ID string `json:"id"`
	}
	req := map[string]any{"path": path, "visible": visible}
	if err := e.doJSON(ctx, http.MethodPost, e.baseURL+"/v1/workbooks", req, &resp); err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("open workbook: bridge returned no handle id")
	}
	return &bridgeWorkbook{engine: e, id: resp.ID}, nil
}

// doJSON performs one JSON request against the bridge. A non-2xx status
// is an error carrying the first part of the response body.
func (e *BridgeEngine) doJSON(ctx context.Context, method, rawURL string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bridge %s %s: status %d: %s", method, rawURL, resp.StatusCode, snippet)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// doRaw performs one request and returns the raw response bytes.
func (e *BridgeEngine) doRaw(ctx context.Context, method, rawURL string, in any) ([]byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("bridge %s %s: status %d: %s", method, rawURL, resp.StatusCode, snippet)
	}
	return io.ReadAll(resp.Body)
}

type bridgeWorkbook struct {
	engine *BridgeEngine
	id     string
}

func (w *bridgeWorkbook) url(suffix string) string {
	return w.engine.baseURL + "/v1/workbooks/" + url.PathEscape(w.id) + suffix
}

func (w *bridgeWorkbook) RefreshAll(ctx context.Context) error {
	return w.engine.doJSON(ctx, http.MethodPost, w.url("/refresh"), nil, nil)
}

func (w *bridgeWorkbook) CalcState(ctx context.Context) (string, error) {
	var resp struct {
		State string `json:"state"`
	}
	if err := w.engine.doJSON(ctx, http.MethodGet, w.url("/calc-state"), nil, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

func (w *bridgeWorkbook) ReadCell(ctx context.Context, rangeAddr string) (string, error) {
	var resp struct {
		Value string `json:"value"`
	}
	u := w.url("/cells") + "?range=" + url.QueryEscape(rangeAddr)
	if err := w.engine.doJSON(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return "", err
	}
	return resp.Value, nil
}

func (w *bridgeWorkbook) CaptureRegion(ctx context.Context, sheet, rangeAddr string) ([]byte, error) {
	req := map[string]any{"sheet": sheet, "range": rangeAddr}
	return w.engine.doRaw(ctx, http.MethodPost, w.url("/capture"), req)
}

func (w *bridgeWorkbook) Close(ctx context.Context) error {
	return w.engine.doJSON(ctx, http.MethodDelete, w.url(""), nil, nil)
}
