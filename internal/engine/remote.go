package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/visekai/tessellate/internal/mempool"
	"github.com/visekai/tessellate/internal/tiler"
)

// HTTPModel talks to a remote inference service exposing the model over
// HTTP. Tiles are uploaded as PNG parts of a multipart request; the
// service answers with per-tile results in input order.
type HTTPModel struct {
	baseURL string
	client  *http.Client
}

// NewHTTPModel creates a remote model client. The HTTP client timeout is
// left generous; the engine enforces the per-batch timeout via context.
func NewHTTPModel(baseURL string) *HTTPModel {
	return &HTTPModel{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

type remoteTileResult struct {
	Index      int     `json:"index"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type remoteResponse struct {
	Success bool               `json:"success"`
	Results []remoteTileResult `json:"results"`
	Error   string             `json:"error,omitempty"`
}

// Infer implements Model.
func (m *HTTPModel) Infer(ctx context.Context, tiles []tiler.Tile) ([]TileResult, error) {
	body := mempool.GetBuffer()
	defer mempool.PutBuffer(body)

	writer := multipart.NewWriter(body)
	for i, t := range tiles {
		part, err := writer.CreateFormFile("tile_"+strconv.Itoa(i), fmt.Sprintf("tile_%d.png", t.Index))
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if err := png.Encode(part, t.Image); err != nil {
			return nil, fmt.Errorf("failed to encode tile %d: %w", t.Index, err)
		}
	}
	_ = writer.WriteField("count", strconv.Itoa(len(tiles)))
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	url := m.baseURL + "/ocr/batch"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed remoteResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("inference failed: %s", parsed.Error)
	}

	results := make([]TileResult, len(parsed.Results))
	for i, r := range parsed.Results {
		results[i] = TileResult{Index: r.Index, Text: r.Text, Confidence: r.Confidence}
	}
	return results, nil
}

// Health checks whether the remote inference service is reachable.
func (m *HTTPModel) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
