package face

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/luqmand1/TeacherClockMy/internal/model"
)

// Client calls the face recognition microservice. It reports not-ready until
// WarmUp has confirmed the service's models are loaded.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	ready atomic.Bool
}

// NewClient creates a client. Face processing can take a while, so the
// timeout should be generous.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// WarmUp polls the service health endpoint until the models report loaded or
// ctx is cancelled. Run it in a goroutine at startup; Detect returns
// ErrModelsNotLoaded until it succeeds.
func (c *Client) WarmUp(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		if err := c.health(ctx); err == nil {
			c.ready.Store(true)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ready reports whether the recognition models are loaded.
func (c *Client) Ready() bool {
	return c.ready.Load()
}

// Detect runs single-face detection on an image and returns its embedding
// and landmarks. ErrNoFaceDetected when the service finds no face.
func (c *Client) Detect(ctx context.Context, image []byte) (*Detection, error) {
	if !c.Ready() {
		return nil, ErrModelsNotLoaded
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("face: image required")
	}

	body, _ := json.Marshal(map[string]string{
		"image": base64.StdEncoding.EncodeToString(image),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(respBody))
	}

	var out struct {
		Embedding  model.Embedding `json:"embedding"`
		Landmarks  []Point         `json:"landmarks"`
		Confidence float64         `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, ErrNoFaceDetected
	}

	return &Detection{
		Embedding:  out.Embedding,
		Landmarks:  out.Landmarks,
		Confidence: out.Confidence,
	}, nil
}

// Distance measures embedding similarity as Euclidean distance.
func (c *Client) Distance(a, b model.Embedding) float64 {
	return EuclideanDistance(a, b)
}

func (c *Client) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
