package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ServiceStatus is the transcription service's readiness report
type ServiceStatus struct {
	GPUAvailable    bool     `json:"gpu_available"`
	GPUName         string   `json:"gpu_name,omitempty"`
	ModelLoaded     bool     `json:"model_loaded"`
	ModelLoading    bool     `json:"model_loading,omitempty"`
	ModelSize       string   `json:"model_size,omitempty"`
	AvailableModels []string `json:"available_models,omitempty"`
}

// StatusClient queries the service status endpoint
type StatusClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewStatusClient creates a status client for the service at baseURL
func NewStatusClient(baseURL string, timeout time.Duration) *StatusClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StatusClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Status performs GET {base}/status
func (c *StatusClient) Status(ctx context.Context) (*ServiceStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read status body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status HTTP error %d: %s", resp.StatusCode, string(body))
	}

	var status ServiceStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status JSON: %w", err)
	}

	return &status, nil
}
