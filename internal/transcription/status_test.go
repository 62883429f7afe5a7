package transcription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"gpu_available":true,"gpu_name":"RTX 4090","model_loaded":true,"model_size":"base","available_models":["tiny","base"]}`))
	}))
	defer srv.Close()

	status, err := NewStatusClient(srv.URL+"/", 0).Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	if !status.GPUAvailable || status.GPUName != "RTX 4090" {
		t.Errorf("Unexpected GPU info: %+v", status)
	}
	if !status.ModelLoaded || status.ModelSize != "base" {
		t.Errorf("Unexpected model info: %+v", status)
	}
	if len(status.AvailableModels) != 2 {
		t.Errorf("Expected 2 available models, got %v", status.AvailableModels)
	}
}

func TestStatusClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewStatusClient(srv.URL, 0).Status(context.Background()); err == nil {
		t.Error("Expected error for 500 response")
	}
}
