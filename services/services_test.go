package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"convoflow/runtime"
)

func TestHTTPClassifier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/classify" {
			t.Errorf("path: got %q, want /classify", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("error decoding request: %v", err)
		}
		if body["text"] != "where is my order" {
			t.Errorf("request text: got %v", body["text"])
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Classification{
			Intent:     "order_status",
			Confidence: 0.93,
			Entities:   []map[string]any{{"type": "order_number", "value": "ORD-1"}},
		})
	}))
	defer server.Close()

	classifier, err := NewHTTPClassifier(ClassifierConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := classifier.Classify(context.Background(), "where is my order")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Intent != "order_status" || result.Confidence != 0.93 {
		t.Errorf("got %+v", result)
	}
	if len(result.Entities) != 1 || result.Entities[0]["value"] != "ORD-1" {
		t.Errorf("entities: got %v", result.Entities)
	}
}

func TestHTTPClassifierErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantType runtime.FlowErrorType
	}{
		{
			name:     "server error is transient",
			status:   http.StatusBadGateway,
			wantType: runtime.ErrorTypeTransient,
		},
		{
			name:     "client error is permanent",
			status:   http.StatusUnprocessableEntity,
			wantType: runtime.ErrorTypePermanent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			classifier, err := NewHTTPClassifier(ClassifierConfig{BaseURL: server.URL})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			_, err = classifier.Classify(context.Background(), "hello")
			var ferr *runtime.FlowError
			if !errors.As(err, &ferr) {
				t.Fatalf("got %v, want FlowError", err)
			}
			if ferr.Type != tt.wantType {
				t.Errorf("error type: got %q, want %q", ferr.Type, tt.wantType)
			}
		})
	}
}

func TestHTTPClassifierConfigValidation(t *testing.T) {
	if _, err := NewHTTPClassifier(ClassifierConfig{}); err == nil {
		t.Error("expected error for missing base URL")
	}
	if _, err := NewHTTPClassifier(ClassifierConfig{BaseURL: "not a url"}); err == nil {
		t.Error("expected error for malformed base URL")
	}
}

func TestHTTPGenerator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/complete" {
			t.Errorf("path: got %q, want /complete", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("error decoding request: %v", err)
		}
		model, _ := body["model"].(map[string]any)
		if model["model"] != "gpt-4o-mini" {
			t.Errorf("model: got %v, want default applied", model)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Completion{
			Text:       "Your order ships tomorrow.",
			TokenUsage: TokenUsage{Prompt: 10, Completion: 6, Total: 16},
		})
	}))
	defer server.Close()

	generator, err := NewHTTPGenerator(GeneratorConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	completion, err := generator.Complete(context.Background(),
		[]Message{{Role: "user", Content: "summarize"}},
		ModelConfig{}) // empty model falls back to the configured default
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completion.Text != "Your order ships tomorrow." {
		t.Errorf("text: got %q", completion.Text)
	}
	if completion.TokenUsage.Total != 16 {
		t.Errorf("tokens: got %+v", completion.TokenUsage)
	}
}

func TestHTTPToolRegistry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tools/order_lookup" {
			t.Errorf("path: got %q, want /tools/order_lookup", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("error decoding request: %v", err)
		}
		params, _ := body["params"].(map[string]any)
		if params["orderNumber"] != "ORD-1" {
			t.Errorf("params: got %v", params)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ToolResult{Success: true, Data: map[string]any{"status": "shipped"}})
	}))
	defer server.Close()

	tools, err := NewHTTPToolRegistry(ToolRegistryConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := tools.Execute(context.Background(), "order_lookup", map[string]any{"orderNumber": "ORD-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Data["status"] != "shipped" {
		t.Errorf("got %+v", result)
	}
}

func TestLocalToolRegistryUnknownTool(t *testing.T) {
	tools := NewLocalToolRegistry()

	_, err := tools.Execute(context.Background(), "missing", nil)
	var ferr *runtime.FlowError
	if !errors.As(err, &ferr) || ferr.Type != runtime.ErrorTypePermanent {
		t.Errorf("got %v, want permanent flow error", err)
	}
}
