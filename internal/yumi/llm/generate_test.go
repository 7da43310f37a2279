package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGenerateClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/generate" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k-123" {
			t.Errorf("Authorization = %q", got)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Stream {
			t.Error("expected stream=false")
		}
		if req.Model != "yumi-7b" || req.Temperature != 0.5 || req.MaxOutputTokens != 64 {
			t.Errorf("unexpected request %+v", req)
		}
		if req.Options.Temperature != 0.5 || req.Options.NumPredict != 64 {
			t.Errorf("options = %+v, want temperature 0.5 and num_predict 64", req.Options)
		}
		if !strings.HasPrefix(req.Prompt, "SYSTEM\n\n") || !strings.HasSuffix(req.Prompt, "hello there") {
			t.Errorf("prompt = %q", req.Prompt)
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "hi! how are you today?", Done: true})
	}))
	defer srv.Close()

	c := NewGenerateClient(GenerateConfig{BaseURL: srv.URL + "/", Model: "yumi-7b", APIKey: "k-123"})
	got, err := c.Complete(context.Background(), Request{System: "SYSTEM", Prompt: "hello there", Temperature: 0.5, MaxTokens: 64})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "hi! how are you today?" {
		t.Errorf("got %q", got)
	}
}

func TestGenerateClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(error) bool
	}{
		{
			name: "http status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
			check: func(err error) bool {
				var se *StatusError
				return errors.As(err, &se) && se.Code == http.StatusServiceUnavailable
			},
		},
		{
			name:    "empty response",
			handler: func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"response":"  "}`) },
			check:   func(err error) bool { return errors.Is(err, ErrEmptyResponse) },
		},
		{
			name:    "backend error field",
			handler: func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"error":"model not found"}`) },
			check:   func(err error) bool { return err != nil && strings.Contains(err.Error(), "model not found") },
		},
		{
			name:    "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `<html>`) },
			check:   func(err error) bool { return err != nil },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewGenerateClient(GenerateConfig{BaseURL: srv.URL}).Complete(context.Background(), Request{Prompt: "x"})
			if !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestGenerateClient_TimeoutIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewGenerateClient(GenerateConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestGenerateClient_StreamingComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("expected stream=true")
		}
		fmt.Fprintln(w, `{"response":"a cat ","done":false}`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"response":"on a mat","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true}`)
		fmt.Fprintln(w, `{"response":"ignored","done":false}`)
	}))
	defer srv.Close()

	got, err := NewGenerateClient(GenerateConfig{BaseURL: srv.URL, Stream: true}).Complete(context.Background(), Request{Prompt: "describe"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "a cat on a mat" {
		t.Errorf("got %q", got)
	}
}

func TestGenerateClient_SendsZeroTemperature(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "steady as she goes", Done: true})
	}))
	defer srv.Close()

	c := NewGenerateClient(GenerateConfig{BaseURL: srv.URL})
	if _, err := c.Complete(context.Background(), Request{Prompt: "hi", Temperature: 0}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	opts, _ := raw["options"].(map[string]any)
	if v, ok := opts["temperature"]; !ok || v != 0.0 {
		t.Errorf("options = %v, want temperature 0", raw["options"])
	}
}
