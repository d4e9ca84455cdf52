package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func chatResponse(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{
				"message": map[string]any{
					"content": content,
				},
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     120,
			"completion_tokens": 40,
			"total_tokens":      160,
		},
	}
}

func TestClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "demo-model" {
			t.Fatalf("unexpected model %q", req.Model)
		}
		if req.ResponseFormat["type"] != "json_object" {
			t.Fatalf("expected json_object response format, got %v", req.ResponseFormat)
		}
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "Reader profile:") {
			t.Fatalf("expected profile in user prompt, got %+v", req.Messages)
		}
		payload := chatResponse(`{"summary":"A thing happened.","key_points":["one","two","three"],"tags":["politics"],"score":0.7}`)
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	result, err := client.Complete(context.Background(), "Some article text.", "Follows politics closely.")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if result.Summary != "A thing happened." {
		t.Fatalf("unexpected summary %q", result.Summary)
	}
	if len(result.KeyPoints) != 3 || len(result.Tags) != 1 {
		t.Fatalf("unexpected key points/tags: %+v", result)
	}
	if result.Score == nil || *result.Score != 0.7 {
		t.Fatalf("unexpected score: %+v", result.Score)
	}
	if result.Usage.TotalTokens != 160 {
		t.Fatalf("unexpected usage: %+v", result.Usage)
	}
}

func TestClientCompleteCodeFence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := chatResponse("```json\n{\"summary\":\"Fenced.\",\"key_points\":[],\"tags\":[]}\n```")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	result, err := client.Summarize(context.Background(), "Some article text.")
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if result.Summary != "Fenced." {
		t.Fatalf("unexpected summary %q", result.Summary)
	}
	if !strings.Contains(result.Raw, "```") {
		t.Fatalf("expected raw payload to retain code fence, got %q", result.Raw)
	}
}

func TestClientCompleteClampsScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := chatResponse(`{"score":12.5}`)
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	result, err := client.Score(context.Background(), "Some article text.", "profile")
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if result.Score == nil || *result.Score != 10 {
		t.Fatalf("expected score clamped to 10, got %+v", result.Score)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		payload := chatResponse(`{"summary":"Recovered.","key_points":[],"tags":[]}`)
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }))
	result, err := client.Summarize(context.Background(), "Some article text.")
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if result.Summary != "Recovered." {
		t.Fatalf("unexpected summary %q", result.Summary)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != 2*time.Second {
		t.Fatalf("unexpected backoff delays %v", slept)
	}
}

func TestClientHonorsRetryAfterHeader(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		payload := chatResponse(`{"summary":"After backoff.","key_points":[],"tags":[]}`)
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }))
	if _, err := client.Summarize(context.Background(), "Some article text."); err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if len(slept) != 1 || slept[0] != 3*time.Second {
		t.Fatalf("expected single 3s delay, got %v", slept)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(time.Duration) {}))
	if _, err := client.Summarize(context.Background(), "Some article text."); err == nil {
		t.Fatal("expected error for unauthorized response")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected single attempt, got %d", calls.Load())
	}
}

func TestClientRetriesEmptyContent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			payload := chatResponse("")
			if err := json.NewEncoder(w).Encode(payload); err != nil {
				t.Fatalf("encode response: %v", err)
			}
			return
		}
		payload := chatResponse(`{"summary":"Second try.","key_points":[],"tags":[]}`)
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(time.Duration) {}))
	result, err := client.Summarize(context.Background(), "Some article text.")
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if result.Summary != "Second try." {
		t.Fatalf("unexpected summary %q", result.Summary)
	}
}

func TestClientRequiresArticleText(t *testing.T) {
	client := NewClient(Config{APIKey: "test", BaseURL: "http://127.0.0.1:0", Model: "demo-model"})
	if _, err := client.Summarize(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank article text")
	}
}

func TestDecodeModelJSONExtractsFromProse(t *testing.T) {
	var parsed struct {
		Summary string `json:"summary"`
	}
	payload := "Here is the analysis you asked for:\n{\"summary\":\"Embedded.\"}\nLet me know if you need more."
	if err := DecodeModelJSON(payload, &parsed); err != nil {
		t.Fatalf("DecodeModelJSON returned error: %v", err)
	}
	if parsed.Summary != "Embedded." {
		t.Fatalf("unexpected summary %q", parsed.Summary)
	}
}
