package anthropicprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tinyland-inc/nanoclaw/pkg/engine"
	"github.com/tinyland-inc/nanoclaw/pkg/session"
)

func toolUseResponse(name string, input map[string]any) string {
	raw, _ := json.Marshal(input)
	return fmt.Sprintf(`{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4.6",
		"content": [{"type": "tool_use", "id": "toolu_01", "name": %q, "input": %s}],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`, name, raw)
}

func TestClassifyFeature(t *testing.T) {
	var gotReq map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq) //nolint:errcheck
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, toolUseResponse("route_feature", map[string]any{
			"interpreted_feature": "text_to_image",
			"output":              "",
		}))
	}))
	defer ts.Close()

	c := NewClassifier("test-key", ts.URL, "claude-sonnet-4.6")
	transcript := []session.Message{
		{Role: session.RoleAssistant, Content: "Which feature?"},
		{Role: session.RoleHuman, Content: "I want to create an image from text"},
	}

	cls, err := c.ClassifyFeature(context.Background(), transcript)
	if err != nil {
		t.Fatalf("ClassifyFeature: %v", err)
	}
	if cls.Feature != engine.FeatureTextToImage {
		t.Fatalf("feature = %q, want text_to_image", cls.Feature)
	}

	// The tool call must be forced, not optional.
	tc, ok := gotReq["tool_choice"].(map[string]any)
	if !ok || tc["type"] != "tool" || tc["name"] != "route_feature" {
		t.Fatalf("tool_choice = %+v", gotReq["tool_choice"])
	}
	msgs, ok := gotReq["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("messages = %+v", gotReq["messages"])
	}
}

func TestExtractPrompt(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, toolUseResponse("read_prompt", map[string]any{
			"user_prompt": "a banana in space",
			"output":      "",
		}))
	}))
	defer ts.Close()

	c := NewClassifier("test-key", ts.URL, "claude-sonnet-4.6")
	ex, err := c.ExtractPrompt(context.Background(), []session.Message{
		{Role: session.RoleHuman, Content: "a banana in space"},
	})
	if err != nil {
		t.Fatalf("ExtractPrompt: %v", err)
	}
	if ex.Prompt != "a banana in space" {
		t.Fatalf("prompt = %q", ex.Prompt)
	}
}

func TestExtractPromptUnclearReturnsReply(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, toolUseResponse("read_prompt", map[string]any{
			"output": "Could you describe the image you want?",
		}))
	}))
	defer ts.Close()

	c := NewClassifier("test-key", ts.URL, "claude-sonnet-4.6")
	ex, err := c.ExtractPrompt(context.Background(), []session.Message{
		{Role: session.RoleHuman, Content: "hmm"},
	})
	if err != nil {
		t.Fatalf("ExtractPrompt: %v", err)
	}
	if ex.Prompt != "" || ex.Reply != "Could you describe the image you want?" {
		t.Fatalf("extraction = %+v", ex)
	}
}

func TestMissingToolCallErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_01", "type": "message", "role": "assistant",
			"model": "claude-sonnet-4.6",
			"content": [{"type": "text", "text": "sure!"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 1, "output_tokens": 1}
		}`)
	}))
	defer ts.Close()

	c := NewClassifier("test-key", ts.URL, "claude-sonnet-4.6")
	if _, err := c.ClassifyFeature(context.Background(), nil); err == nil {
		t.Fatal("expected an error when no tool call comes back")
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", defaultBaseURL},
		{"https://proxy.example.com", "https://proxy.example.com"},
		{"https://proxy.example.com/", "https://proxy.example.com"},
		{"https://proxy.example.com/v1", "https://proxy.example.com"},
		{"https://proxy.example.com/v1/", "https://proxy.example.com"},
		{"  https://proxy.example.com/v1  ", "https://proxy.example.com"},
	}
	for _, tc := range cases {
		if got := normalizeBaseURL(tc.in); got != tc.want {
			t.Errorf("normalizeBaseURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
