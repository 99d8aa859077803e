package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/assessor/internal/model"
)

// fakeOpenAI serves chat completions whose content is produced by reply.
func fakeOpenAI(t *testing.T, reply func(prompt string) string) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		content := reply(req.Messages[0].Content)
		if content == "" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"choices": []}`))
			return
		}
		resp := map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object": "list", "data": [{"id": "test-model", "object": "model"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/v1", "key", "test-model", WithRateLimit(100, 10))
}

func TestJudgeAnswer(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantErr     bool
		wantCorrect bool
		wantScore   float64
	}{
		{"correct", `{"is_correct": true, "score": 95, "feedback": "Nice"}`, false, true, 95},
		{"partial", `{"is_correct": false, "score": 40, "feedback": "Close"}`, false, false, 40},
		{"string true is not trusted", `{"is_correct": "true", "score": 70}`, false, false, 70},
		{"score clamped", `{"is_correct": false, "score": 140}`, false, false, 100},
		{"correct without score", `{"is_correct": true}`, false, true, 0},
		{"no score", `{"is_correct": false, "feedback": "?"}`, true, false, 0},
		{"not json", `I think it's right`, true, false, 0},
		{"no choices", ``, true, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fakeOpenAI(t, func(string) string { return tt.content })
			got, err := c.JudgeAnswer(context.Background(), model.JudgeRequest{
				QuestionText: "2 + 2 = ___", ReferenceAnswer: "4", SubmittedAnswer: "four",
			})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("JudgeAnswer: %v", err)
			}
			if got.IsCorrect != tt.wantCorrect || got.Score != tt.wantScore {
				t.Errorf("JudgeAnswer() = %+v, want correct=%v score=%v", got, tt.wantCorrect, tt.wantScore)
			}
		})
	}
}

func TestGenerateHint(t *testing.T) {
	var seen string
	c := fakeOpenAI(t, func(prompt string) string {
		seen = prompt
		return `{"hint": "  Think about even numbers.  "}`
	})
	hint, err := c.GenerateHint(context.Background(), model.HintRequest{
		QuestionText: "2 + 2 = ___", ReferenceAnswer: "4", WrongAnswer: "5",
	})
	if err != nil {
		t.Fatalf("GenerateHint: %v", err)
	}
	if hint != "Think about even numbers." {
		t.Errorf("hint = %q", hint)
	}
	if !strings.Contains(seen, "5") {
		t.Error("prompt should include the wrong answer")
	}

	empty := fakeOpenAI(t, func(string) string { return `{"hint": ""}` })
	if _, err := empty.GenerateHint(context.Background(), model.HintRequest{}); !errors.Is(err, ErrUnusable) {
		t.Errorf("expected ErrUnusable, got %v", err)
	}
}

func TestGenerateExplanation(t *testing.T) {
	c := fakeOpenAI(t, func(prompt string) string {
		if strings.Contains(prompt, "why four") {
			return `{"content": "Because two pairs make four."}`
		}
		return `{"content": "Adding means combining."}`
	})

	got, err := c.GenerateExplanation(context.Background(), model.ExplanationRequest{QuestionText: "2 + 2 = ___", ReferenceAnswer: "4"})
	if err != nil {
		t.Fatalf("GenerateExplanation: %v", err)
	}
	if got != "Adding means combining." {
		t.Errorf("explanation = %q", got)
	}

	got, err = c.GenerateExplanation(context.Background(), model.ExplanationRequest{
		QuestionText: "2 + 2 = ___", ReferenceAnswer: "4", FollowUpQuestion: "why four?",
	})
	if err != nil {
		t.Fatalf("GenerateExplanation follow-up: %v", err)
	}
	if got != "Because two pairs make four." {
		t.Errorf("follow-up explanation = %q", got)
	}
}

func TestPing(t *testing.T) {
	c := fakeOpenAI(t, func(string) string { return "" })
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestClampScore(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-5, 0}, {0, 0}, {55.5, 55.5}, {100, 100}, {250, 100},
	}
	for _, tt := range tests {
		if got := clampScore(tt.in); got != tt.want {
			t.Errorf("clampScore(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
