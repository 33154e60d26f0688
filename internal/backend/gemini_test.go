package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) (*Gemini, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g := NewGemini(GeminiOptions{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "test-model",
		Logger:  zerolog.Nop(),
	})
	return g, srv
}

func textResponse(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"parts": []map[string]any{{"text": text}},
			},
		}},
	}
}

func TestConfigured(t *testing.T) {
	if NewGemini(GeminiOptions{}).Configured() {
		t.Fatalf("client without key must report unconfigured")
	}
	if !NewGemini(GeminiOptions{APIKey: "k"}).Configured() {
		t.Fatalf("client with key must report configured")
	}
}

func TestDetectSubjectsParsesJSON(t *testing.T) {
	g, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key query param")
		}
		_ = json.NewEncoder(w).Encode(textResponse(
			`[{"description":"person in red","box":[0.1,0.2,0.5,0.9]},{"description":"child"}]`))
	})

	detections, err := g.DetectSubjects(context.Background(), []byte("img"), "")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(detections) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(detections))
	}
	if detections[0].Box == nil || detections[0].Box[2] != 0.5 {
		t.Fatalf("box not parsed: %+v", detections[0])
	}
	if detections[1].Box != nil {
		t.Fatalf("missing box must stay nil")
	}
}

func TestDetectSubjectsEmptyNeverNil(t *testing.T) {
	g, _ := newTestGemini(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(textResponse(`[]`))
	})
	detections, err := g.DetectSubjects(context.Background(), []byte("img"), "")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if detections == nil {
		t.Fatalf("no-subjects result must be an empty slice, not nil")
	}
}

func TestGenerateArtifactDecodesInlineData(t *testing.T) {
	g, _ := newTestGemini(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{{
						"inlineData": map[string]any{
							"mimeType": "image/png",
							"data":     base64.StdEncoding.EncodeToString([]byte("pixels")),
						},
					}},
				},
			}},
		})
	})

	artifact, err := g.GenerateArtifact(context.Background(), GenerateRequest{
		Image:  []byte("img"),
		Prompt: "a portrait",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(artifact.Data) != "pixels" || artifact.MIME != "image/png" {
		t.Fatalf("bad artifact: %+v", artifact)
	}
	if artifact.PromptUsed != "a portrait" {
		t.Fatalf("prompt must be echoed for audit")
	}
}

func TestSafetyFinishReasonIsPolicy(t *testing.T) {
	g, _ := newTestGemini(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{},
				"finishReason": "SAFETY",
			}},
		})
	})

	_, err := g.GenerateArtifact(context.Background(), GenerateRequest{Image: []byte("x"), Prompt: "p"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsPolicyRejection(err) {
		t.Fatalf("SAFETY finish reason must classify as policy, got %v", err)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	g, _ := newTestGemini(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := g.GenerateName(context.Background(), []byte("x"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if IsPolicyRejection(err) {
		t.Fatalf("5xx must classify as transient, got %v", err)
	}
}

func TestPolicyStatusOnHTTPError(t *testing.T) {
	g, _ := newTestGemini(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "blocked", "status": "PROHIBITED_CONTENT"},
		})
	})

	_, err := g.GenerateName(context.Background(), []byte("x"))
	if !IsPolicyRejection(err) {
		t.Fatalf("prohibited content status must classify as policy, got %v", err)
	}
}

func TestGenerateNameTrimsQuotes(t *testing.T) {
	g, _ := newTestGemini(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(textResponse("\"Sunset Walk\"\n"))
	})
	name, err := g.GenerateName(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("name: %v", err)
	}
	if name != "Sunset Walk" {
		t.Fatalf("expected trimmed name, got %q", name)
	}
}
