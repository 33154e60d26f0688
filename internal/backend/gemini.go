package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// GeminiOptions configures the Gemini-backed client.
type GeminiOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Gemini drives the generateContent endpoint for detection, naming, and
// image generation.
type Gemini struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewGemini builds a client with sane defaults for anything unset.
func NewGemini(opts GeminiOptions) *Gemini {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash-image"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Gemini{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

func (g *Gemini) Configured() bool {
	return g.apiKey != ""
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiGenConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback"`
}

type geminiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Finish/block reasons that indicate a content policy refusal rather than
// an infrastructure failure.
var policyMarkers = []string{"SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST", "IMAGE_SAFETY"}

func isPolicyMarker(reason string) bool {
	reason = strings.ToUpper(reason)
	for _, m := range policyMarkers {
		if strings.Contains(reason, m) {
			return true
		}
	}
	return false
}

// DetectSubjects asks the model for a JSON listing of people in the image.
func (g *Gemini) DetectSubjects(ctx context.Context, image []byte, genderBias string) ([]Detection, error) {
	instruction := "List every person visible in this photo as a JSON array of objects " +
		`with fields "description" (short, distinguishing) and optional "box" ` +
		"(normalized [x0,y0,x1,y1]). Return [] if nobody is visible."
	if genderBias != "" {
		instruction += " When describing people, prefer " + genderBias + " phrasing where ambiguous."
	}

	payload := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: instruction},
				{InlineData: &geminiInlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(image)}},
			},
		}},
		GenerationConfig: &geminiGenConfig{ResponseMimeType: "application/json"},
	}

	var resp geminiResponse
	if err := g.invoke(ctx, payload, &resp); err != nil {
		return nil, err
	}
	text, err := firstText(resp)
	if err != nil {
		return nil, err
	}

	var detections []Detection
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &detections); err != nil {
		return nil, &Error{Classification: ClassTransient, Message: fmt.Sprintf("unparseable detection response: %v", err)}
	}
	if detections == nil {
		detections = []Detection{}
	}
	g.logger.Debug().Int("subjects", len(detections)).Msg("backend: scan complete")
	return detections, nil
}

// GenerateArtifact produces one stylized image for the prompt.
func (g *Gemini) GenerateArtifact(ctx context.Context, req GenerateRequest) (Artifact, error) {
	temp := req.Creativity * 2 // model takes [0,2], options carry [0,1]
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: req.Prompt},
				{InlineData: &geminiInlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(req.Image)}},
			},
		}},
		GenerationConfig: &geminiGenConfig{Temperature: &temp},
	}

	var resp geminiResponse
	if err := g.invoke(ctx, payload, &resp); err != nil {
		return Artifact{}, err
	}

	for _, candidate := range resp.Candidates {
		if isPolicyMarker(candidate.FinishReason) {
			return Artifact{}, &Error{Classification: ClassPolicy, Message: "generation refused: " + candidate.FinishReason}
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil || len(data) == 0 {
				continue
			}
			mime := part.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			return Artifact{Data: data, MIME: mime, PromptUsed: req.Prompt}, nil
		}
	}
	return Artifact{}, &Error{Classification: ClassTransient, Message: "no image content returned"}
}

// GenerateName asks for a short display name for the image.
func (g *Gemini) GenerateName(ctx context.Context, image []byte) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: "Suggest a short, friendly title for this photo. Reply with the title only."},
				{InlineData: &geminiInlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(image)}},
			},
		}},
	}

	var resp geminiResponse
	if err := g.invoke(ctx, payload, &resp); err != nil {
		return "", err
	}
	text, err := firstText(resp)
	if err != nil {
		return "", err
	}
	name := strings.Trim(strings.TrimSpace(text), `"`)
	if name == "" {
		return "", &Error{Classification: ClassTransient, Message: "empty name returned"}
	}
	return name, nil
}

func firstText(resp geminiResponse) (string, error) {
	if isPolicyMarker(resp.PromptFeedback.BlockReason) {
		return "", &Error{Classification: ClassPolicy, Message: "prompt blocked: " + resp.PromptFeedback.BlockReason}
	}
	for _, candidate := range resp.Candidates {
		if isPolicyMarker(candidate.FinishReason) {
			return "", &Error{Classification: ClassPolicy, Message: "response refused: " + candidate.FinishReason}
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				return part.Text, nil
			}
		}
	}
	return "", &Error{Classification: ClassTransient, Message: "no text content returned"}
}

func (g *Gemini) invoke(ctx context.Context, payload geminiRequest, out *geminiResponse) error {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimRight(g.baseURL, "/"), url.PathEscape(g.model))

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", g.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &Error{Classification: ClassTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr geminiErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		class := ClassTransient
		if isPolicyMarker(apiErr.Error.Status) || isPolicyMarker(msg) {
			class = ClassPolicy
		}
		return &Error{Classification: class, Message: msg, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Classification: ClassTransient, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}
