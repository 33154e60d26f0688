package backend

import (
	"context"
	"errors"
	"fmt"
)

// Classification separates failures the caller may retry from content
// policy refusals, which fail identically on every retry.
type Classification string

const (
	ClassTransient Classification = "transient"
	ClassPolicy    Classification = "policy"
)

// Error is a failure returned by the generation backend.
type Error struct {
	Classification Classification
	Message        string
	StatusCode     int
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("backend %s (%d): %s", e.Classification, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend %s: %s", e.Classification, e.Message)
}

// IsPolicyRejection reports whether err is a content policy refusal.
// Anything unrecognized counts as transient, so a job is never silently
// dropped on an unexpected error shape.
func IsPolicyRejection(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Classification == ClassPolicy
	}
	return false
}

// Detection is one subject found in a scanned image.
type Detection struct {
	Description string      `json:"description"`
	Box         *[4]float64 `json:"box,omitempty"`
}

// Artifact is a generated image plus the prompt that produced it.
type Artifact struct {
	Data       []byte
	MIME       string
	PromptUsed string
}

// GenerateRequest is the normalized request passed to the backend for a
// generation kind.
type GenerateRequest struct {
	Image      []byte
	Prompt     string
	Creativity float64
}

// Client is the contract the executor drives. Implementations wrap one
// remote generative-image API.
type Client interface {
	// Configured reports whether a usable API credential is present.
	Configured() bool
	// DetectSubjects finds people in an image. A "no subjects" outcome is
	// an empty slice, never nil with a nil error.
	DetectSubjects(ctx context.Context, image []byte, genderBias string) ([]Detection, error)
	// GenerateArtifact produces one stylized image.
	GenerateArtifact(ctx context.Context, req GenerateRequest) (Artifact, error)
	// GenerateName suggests a short display name for an image.
	GenerateName(ctx context.Context, image []byte) (string, error)
}
