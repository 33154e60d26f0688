package prompt

import (
	"fmt"
	"strings"

	"portrait-studio-orchestrator/internal/models"
)

// DefaultNegative lists artefacts every prompt asks the model to avoid.
const DefaultNegative = "low quality, blurry, distorted, washed out, incorrect anatomy, extra limbs, text artefacts, watermark"

// Params carries everything the builder may weave into a prompt.
type Params struct {
	Subject string
	Box     *[4]float64
	Options models.Options
}

// Build converts a task kind and parameters into a natural language
// instruction for the image model. It has no failure mode; unknown kinds
// fall back to a generic variant instruction.
func Build(kind models.TaskKind, p Params) string {
	var lines []string

	def, known := models.Catalog[kind]
	switch {
	case !known:
		lines = append(lines, "Create a refined artistic variant of the supplied photo.")
	case def.Category == models.CategoryPerson:
		lines = append(lines, fmt.Sprintf("Create a %s based on the supplied photo.", def.Label))
	case def.Category == models.CategoryGroup:
		lines = append(lines, fmt.Sprintf("Create a %s featuring every person in the supplied photo together.", def.Label))
	default:
		lines = append(lines, fmt.Sprintf("Create a %s inspired by the supplied photo.", def.Label))
	}

	if subject := strings.TrimSpace(p.Subject); subject != "" {
		lines = append(lines, fmt.Sprintf("Focus on this subject: %s.", subject))
	}
	if p.Box != nil {
		lines = append(lines, fmt.Sprintf(
			"The subject occupies the region [%.2f, %.2f, %.2f, %.2f] of the frame (normalized coordinates).",
			p.Box[0], p.Box[1], p.Box[2], p.Box[3]))
	}

	var direction []string
	if style := strings.TrimSpace(p.Options.StyleBias); style != "" {
		direction = append(direction, fmt.Sprintf("art style %q", style))
	}
	if age := strings.TrimSpace(p.Options.AgeBias); age != "" {
		direction = append(direction, fmt.Sprintf("age presentation %q", age))
	}
	if gender := strings.TrimSpace(p.Options.GenderBias); gender != "" {
		direction = append(direction, fmt.Sprintf("gender presentation %q", gender))
	}
	if len(direction) > 0 {
		lines = append(lines, "Visual direction: "+strings.Join(direction, ", ")+".")
	}

	switch {
	case p.Options.Creativity >= 0.75:
		lines = append(lines, "Take bold creative liberties with composition and palette.")
	case p.Options.Creativity <= 0.25:
		lines = append(lines, "Stay faithful to the original photo; change only what the task requires.")
	}

	lines = append(lines, "Avoid: "+DefaultNegative+".")
	return strings.Join(lines, " ")
}
