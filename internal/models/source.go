package models

import (
	"time"
)

// Source is one user-supplied input image. Analysis jobs mutate Name and
// PeopleCount as they complete; Options is a snapshot taken at upload time
// and never changes afterwards.
type Source struct {
	ID          string    `json:"id"`
	Image       []byte    `json:"image,omitempty"`
	Name        *string   `json:"name,omitempty"`
	PeopleCount *int      `json:"people_count,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Options     Options   `json:"options"`
}

// Output format variants for generated artifacts.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

// Options is the generation configuration. One mutable current instance is
// edited by the operator; each Source carries a deep copy frozen at upload.
type Options struct {
	Enabled         map[TaskKind]bool `json:"enabled"`
	Weights         map[TaskKind]int  `json:"weights"`
	StylePriorities map[string]int    `json:"style_priorities,omitempty"`
	GenderBias      string            `json:"gender_bias,omitempty"`
	AgeBias         string            `json:"age_bias,omitempty"`
	StyleBias       string            `json:"style_bias,omitempty"`
	Creativity      float64           `json:"creativity"`
	OutputFormat    string            `json:"output_format"`
}

// DefaultOptions enables the common generation kinds at default weight.
func DefaultOptions() Options {
	enabled := map[TaskKind]bool{
		KindPortrait:      true,
		KindFullBody:      true,
		KindStyleCard:     true,
		KindGroupPortrait: true,
		KindSceneBackdrop: true,
	}
	weights := make(map[TaskKind]int, len(Catalog))
	for kind := range Catalog {
		weights[kind] = PriorityDefault
	}
	return Options{
		Enabled:      enabled,
		Weights:      weights,
		Creativity:   0.5,
		OutputFormat: FormatPNG,
	}
}

// Clone deep-copies the options so a Source snapshot cannot alias the
// operator's live instance.
func (o Options) Clone() Options {
	out := o
	out.Enabled = make(map[TaskKind]bool, len(o.Enabled))
	for k, v := range o.Enabled {
		out.Enabled[k] = v
	}
	out.Weights = make(map[TaskKind]int, len(o.Weights))
	for k, v := range o.Weights {
		out.Weights[k] = v
	}
	if o.StylePriorities != nil {
		out.StylePriorities = make(map[string]int, len(o.StylePriorities))
		for k, v := range o.StylePriorities {
			out.StylePriorities[k] = v
		}
	}
	return out
}

// WeightFor resolves the initial priority for a synthesized job of the
// given kind: per-style override first, then the kind's weight, then the
// default.
func (o Options) WeightFor(kind TaskKind) int {
	if kind == KindStyleCard && o.StyleBias != "" {
		if p, ok := o.StylePriorities[o.StyleBias]; ok {
			return ClampPriority(p)
		}
	}
	if w, ok := o.Weights[kind]; ok && w != 0 {
		return ClampPriority(w)
	}
	return PriorityDefault
}
