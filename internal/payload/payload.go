// Package payload defines the typed job payloads accepted by the engine.
// Each job type has its own schema, decoded and validated at admission
// time so malformed submissions are rejected synchronously.
package payload

import (
	"encoding/json"
	"fmt"
	"sync"

	"genforge/internal/errs"
)

// Payload is implemented by every job-type payload variant.
type Payload interface {
	Validate() error
}

const (
	TypeVideoGeneration = "video-generation"
	TypeImageGeneration = "image-generation"
	TypeAudioGeneration = "audio-generation"
	TypeTextGeneration  = "text-generation"
)

type VideoGeneration struct {
	Prompt      string `json:"prompt"`
	DurationSec int    `json:"durationSec"`
	Resolution  string `json:"resolution"`
}

func (p *VideoGeneration) Validate() error {
	if p.Prompt == "" {
		return fmt.Errorf("video-generation: prompt is required")
	}
	if p.DurationSec < 1 || p.DurationSec > 600 {
		return fmt.Errorf("video-generation: durationSec must be between 1 and 600, got %d", p.DurationSec)
	}
	return nil
}

type ImageGeneration struct {
	Prompt  string `json:"prompt"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Samples int    `json:"samples"`
}

func (p *ImageGeneration) Validate() error {
	if p.Prompt == "" {
		return fmt.Errorf("image-generation: prompt is required")
	}
	if p.Width < 1 || p.Height < 1 {
		return fmt.Errorf("image-generation: width and height must be positive")
	}
	if p.Samples < 0 {
		return fmt.Errorf("image-generation: samples must not be negative")
	}
	return nil
}

type AudioGeneration struct {
	Prompt      string `json:"prompt"`
	DurationSec int    `json:"durationSec"`
	Voice       string `json:"voice"`
}

func (p *AudioGeneration) Validate() error {
	if p.Prompt == "" {
		return fmt.Errorf("audio-generation: prompt is required")
	}
	if p.DurationSec < 1 {
		return fmt.Errorf("audio-generation: durationSec must be positive")
	}
	return nil
}

type TextGeneration struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"maxTokens"`
}

func (p *TextGeneration) Validate() error {
	if p.Prompt == "" {
		return fmt.Errorf("text-generation: prompt is required")
	}
	if p.MaxTokens < 1 {
		return fmt.Errorf("text-generation: maxTokens must be positive")
	}
	return nil
}

// Registry maps job types to payload constructors. The engine consults it
// both to reject unknown job types and to decode submissions.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() Payload
}

func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]func() Payload)}
	r.Register(TypeVideoGeneration, func() Payload { return &VideoGeneration{} })
	r.Register(TypeImageGeneration, func() Payload { return &ImageGeneration{} })
	r.Register(TypeAudioGeneration, func() Payload { return &AudioGeneration{} })
	r.Register(TypeTextGeneration, func() Payload { return &TextGeneration{} })
	return r
}

func (r *Registry) Register(jobType string, factory func() Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[jobType] = factory
}

func (r *Registry) Known(jobType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[jobType]
	return ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}

// Decode parses and validates a raw payload for the given job type.
// Unknown types and schema violations come back as a ValidationError.
func (r *Registry) Decode(jobType string, raw json.RawMessage) (Payload, error) {
	r.mu.RLock()
	factory, ok := r.factories[jobType]
	r.mu.RUnlock()

	if !ok {
		verr := &errs.ValidationError{}
		verr.Add(fmt.Errorf("unknown job type: %q", jobType))
		return nil, verr
	}

	p := factory()
	if err := json.Unmarshal(raw, p); err != nil {
		verr := &errs.ValidationError{}
		verr.Add(fmt.Errorf("malformed payload for %q: %w", jobType, err))
		return nil, verr
	}
	if err := p.Validate(); err != nil {
		verr := &errs.ValidationError{}
		verr.Add(err)
		return nil, verr
	}
	return p, nil
}
