package analyzer

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/personaforge/personaforge/internal/models"
)

// Stage is one consent-scoped unit of analysis within a modality pipeline
type Stage struct {
	ID       string            `yaml:"id"`
	Modality models.Modality   `yaml:"modality"`
	Scope    string            `yaml:"scope"` // required-capability scope, e.g. "analyze:text:sentiment"
	Timeout  time.Duration     `yaml:"timeout"`
	Config   map[string]string `yaml:"config,omitempty"`
}

// Pipeline is the ordered stage list for one modality
type Pipeline struct {
	Modality models.Modality `yaml:"modality"`
	Stages   []Stage         `yaml:"stages"`
}

// PipelineSet holds the pipelines for every supported modality
type PipelineSet struct {
	Pipelines []Pipeline `yaml:"pipelines"`
}

// ForModality returns the pipeline for a modality, or nil when unsupported
func (ps *PipelineSet) ForModality(m models.Modality) *Pipeline {
	for i := range ps.Pipelines {
		if ps.Pipelines[i].Modality == m {
			return &ps.Pipelines[i]
		}
	}
	return nil
}

// DefaultPipelines returns the built-in stage definitions
func DefaultPipelines() *PipelineSet {
	return &PipelineSet{
		Pipelines: []Pipeline{
			{
				Modality: models.ModalityText,
				Stages: []Stage{
					{ID: "text-sentiment", Modality: models.ModalityText, Scope: "analyze:text:sentiment", Timeout: 90 * time.Second},
					{ID: "text-topics", Modality: models.ModalityText, Scope: "analyze:text:topics", Timeout: 90 * time.Second},
					{ID: "text-style", Modality: models.ModalityText, Scope: "analyze:text:style", Timeout: 90 * time.Second},
				},
			},
			{
				Modality: models.ModalityAudio,
				Stages: []Stage{
					{ID: "audio-transcription", Modality: models.ModalityAudio, Scope: "analyze:audio:transcription", Timeout: 180 * time.Second},
					{ID: "audio-emotion", Modality: models.ModalityAudio, Scope: "analyze:audio:emotion", Timeout: 120 * time.Second},
				},
			},
			{
				Modality: models.ModalityVideo,
				Stages: []Stage{
					{ID: "video-multimodal", Modality: models.ModalityVideo, Scope: "analyze:video:multimodal", Timeout: 300 * time.Second},
				},
			},
			{
				Modality: models.ModalityImage,
				Stages: []Stage{
					{ID: "image-interests", Modality: models.ModalityImage, Scope: "analyze:image:interests", Timeout: 120 * time.Second},
				},
			},
		},
	}
}

// LoadPipelines reads stage definitions from a YAML file. Stages inherit the
// pipeline modality when their own is unset; a missing timeout gets a default.
func LoadPipelines(path string) (*PipelineSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}

	var ps PipelineSet
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("parse pipeline file: %w", err)
	}

	for pi := range ps.Pipelines {
		p := &ps.Pipelines[pi]
		for si := range p.Stages {
			stage := &p.Stages[si]
			if stage.Modality == "" {
				stage.Modality = p.Modality
			}
			if stage.Timeout <= 0 {
				stage.Timeout = 90 * time.Second
			}
			if stage.ID == "" {
				return nil, fmt.Errorf("pipeline %s: stage %d has no id", p.Modality, si)
			}
			if stage.Scope == "" {
				return nil, fmt.Errorf("pipeline %s: stage %s has no consent scope", p.Modality, stage.ID)
			}
		}
	}

	return &ps, nil
}
