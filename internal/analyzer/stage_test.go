package analyzer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personaforge/personaforge/internal/models"
)

func TestDefaultPipelines_CoverAllModalities(t *testing.T) {
	ps := DefaultPipelines()
	for _, m := range []models.Modality{models.ModalityText, models.ModalityAudio, models.ModalityVideo, models.ModalityImage} {
		pipeline := ps.ForModality(m)
		require.NotNil(t, pipeline, "missing pipeline for %s", m)
		require.NotEmpty(t, pipeline.Stages)
		for _, stage := range pipeline.Stages {
			assert.NotEmpty(t, stage.ID)
			assert.NotEmpty(t, stage.Scope, "every stage needs its own consent scope")
			assert.Greater(t, stage.Timeout, time.Duration(0))
		}
	}

	assert.Nil(t, ps.ForModality("hologram"))
}

func TestLoadPipelines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipelines.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipelines:
  - modality: text
    stages:
      - id: text-sentiment
        scope: analyze:text:sentiment
        timeout: 30s
      - id: text-custom
        scope: analyze:text:custom
`), 0644))

	ps, err := LoadPipelines(path)
	require.NoError(t, err)

	pipeline := ps.ForModality(models.ModalityText)
	require.NotNil(t, pipeline)
	require.Len(t, pipeline.Stages, 2)

	assert.Equal(t, 30*time.Second, pipeline.Stages[0].Timeout)
	assert.Equal(t, models.ModalityText, pipeline.Stages[0].Modality, "stages inherit the pipeline modality")
	assert.Equal(t, 90*time.Second, pipeline.Stages[1].Timeout, "missing timeouts get the default")
}

func TestLoadPipelines_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing stage id",
			yaml: "pipelines:\n  - modality: text\n    stages:\n      - scope: analyze:text:x\n",
		},
		{
			name: "missing scope",
			yaml: "pipelines:\n  - modality: text\n    stages:\n      - id: text-x\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "pipelines.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))
			_, err := LoadPipelines(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadPipelines_MissingFile(t *testing.T) {
	_, err := LoadPipelines(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
