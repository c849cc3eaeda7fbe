package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/salescope/dealrisk/internal/atomicio"
	"github.com/salescope/dealrisk/internal/domain/features"
	"github.com/salescope/dealrisk/internal/domain/model"
)

// ModelArtifact is a trained model plus the vocabulary it was fitted with.
// The two are versioned and persisted together; a model reused without its
// vocabulary cannot encode categoricals consistently.
type ModelArtifact struct {
	Model      *model.Model         `json:"model"`
	Vocabulary *features.Vocabulary `json:"vocabulary"`
}

// SaveArtifact persists the artifact atomically.
func SaveArtifact(path string, a ModelArtifact) error {
	if a.Model == nil || a.Vocabulary == nil {
		return fmt.Errorf("artifact requires both model and vocabulary")
	}
	return atomicio.WriteJSON(path, a)
}

// LoadArtifact reads an artifact written by SaveArtifact.
func LoadArtifact(path string) (ModelArtifact, error) {
	var a ModelArtifact
	data, err := os.ReadFile(path)
	if err != nil {
		return a, fmt.Errorf("read model artifact: %w", err)
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("parse model artifact %s: %w", path, err)
	}
	if a.Model == nil || a.Vocabulary == nil {
		return a, fmt.Errorf("model artifact %s missing model or vocabulary", path)
	}
	return a, nil
}
