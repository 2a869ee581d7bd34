package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MetadataFile is the label metadata file exported alongside the model.
const MetadataFile = "metadata.json"

// DefaultImageSize is the square input size used when metadata omits it.
const DefaultImageSize = 224

// Metadata is the subset of the exported model metadata mudra relies on.
type Metadata struct {
	ModelName string   `json:"modelName"`
	Labels    []string `json:"labels"`
	ImageSize int      `json:"imageSize"`
}

// ReadMetadata loads metadata.json from a model directory.
func ReadMetadata(modelDir string) (*Metadata, error) {
	path := filepath.Join(modelDir, MetadataFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}

	if len(meta.Labels) == 0 {
		return nil, fmt.Errorf("metadata %s lists no labels", path)
	}

	seen := make(map[string]bool, len(meta.Labels))
	for _, l := range meta.Labels {
		if l == "" {
			return nil, fmt.Errorf("metadata %s has an empty label", path)
		}
		if seen[l] {
			return nil, fmt.Errorf("metadata %s repeats label %q", path, l)
		}
		seen[l] = true
	}

	if meta.ImageSize <= 0 {
		meta.ImageSize = DefaultImageSize
	}

	return &meta, nil
}
