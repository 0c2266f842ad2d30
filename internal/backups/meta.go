package backups

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/blackwell-systems/hytalectl/internal/fsutil"
)

// MetaPath returns the metadata path for an artifact.
func MetaPath(artifact string) string {
	return artifact + MetaSuffix
}

// WriteMeta writes the metadata record next to artifact.
func WriteMeta(artifact string, meta Meta) error {
	jsonData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backup metadata: %w", err)
	}
	if err := fsutil.WriteFileAtomic(MetaPath(artifact), jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write backup metadata: %w", err)
	}
	return nil
}

// ReadMeta reads the metadata record next to artifact.
func ReadMeta(artifact string) (Meta, error) {
	var meta Meta
	data, err := os.ReadFile(MetaPath(artifact))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("corrupt metadata for %s: %w", artifact, err)
	}
	return meta, nil
}
