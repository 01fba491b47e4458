package preprocess

import (
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

// Save writes mat as <variant>_preprocessed_<index>.png inside dir and returns
// the written path. dir is created when missing.
func Save(mat gocv.Mat, dir string, variant Variant, index int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, variant.OutputName(index))
	if ok := gocv.IMWrite(path, mat); !ok {
		return "", fmt.Errorf("failed to write %s", path)
	}
	return path, nil
}
