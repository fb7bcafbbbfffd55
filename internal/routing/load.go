package routing

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/copytrade/router/internal/filter"
)

// LoadFile reads and resolves the routing configuration at path. When the
// file is missing and examplePath is non-empty, it bootstraps by copying the
// example file into place and retrying once.
func LoadFile(path, examplePath string, registry *filter.Registry) (*Config, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && examplePath != "" {
		if copyErr := bootstrapCopy(examplePath, path); copyErr != nil {
			return nil, fmt.Errorf("routing: bootstrap from %s: %w", examplePath, copyErr)
		}
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("routing: read %s: %w", path, err)
	}

	doc, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return Resolve(doc, registry)
}

func bootstrapCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return nil
}
