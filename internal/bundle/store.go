package bundle

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Skufu/postop-risk/internal/errorx"
	"github.com/Skufu/postop-risk/internal/ml"
)

const (
	formatTag     = "postop-risk/bundle"
	formatVersion = 1
	artifactStem  = "complication_predictor"
	artifactExt   = ".gob"
)

type envelope struct {
	Format  string
	Version int
	Bundle  *Bundle
}

// DefaultPath is the artifact the server loads for a slot.
func DefaultPath(dir string, slot Slot) string {
	return filepath.Join(dir, artifactStem+slot.suffix()+artifactExt)
}

// FamilyPath is the artifact kept for one family of a comparison run.
func FamilyPath(dir string, slot Slot, family ml.Family) string {
	return filepath.Join(dir, artifactStem+slot.suffix()+"_"+family.Short()+artifactExt)
}

// Save writes b to path. The file is written next to its destination and
// renamed into place, so readers see either the old artifact or the new one.
func Save(b *Bundle, path string) (err error) {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("save bundle: %w", err)
	}
	if !b.Trained() {
		return fmt.Errorf("save bundle: %w", errorx.ErrUntrainedModel)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	env := envelope{Format: formatTag, Version: formatVersion, Bundle: b}
	if err = gob.NewEncoder(tmp).Encode(&env); err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

// Load reads a bundle written by Save.
func Load(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", errorx.ErrArtifactNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	var env envelope
	if err := gob.NewDecoder(f).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errorx.ErrArtifactCorrupt, path, err)
	}
	if env.Format != formatTag {
		return nil, fmt.Errorf("%w: %s: unexpected format %q", errorx.ErrArtifactCorrupt, path, env.Format)
	}
	if env.Version != formatVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", errorx.ErrArtifactCorrupt, path, env.Version)
	}
	if err := env.Bundle.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return env.Bundle, nil
}
