// Package export writes evaluation results: per-frame importance scores as
// JSON and, optionally, an append-only archive of the same weights.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

// ScoreFileMode is applied to every score file after it is written.
const ScoreFileMode os.FileMode = 0o777

// Scores maps a video id to its per-frame importance weights.
type Scores map[string][]float64

// ScorePath returns <dir>/<videoType>_<epoch>.json.
func ScorePath(dir, videoType string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d.json", videoType, epoch))
}

// WriteScores replaces path with a JSON snapshot of scores. The file is
// written to a temporary sibling and renamed, so readers never see a partial
// snapshot.
func WriteScores(path string, scores Scores) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return perrors.Wrapf(err, "create score dir %s", dir)
	}

	data, err := json.Marshal(scores)
	if err != nil {
		return perrors.Wrap(err, "encode scores")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return perrors.Wrap(err, "create temporary score file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return perrors.Wrap(err, "write scores")
	}
	if err := tmp.Close(); err != nil {
		return perrors.Wrap(err, "close temporary score file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return perrors.Wrapf(err, "replace %s", path)
	}
	if err := os.Chmod(path, ScoreFileMode); err != nil {
		return perrors.Wrapf(err, "chmod %s", path)
	}
	return nil
}

// ReadScores loads a snapshot written by WriteScores.
func ReadScores(path string) (Scores, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.Wrapf(err, "read %s", path)
	}
	var scores Scores
	if err := json.Unmarshal(data, &scores); err != nil {
		return nil, perrors.Wrapf(err, "decode %s", path)
	}
	return scores, nil
}
