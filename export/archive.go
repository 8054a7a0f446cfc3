package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"

	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

// WeightsArchive is an append-only store of per-video weight vectors, laid
// out as <root>/<videoID>/epoch_<n>.bin. Each entry is a gonum binary vector.
type WeightsArchive struct {
	root string
}

// OpenWeightsArchive returns the archive rooted at root, creating it if needed.
func OpenWeightsArchive(root string) (*WeightsArchive, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, perrors.Wrapf(err, "create weights archive %s", root)
	}
	return &WeightsArchive{root: root}, nil
}

// Root returns the archive directory.
func (a *WeightsArchive) Root() string {
	return a.root
}

// EntryName returns "<videoID>/epoch_<n>".
func EntryName(videoID string, epoch int) string {
	return videoID + "/" + fmt.Sprintf("epoch_%d", epoch)
}

func (a *WeightsArchive) entryPath(videoID string, epoch int) (string, error) {
	if videoID == "" || strings.ContainsAny(videoID, `/\`) || videoID == "." || videoID == ".." {
		return "", perrors.NewValidationError("video_id", "not usable as an archive group", videoID)
	}
	return filepath.Join(a.root, videoID, fmt.Sprintf("epoch_%d.bin", epoch)), nil
}

// Append stores weights under EntryName(videoID, epoch). An existing entry is
// an error and is left unchanged.
func (a *WeightsArchive) Append(videoID string, epoch int, weights []float64) error {
	path, err := a.entryPath(videoID, epoch)
	if err != nil {
		return err
	}
	if len(weights) == 0 {
		return perrors.Wrapf(perrors.ErrEmptyData, "weights for %s", EntryName(videoID, epoch))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return perrors.Wrap(err, "create archive group")
	}

	data, err := mat.NewVecDense(len(weights), weights).MarshalBinary()
	if err != nil {
		return perrors.Wrap(err, "encode weights")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return perrors.Newf("archive entry %s already exists", EntryName(videoID, epoch))
		}
		return perrors.Wrapf(err, "create %s", path)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return perrors.Wrapf(err, "write %s", path)
	}
	return f.Close()
}

// Read returns the weights stored under EntryName(videoID, epoch).
func (a *WeightsArchive) Read(videoID string, epoch int) ([]float64, error) {
	path, err := a.entryPath(videoID, epoch)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.Wrapf(err, "read %s", EntryName(videoID, epoch))
	}
	var v mat.VecDense
	if err := v.UnmarshalBinary(data); err != nil {
		return nil, perrors.Wrapf(err, "decode %s", EntryName(videoID, epoch))
	}
	return mat.Col(nil, 0, &v), nil
}
