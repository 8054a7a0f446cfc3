package model

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

// checkpointTensor is the serialized form of one Parameter.
type checkpointTensor struct {
	Name string
	Rows int
	Cols int
	Data []float64
}

// checkpoint is the gob payload of a saved model.
type checkpoint struct {
	Epoch   int
	Tensors []checkpointTensor
}

// CheckpointPath returns <dir>/epoch-<n>.gob.
func CheckpointPath(dir string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("epoch-%d.gob", epoch))
}

// SaveCheckpoint writes the parameter values to CheckpointPath(dir, epoch)
// and returns the path.
func SaveCheckpoint(dir string, epoch int, params []*Parameter) (string, error) {
	path := CheckpointPath(dir, epoch)
	file, err := os.Create(path)
	if err != nil {
		return "", perrors.Wrapf(err, "create checkpoint %s", path)
	}
	defer file.Close()

	if err := WriteCheckpoint(file, epoch, params); err != nil {
		return "", err
	}
	return path, file.Close()
}

// WriteCheckpoint gob-encodes the parameter values to w.
func WriteCheckpoint(w io.Writer, epoch int, params []*Parameter) error {
	cp := checkpoint{Epoch: epoch, Tensors: make([]checkpointTensor, 0, len(params))}
	for _, p := range params {
		r, c := p.Value.Dims()
		cp.Tensors = append(cp.Tensors, checkpointTensor{
			Name: p.Name,
			Rows: r,
			Cols: c,
			Data: mat.DenseCopyOf(p.Value).RawMatrix().Data,
		})
	}
	if err := gob.NewEncoder(w).Encode(cp); err != nil {
		return perrors.Wrap(err, "encode checkpoint")
	}
	return nil
}

// LoadCheckpoint restores parameter values from path and returns the epoch
// recorded in it.
func LoadCheckpoint(path string, params []*Parameter) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, perrors.Wrapf(err, "open checkpoint %s", path)
	}
	defer file.Close()
	return ReadCheckpoint(file, params)
}

// ReadCheckpoint decodes a checkpoint from r into params. Every parameter must
// be present with the same shape; nothing is modified otherwise.
func ReadCheckpoint(r io.Reader, params []*Parameter) (int, error) {
	var cp checkpoint
	if err := gob.NewDecoder(r).Decode(&cp); err != nil {
		return 0, perrors.Wrap(err, "decode checkpoint")
	}

	byName := make(map[string]checkpointTensor, len(cp.Tensors))
	for _, t := range cp.Tensors {
		byName[t.Name] = t
	}

	for _, p := range params {
		t, ok := byName[p.Name]
		if !ok {
			return 0, perrors.Newf("checkpoint has no tensor %q", p.Name)
		}
		r, c := p.Value.Dims()
		if t.Rows != r {
			return 0, perrors.NewDimensionError("LoadCheckpoint("+p.Name+")", r, t.Rows, 0)
		}
		if t.Cols != c || len(t.Data) != r*c {
			return 0, perrors.NewDimensionError("LoadCheckpoint("+p.Name+")", c, t.Cols, 1)
		}
	}

	for _, p := range params {
		t := byName[p.Name]
		p.Value.Copy(mat.NewDense(t.Rows, t.Cols, t.Data))
	}
	return cp.Epoch, nil
}
