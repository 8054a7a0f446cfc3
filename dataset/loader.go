package dataset

import (
	"encoding/json"
	"math/rand/v2"
	"os"
	"sort"

	"gonum.org/v1/gonum/mat"

	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

// Features maps a video id to its frame features.
type Features map[string]*mat.Dense

// Split names the train and test videos of one cross-validation fold.
type Split struct {
	TrainKeys []string `json:"train_keys"`
	TestKeys  []string `json:"test_keys"`
}

// LoadFeatures reads a JSON object {videoID: [[f, ...], ...]}. Every frame
// must have inputSize features.
func LoadFeatures(path string, inputSize int) (Features, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.Wrapf(err, "read features %s", path)
	}

	var raw map[string][][]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, perrors.Wrapf(err, "decode features %s", path)
	}

	features := make(Features, len(raw))
	for id, rows := range raw {
		if len(rows) == 0 {
			return nil, perrors.Wrapf(perrors.ErrEmptyData, "video %s has no frames", id)
		}
		m := mat.NewDense(len(rows), inputSize, nil)
		for i, row := range rows {
			if len(row) != inputSize {
				return nil, perrors.NewInputShapeError("loading", id, []int{len(rows), inputSize}, []int{len(rows), len(row)})
			}
			m.SetRow(i, row)
		}
		features[id] = m
	}
	return features, nil
}

// LoadSplits reads a JSON array of splits.
func LoadSplits(path string) ([]Split, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.Wrapf(err, "read splits %s", path)
	}
	var splits []Split
	if err := json.Unmarshal(data, &splits); err != nil {
		return nil, perrors.Wrapf(err, "decode splits %s", path)
	}
	return splits, nil
}

// SelectSplit returns splits[index].
func SelectSplit(splits []Split, index int) (Split, error) {
	if index < 0 || index >= len(splits) {
		return Split{}, perrors.NewValidationError("split_index", "out of range", index)
	}
	return splits[index], nil
}

// FromSplit builds the training source, shuffled with rng, and the evaluation
// source of split. Every key must be present in features.
func FromSplit(features Features, split Split, rng *rand.Rand) (*Memory, *Memory, error) {
	train, err := pick(features, split.TrainKeys)
	if err != nil {
		return nil, nil, err
	}
	test, err := pick(features, split.TestKeys)
	if err != nil {
		return nil, nil, err
	}
	return NewMemory(train, rng), NewMemory(test, nil), nil
}

func pick(features Features, keys []string) ([]Video, error) {
	videos := make([]Video, 0, len(keys))
	for _, k := range keys {
		m, ok := features[k]
		if !ok {
			return nil, perrors.Newf("video %q listed in split but missing from features", k)
		}
		videos = append(videos, Video{ID: k, Frames: m})
	}
	return videos, nil
}

// Keys returns the video ids in sorted order.
func (f Features) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
