// Package dataset supplies frame-feature sequences to training and
// evaluation.
package dataset

import (
	"io"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// FrameIterator yields one video's frame features (T × D) per call and
// io.EOF once exhausted.
type FrameIterator interface {
	Next() (mat.Matrix, error)
}

// TrainSource is a finite collection of training videos. Each call to
// Iterator starts a new pass, possibly in a new order.
type TrainSource interface {
	Len() int
	Iterator() FrameIterator
}

// EvalItem is one evaluation video.
type EvalItem struct {
	Frames  mat.Matrix
	VideoID string
}

// EvalSource is an ordered collection of evaluation videos.
type EvalSource interface {
	Items() []EvalItem
}

// Video is an in-memory frame-feature sequence.
type Video struct {
	ID     string
	Frames *mat.Dense
}

// Memory serves videos held in memory. Training passes are shuffled with the
// stream given to NewMemory; a nil stream keeps the stored order.
type Memory struct {
	videos []Video
	rng    *rand.Rand
}

var (
	_ TrainSource = (*Memory)(nil)
	_ EvalSource  = (*Memory)(nil)
)

// NewMemory returns a source over videos.
func NewMemory(videos []Video, rng *rand.Rand) *Memory {
	return &Memory{videos: videos, rng: rng}
}

// Len returns the number of videos.
func (m *Memory) Len() int {
	return len(m.videos)
}

// Iterator starts a pass over the videos.
func (m *Memory) Iterator() FrameIterator {
	order := make([]int, len(m.videos))
	for i := range order {
		order[i] = i
	}
	if m.rng != nil {
		m.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return &memoryIterator{videos: m.videos, order: order}
}

// Items returns the videos in stored order.
func (m *Memory) Items() []EvalItem {
	items := make([]EvalItem, len(m.videos))
	for i, v := range m.videos {
		items[i] = EvalItem{Frames: v.Frames, VideoID: v.ID}
	}
	return items
}

// Videos returns the stored videos.
func (m *Memory) Videos() []Video {
	return m.videos
}

// Map returns a source with fn applied to every video's frames. The new
// source shares the shuffle stream of m.
func (m *Memory) Map(fn func(mat.Matrix) (*mat.Dense, error)) (*Memory, error) {
	videos := make([]Video, len(m.videos))
	for i, v := range m.videos {
		frames, err := fn(v.Frames)
		if err != nil {
			return nil, err
		}
		videos[i] = Video{ID: v.ID, Frames: frames}
	}
	return &Memory{videos: videos, rng: m.rng}, nil
}

type memoryIterator struct {
	videos []Video
	order  []int
	pos    int
}

func (it *memoryIterator) Next() (mat.Matrix, error) {
	if it.pos >= len(it.order) {
		return nil, io.EOF
	}
	v := it.videos[it.order[it.pos]]
	it.pos++
	return v.Frames, nil
}
