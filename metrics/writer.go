// Package metrics records scalar training curves.
//
// A Writer is append-only: each UpdateLoss adds one (epoch, value) point to
// the series named by tag. SeriesWriter persists points as JSON lines as they
// arrive and renders one PNG curve per series when closed.
package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

// ScalarsFile is the JSON-lines file SeriesWriter appends to.
const ScalarsFile = "scalars.jsonl"

// Writer is a metric sink.
type Writer interface {
	UpdateLoss(value float64, epoch int, tag string) error
	Close() error
}

// Discard drops every point.
type Discard struct{}

func (Discard) UpdateLoss(float64, int, string) error { return nil }
func (Discard) Close() error                          { return nil }

// Point is one recorded scalar.
type Point struct {
	Tag   string  `json:"tag"`
	Epoch int     `json:"epoch"`
	Value float64 `json:"value"`
}

// SeriesWriter writes under a log directory.
type SeriesWriter struct {
	dir string

	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	series map[string]plotter.XYs
	tags   []string
	closed bool
}

// NewSeriesWriter creates dir if needed and opens dir/ScalarsFile for append.
func NewSeriesWriter(dir string) (*SeriesWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, perrors.Wrapf(err, "create log dir %s", dir)
	}
	f, err := os.OpenFile(filepath.Join(dir, ScalarsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, perrors.Wrap(err, "open scalars file")
	}
	return &SeriesWriter{
		dir:    dir,
		file:   f,
		enc:    json.NewEncoder(f),
		series: make(map[string]plotter.XYs),
	}, nil
}

// Dir returns the log directory.
func (w *SeriesWriter) Dir() string {
	return w.dir
}

// UpdateLoss appends value at epoch to the series tag.
func (w *SeriesWriter) UpdateLoss(value float64, epoch int, tag string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return perrors.New("metrics: writer is closed")
	}
	if err := w.enc.Encode(Point{Tag: tag, Epoch: epoch, Value: value}); err != nil {
		return perrors.Wrap(err, "append scalar")
	}
	if _, ok := w.series[tag]; !ok {
		w.tags = append(w.tags, tag)
	}
	w.series[tag] = append(w.series[tag], plotter.XY{X: float64(epoch), Y: value})
	return nil
}

// Series returns the points recorded for tag so far.
func (w *SeriesWriter) Series(tag string) []Point {
	w.mu.Lock()
	defer w.mu.Unlock()

	xys := w.series[tag]
	out := make([]Point, len(xys))
	for i, xy := range xys {
		out[i] = Point{Tag: tag, Epoch: int(xy.X), Value: xy.Y}
	}
	return out
}

// Close renders every series to <dir>/<tag>.png and closes the scalars file.
func (w *SeriesWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	for _, tag := range w.tags {
		if err := renderSeries(filepath.Join(w.dir, PlotName(tag)), tag, w.series[tag]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = perrors.Wrap(err, "close scalars file")
	}
	return firstErr
}

// PlotName returns the file name of the curve for tag.
func PlotName(tag string) string {
	return strings.NewReplacer("/", "_", string(os.PathSeparator), "_", " ", "_").Replace(tag) + ".png"
}

func renderSeries(path, tag string, xys plotter.XYs) error {
	p := plot.New()
	p.Title.Text = tag
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "value"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(xys)
	if err != nil {
		return perrors.Wrapf(err, "plot %s", tag)
	}
	p.Add(line)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return perrors.Wrapf(err, "save plot %s", path)
	}
	return nil
}
