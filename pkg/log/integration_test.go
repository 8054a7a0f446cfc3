package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

func TestTestLoggerLevels(t *testing.T) {
	logger, buffer := NewTestLogger(LevelInfo)

	logger.Debug("dropped")
	logger.Info("epoch finished", EpochKey, 3, LossKey, 0.25)
	logger.Warn("short epoch")
	logger.Error("build failed", fmt.Errorf("device unavailable"), ErrorCodeKey, ErrorDevice)

	assert.NotContains(t, buffer.String(), "dropped")
	assert.True(t, logger.ContainsField(EpochKey, 3.0))
	assert.True(t, logger.ContainsField(LossKey, 0.25))
	assert.True(t, logger.ContainsField(ErrAttrKey, "device unavailable"))
	assert.True(t, logger.ContainsField(ErrorCodeKey, ErrorDevice))

	entries, err := logger.GetLogEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestTestLoggerWith(t *testing.T) {
	logger, _ := NewTestLogger(LevelDebug)

	run := logger.With(RunIDKey, "run-1", ComponentKey, "solver")
	run.Info("batch", BatchKey, 0)

	entries := logger.EntriesWithMessage("batch")
	require.Len(t, entries, 1)
	assert.Equal(t, "run-1", entries[0][RunIDKey])
	assert.Equal(t, "solver", entries[0][ComponentKey])
}

func TestTestLoggerConcurrent(t *testing.T) {
	logger, _ := NewTestLogger(LevelInfo)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				logger.Info("message", "goroutine", id, "n", j)
			}
		}(g)
	}
	wg.Wait()

	entries, err := logger.GetLogEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	assert.False(t, logger.Enabled(context.Background(), LevelDebug))
	assert.True(t, logger.Enabled(context.Background(), LevelWarn))

	logger.Debug("hidden")
	logger.With(RunIDKey, "abc").Info("epoch finished", EpochKey, 2, LossKey, 1.5)
	logger.Error("failed", fmt.Errorf("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "abc", first[RunIDKey])
	assert.Equal(t, 2.0, first[EpochKey])
	assert.Equal(t, 1.5, first[LossKey])

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "boom", second["error"])
}

func TestZerologLoggerObjectField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf))

	logger.Warn("short epoch", ErrAttrKey, perrors.NewShortEpochWarning(0, 5, 2))
	assert.Contains(t, buf.String(), `"dropped":1`)
}

func TestInitJSONRoutesWarnings(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Format: FormatJSON, Out: &buf}))
	defer perrors.SetZerologWarnFunc(nil)

	GetLoggerWithName("solver").Info("started")
	perrors.Warn(perrors.NewShortEpochWarning(1, 3, 2))

	out := buf.String()
	assert.Contains(t, out, `"ml.component":"solver"`)
	assert.Contains(t, out, `"type":"ShortEpochWarning"`)
}

func TestInitCloudFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Format: FormatCloud, Out: &buf, Verbose: true}))
	defer perrors.SetZerologWarnFunc(nil)

	GetLogger().Debug("debug record")
	GetLogger().Error("failed", perrors.New("with stack"))

	out := buf.String()
	assert.Contains(t, out, `"severity":"DEBUG"`)
	assert.Contains(t, out, `"message":"failed"`)
	assert.Contains(t, out, StacktraceAttrKey)
}

func TestInitUnknownFormat(t *testing.T) {
	err := Init(Options{Format: "xml"})
	var valErr *perrors.ValidationError
	assert.True(t, perrors.As(err, &valErr))
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestTestLoggerProvider(t *testing.T) {
	p, _ := NewTestLoggerProvider(LevelInfo)
	SetProvider(p)
	defer perrors.SetZerologWarnFunc(nil)

	GetLoggerWithName("data").Info("split loaded", VideosKey, 4)
	perrors.Warn(perrors.NewShortEpochWarning(0, 5, 2))

	tl := p.GetLogger().(*TestLogger)
	assert.True(t, tl.ContainsMessage("split loaded"))
	assert.True(t, tl.ContainsField(ComponentKey, "data"))
	assert.True(t, tl.ContainsField(ComponentKey, "warnings"))
}
