package logs

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func messages(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

func TestLogger(t *testing.T) {
	t.Run("drops entries below the minimum level", func(t *testing.T) {
		logger := NewLogger(8, WARN)

		logger.Debug("heartbeat received")
		logger.Info("envelope bus started")
		logger.Warn("publish failed")
		logger.Error("panic recovered in bus handler")

		entries := logger.GetLast(8)
		require.Len(t, entries, 2)
		assert.Equal(t, WARN, entries[0].Level)
		assert.Equal(t, ERROR, entries[1].Level)
	})

	t.Run("keeps only the newest entries", func(t *testing.T) {
		logger := NewLogger(3, DEBUG)

		for i := range 7 {
			logger.Info("tick " + strconv.Itoa(i))
		}

		assert.Equal(t, []string{"tick 4", "tick 5", "tick 6"}, messages(logger.GetLast(10)))
		assert.Equal(t, []string{"tick 5", "tick 6"}, messages(logger.GetLast(2)))
		assert.Empty(t, logger.GetLast(0))
	})

	t.Run("partially filled buffer", func(t *testing.T) {
		logger := NewLogger(5, DEBUG)
		logger.Info("lobby-1 joined")
		logger.Info("duel-2 joined")

		assert.Equal(t, []string{"lobby-1 joined", "duel-2 joined"}, messages(logger.GetLast(5)))
	})

	t.Run("zero capacity retains nothing", func(t *testing.T) {
		core, observed := observer.New(zapcore.DebugLevel)
		logger := NewLogger(0, INFO, WithSink(zap.New(core)))

		logger.Warn("still forwarded")

		assert.Empty(t, logger.GetLast(1))
		assert.Equal(t, 1, observed.Len())
	})

	t.Run("concurrent writers", func(t *testing.T) {
		logger := NewLogger(64, DEBUG)
		var wg sync.WaitGroup

		for i := range 40 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				logger.Info("service evicted", zap.Int("n", i))
			}()
		}
		wg.Wait()

		assert.Len(t, logger.GetLast(64), 40)
	})

	t.Run("returned entries are copies", func(t *testing.T) {
		logger := NewLogger(4, DEBUG)
		logger.Info("cache operation failed")

		got := logger.GetLast(1)
		got[0].Message = "rewritten"

		assert.Equal(t, "cache operation failed", logger.GetLast(1)[0].Message)
	})

	t.Run("structured fields are retained", func(t *testing.T) {
		logger := NewLogger(4, DEBUG)
		logger.Warn("publish failed", zap.String("topic", "service:heartbeat"), zap.Int("attempt", 2))

		entries := logger.GetLast(1)
		require.Len(t, entries, 1)
		assert.Equal(t, "service:heartbeat", entries[0].Fields["topic"])
		assert.EqualValues(t, 2, entries[0].Fields["attempt"])
	})

	t.Run("forwards to the zap sink", func(t *testing.T) {
		core, observed := observer.New(zapcore.DebugLevel)
		logger := NewLogger(4, INFO, WithSink(zap.New(core)))

		logger.Debug("filtered")
		logger.Error("boom", zap.String("node", "duel-1"))

		require.Equal(t, 1, observed.Len())
		record := observed.All()[0]
		assert.Equal(t, "boom", record.Message)
		assert.Equal(t, zapcore.ErrorLevel, record.Level)
		assert.Equal(t, "duel-1", record.ContextMap()["node"])
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" Warn "))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}
