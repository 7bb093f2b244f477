package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		level   zapcore.Level
	}{
		{"defaults", Config{}, false, zapcore.InfoLevel},
		{"json debug", Config{Level: "debug", Format: "json"}, false, zapcore.DebugLevel},
		{"console warn", Config{Level: " warn ", Format: "Console"}, false, zapcore.WarnLevel},
		{"bad level", Config{Level: "loud"}, true, 0},
		{"bad format", Config{Format: "xml"}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.level))
			assert.False(t, l.Core().Enabled(tt.level-1))
		})
	}
}

func TestSetAndHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(nil) })

	Info("opened %s", "BTC/USDT")
	Warn("dropped %d", 3)
	Error("failed: %v", "boom")

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, "opened BTC/USDT", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "failed: boom", entries[2].Message)

	Set(nil)
	assert.NotPanics(t, func() { Info("quiet") })
}

func TestSetServiceName(t *testing.T) {
	old := SetServiceName("replay")
	t.Cleanup(func() { SetServiceName(old) })
	assert.Equal(t, "sigtrader", old)
	assert.Equal(t, "replay", SetServiceName("replay"))
}
