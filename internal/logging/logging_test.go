package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		level string
		dev   bool
		want  zapcore.Level
	}{
		{"", false, zapcore.InfoLevel},
		{"debug", true, zapcore.DebugLevel},
		{"WARN", false, zapcore.WarnLevel},
		{"error", true, zapcore.ErrorLevel},
	} {
		log, err := New(tc.level, tc.dev)
		require.NoError(t, err, tc.level)
		require.True(t, log.Core().Enabled(tc.want), tc.level)
		if tc.want > zapcore.DebugLevel {
			require.False(t, log.Core().Enabled(tc.want-1), tc.level)
		}
	}
}

func TestNew_BadLevel(t *testing.T) {
	t.Parallel()

	_, err := New("loud", false)
	require.Error(t, err)
}
