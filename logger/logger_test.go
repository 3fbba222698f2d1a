package logger

import (
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	stdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = stdout }()

	fn()

	_ = w.Close()
	buf := make([]byte, 4096)
	n, _ := r.Read(buf)
	return string(buf[:n])
}

func TestNewVariants(t *testing.T) {
	t.Run("json format logs expected fields", func(t *testing.T) {
		out := captureStdout(t, func() {
			log := New(int(zerolog.InfoLevel), "json", false)
			log.Info().Str("key", "value").Msg("json_test")
		})
		require.Contains(t, out, `"message":"json_test"`)
		require.Contains(t, out, `"key":"value"`)
	})

	t.Run("level filters lower severity", func(t *testing.T) {
		out := captureStdout(t, func() {
			log := New(int(zerolog.WarnLevel), "json", false)
			log.Info().Msg("should_not_appear")
			log.Warn().Msg("should_appear")
		})
		require.NotContains(t, out, "should_not_appear")
		require.Contains(t, out, "should_appear")
	})

	t.Run("sampler reduces output frequency", func(t *testing.T) {
		out := captureStdout(t, func() {
			log := New(int(zerolog.InfoLevel), "json", true)
			for i := 0; i < 20; i++ {
				log.Info().Int("count", i).Msg("sampled")
			}
		})
		count := strings.Count(out, "sampled")
		require.Less(t, count, 20)
		require.Greater(t, count, 0)
	})
}
