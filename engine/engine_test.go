package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// A render submitted against a disconnected instance must fail immediately
// with ErrEngineGone instead of timing out against a dead connection.
func TestRenderFailsFastAfterDisconnect(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	close(done)
	e := &rodEngine{cfg: LaunchConfig{}.withDefaults(), done: done}

	out := filepath.Join(t.TempDir(), "report-x.pdf")
	err := e.Render(context.Background(), "<p>hello</p>", out)
	require.ErrorIs(t, err, ErrEngineGone)

	_, statErr := os.Stat(out)
	require.True(t, os.IsNotExist(statErr), "no artifact must be written")
}

func TestLaunchConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := LaunchConfig{}.withDefaults()
	require.Equal(t, DefaultStageTimeout, cfg.StageTimeout)
	require.Equal(t, DefaultSettleDelay, cfg.SettleDelay)

	cfg = LaunchConfig{StageTimeout: DefaultStageTimeout / 2, SettleDelay: DefaultSettleDelay * 2}.withDefaults()
	require.Equal(t, DefaultStageTimeout/2, cfg.StageTimeout)
	require.Equal(t, DefaultSettleDelay*2, cfg.SettleDelay)
}
