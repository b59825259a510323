package profiler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_PprofIndex(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := New("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, srv.Start(ctx))
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/debug/pprof/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	srv := New("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, srv.Start(ctx))
	addr := srv.Addr()

	cancel()

	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/debug/pprof/")
		if err == nil {
			_ = resp.Body.Close()
		}
		return err != nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServer_AddrBeforeStart(t *testing.T) {
	assert.Empty(t, New("127.0.0.1:0", zerolog.Nop()).Addr())
}

func TestServer_ListenError(t *testing.T) {
	err := New("not-an-addr", zerolog.Nop()).Start(context.Background())
	assert.Error(t, err)
}
