package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer(t *testing.T) {
	FramesTotal.WithLabelValues("test0", "redirect").Add(3)
	ReloadsTotal.WithLabelValues(ReloadOK).Inc()

	s := NewServer("127.0.0.1:0", "")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	body := get(t, "http://"+s.Addr()+"/metrics")
	assert.Contains(t, body, `frameguard_frames_total{interface="test0",verdict="redirect"} 3`)
	assert.Contains(t, body, `frameguard_reloads_total{result="ok"}`)
	assert.Contains(t, body, "frameguard_table_generation")

	assert.Equal(t, "ok\n", get(t, "http://"+s.Addr()+"/healthz"))
}

func TestServerListenError(t *testing.T) {
	s := NewServer("127.0.0.1:-1", "/m")
	assert.Error(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}
