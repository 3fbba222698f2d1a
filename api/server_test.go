package api

import (
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopWaitsForInFlightRequest(t *testing.T) {
	entered := make(chan struct{})
	s := &Server{logger: zerolog.Nop()}
	s.server = &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			close(entered)
			time.Sleep(150 * time.Millisecond)
			w.WriteHeader(http.StatusNoContent)
		}),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.server.Serve(ln) //nolint:errcheck

	codeCh := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			codeCh <- 0
			return
		}
		resp.Body.Close()
		codeCh <- resp.StatusCode
	}()

	<-entered
	require.NoError(t, s.Stop())

	select {
	case code := <-codeCh:
		// The in-flight request completed instead of being dropped mid-write.
		assert.Equal(t, http.StatusNoContent, code)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request never completed")
	}
}

func TestStopWithoutStart(t *testing.T) {
	s := &Server{logger: zerolog.Nop()}
	require.NoError(t, s.Stop())
}
