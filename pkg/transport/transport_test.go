package transport_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openregistro/registro/pkg/transport"
)

func testClient(attempts int) *transport.Client {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return transport.New(log, transport.Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		Timeout:     time.Second,
	})
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := testClient(3).Do(context.Background(), transport.Request{
		Method: http.MethodGet,
		URL:    srv.URL,
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	resp, err := testClient(3).Do(context.Background(), transport.Request{
		Method: http.MethodGet,
		URL:    srv.URL,
	})
	require.NoError(t, err)
	resp.Body.Close()

	// A 4xx is a definitive answer, not a transport failure.
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_ExhaustionReturnsTypedError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(2).Do(context.Background(), transport.Request{
		Method: http.MethodGet,
		URL:    srv.URL,
	})
	require.Error(t, err)

	var terr *transport.Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 2, terr.Attempts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_BodyReplayedAcrossAttempts(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"uid":"x"}`, string(body))

		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := testClient(3).Do(context.Background(), transport.Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"uid":"x"}`),
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_NetworkFailure(t *testing.T) {
	// Nothing listens here.
	_, err := testClient(2).Do(context.Background(), transport.Request{
		Method: http.MethodGet,
		URL:    "http://127.0.0.1:1",
	})

	var terr *transport.Error
	require.True(t, errors.As(err, &terr))
}
