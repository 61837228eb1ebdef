package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrispStrobe/filen-cli-go/internal/ferrors"
)

func TestPutChunkRetriesOn500ThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "token", &http.Client{}, nil)
	err := c.PutChunk(context.Background(), "upkey", "us-1", "bucket-1", uuid.New(), 0, []byte("ciphertext"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestGetChunkClassifiesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "token", &http.Client{}, nil)
	_, err := c.GetChunk(context.Background(), "us-1", "bucket-1", uuid.New(), 0)
	require.Error(t, err)
	kind, ok := ferrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.NotFound, kind)
}

func TestGetChunkClassifiesAuthFailureAndDoesNotRetry(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "token", &http.Client{}, nil)
	_, err := c.GetChunk(context.Background(), "us-1", "bucket-1", uuid.New(), 0)
	require.Error(t, err)
	kind, ok := ferrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.Auth, kind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestFinishUploadDoesNotRetryOnReceivedResponse(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "token", &http.Client{}, nil)
	err := c.FinishUpload(context.Background(), uuid.New(), "upkey", "002envelope", "deadbeef")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "non-idempotent writes must not retry on a received HTTP response")
}

func TestListDirectoryHonorsRetryAfter(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "token", &http.Client{}, nil)
	items, err := c.ListDirectory(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}
