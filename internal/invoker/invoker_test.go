package invoker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/tapestry/internal/executor"
)

func TestInvokePostsToolAndArgs(t *testing.T) {
	var got invocation
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "success", "lines": 3})
	}))
	defer srv.Close()

	inv := NewHTTP(srv.URL, "s3cret", time.Second)
	result, err := inv.Invoke(context.Background(), "grep", map[string]interface{}{"pattern": "foo"})
	require.NoError(t, err)

	assert.Equal(t, "grep", got.Tool)
	assert.Equal(t, "foo", got.Args["pattern"])
	assert.Equal(t, "success", result["status"])
}

func TestInvokeClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		kind   executor.ErrorKind
	}{
		{http.StatusNotFound, executor.KindNotFound},
		{http.StatusTooManyRequests, executor.KindRateLimited},
		{http.StatusGatewayTimeout, executor.KindTimeout},
		{http.StatusUnprocessableEntity, executor.KindValidation},
		{http.StatusInternalServerError, executor.KindConnection},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		inv := NewHTTP(srv.URL, "", time.Second)
		_, err := inv.Invoke(context.Background(), "grep", nil)
		srv.Close()

		require.Error(t, err)
		assert.Equal(t, tc.kind, executor.Classify(err), "status %d", tc.status)
	}
}

func TestInvokeConnectionRefused(t *testing.T) {
	inv := NewHTTP("http://127.0.0.1:1", "", 100*time.Millisecond)
	_, err := inv.Invoke(context.Background(), "grep", nil)
	require.Error(t, err)
	assert.Equal(t, executor.KindConnection, executor.Classify(err))
}

func TestInvokeMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	inv := NewHTTP(srv.URL, "", time.Second)
	_, err := inv.Invoke(context.Background(), "grep", nil)
	require.Error(t, err)
	assert.Equal(t, executor.KindValidation, executor.Classify(err))
}

func TestUnconfiguredRejects(t *testing.T) {
	_, err := Unconfigured{}.Invoke(context.Background(), "grep", nil)
	require.Error(t, err)
	assert.Equal(t, executor.KindConnection, executor.Classify(err))
}
