package yachtapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/yachtsync/internal/apperrors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient("secret-token",
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithRateInterval(0),
	)
}

func TestClient_ListActiveIDs(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vessels/active", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"ids":[3,1,2]}`))
	})

	ids, err := client.ListActiveIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids)
}

func TestClient_FetchFullRecordUnwrapsEnvelope(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vessels/42", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"basicInfo":{"vesselId":42,"displayName":"Blue"}}}`))
	})

	payload, err := client.FetchFullRecord(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), payload.Get("basicInfo.vesselId").Int())
	assert.Equal(t, "Blue", payload.First("basicInfo.missing", "basicInfo.displayName").String())
}

func TestClient_Conversions(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/convert/mls/9001":
			_, _ = w.Write([]byte(`{"vesselId":42}`))
		case "/convert/vessel/42":
			_, _ = w.Write([]byte(`{"mlsId":9001}`))
		default:
			http.Error(w, `{"message":"unknown id"}`, http.StatusNotFound)
		}
	})

	ctx := context.Background()

	vesselID, err := client.ConvertMLSToVessel(ctx, 9001)
	require.NoError(t, err)
	assert.Equal(t, int64(42), vesselID)

	mlsID, err := client.ConvertVesselToMLS(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(9001), mlsID)

	_, err = client.ConvertMLSToVessel(ctx, 42)
	var httpErr *apperrors.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, "unknown id", httpErr.Body)
	assert.Equal(t, apperrors.KindTransport, apperrors.KindOf(err))
}

func TestClient_RetriesOnlyRateLimits(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ids":[1]}`))
	})

	ids, err := client.ListActiveIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ServerErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.FetchFullRecord(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_OversizedResponseIsRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"basicInfo":{"vesselId":1,"displayName":"` + strings.Repeat("x", 256) + `"}}}`))
	}))
	t.Cleanup(server.Close)

	small := NewClient("secret-token",
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithRateInterval(0),
		WithMaxResponseSize(64),
	)
	_, err := small.FetchFullRecord(context.Background(), 1)
	require.ErrorIs(t, err, apperrors.ErrFileTooLarge)
	require.ErrorIs(t, err, apperrors.ErrTransport)

	large := NewClient("secret-token",
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithRateInterval(0),
		WithMaxResponseSize(1024),
	)
	_, err = large.FetchFullRecord(context.Background(), 1)
	require.NoError(t, err)
}

func TestParsePayload_RejectsInvalid(t *testing.T) {
	t.Parallel()

	_, err := ParsePayload([]byte(`not json`))
	require.ErrorIs(t, err, apperrors.ErrTransport)

	_, err = ParsePayload([]byte(`[1,2]`))
	require.ErrorIs(t, err, apperrors.ErrTransport)
}
