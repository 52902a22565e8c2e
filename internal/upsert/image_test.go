package upsert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/store"
)

func TestStoreImageFetcher(t *testing.T) {
	t.Parallel()

	small := strings.Repeat("x", 64)
	large := strings.Repeat("y", 4096)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/boat.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte(small))
		case "/big.jpg":
			w.Header().Set("Content-Length", strconv.Itoa(len(large)))
			_, _ = w.Write([]byte(large))
		case "/chunked.jpg":
			// No Content-Length: the cap is only enforced while streaming.
			w.(http.Flusher).Flush()
			if r.Method == http.MethodGet {
				_, _ = w.Write([]byte(large))
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	st, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	f := NewStoreImageFetcher(st, WithMaxImageSize(1024), WithImageHTTPClient(srv.Client()))

	p, err := f.FetchPrimary(ctx, "vessel-1", srv.URL+"/boat.png")
	require.NoError(t, err)
	assert.Equal(t, "images/vessel-1/primary.png", p)
	data, err := st.Read(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, small, string(data))

	_, err = f.FetchPrimary(ctx, "vessel-2", srv.URL+"/big.jpg")
	require.ErrorIs(t, err, apperrors.ErrFileTooLarge)

	_, err = f.FetchPrimary(ctx, "vessel-3", srv.URL+"/chunked.jpg")
	require.ErrorIs(t, err, apperrors.ErrFileTooLarge)
	_, err = st.Read(ctx, "images/vessel-3/primary.jpg")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.FetchPrimary(ctx, "vessel-4", srv.URL+"/missing.jpg")
	var httpErr *apperrors.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}

func TestImageExt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".jpeg", imageExt("https://x/a.JPEG?w=1", ""))
	assert.Equal(t, ".png", imageExt("https://x/photo", "image/png"))
	assert.Equal(t, ".jpg", imageExt("https://x/photo", ""))
}
