package gcs_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/pypi-harvest/internal/storage/gcs"
)

const testBucket = "test-bucket"

// newTestBlobStore points a store at a fake GCS JSON API.
func newTestBlobStore(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := gcs.Dial(context.Background(), gcs.Config{Bucket: testBucket},
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutObject(t *testing.T) {
	objectName := "stores/run/pypi_info_db.csv"
	objectData := []byte("name\nrequests\n")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", testBucket))
		assert.Equal(t, objectName, r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), string(objectData))
		assert.Contains(t, string(body), "text/csv")

		fmt.Fprintln(w, `{ "name": "`+objectName+`", "bucket": "`+testBucket+`" }`)
	})

	store := newTestBlobStore(t, handler)
	uri, err := store.PutObject(context.Background(), objectName, "text/csv", bytes.NewReader(objectData))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/"+objectName, uri)
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	store := newTestBlobStore(t, handler)
	_, err := store.PutObject(context.Background(), "x.csv", "text/csv", bytes.NewReader([]byte("x")))
	assert.Error(t, err)
}

func TestPutObjectEmptyPath(t *testing.T) {
	store := newTestBlobStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), " ", "text/csv", bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: testBucket})
	assert.Error(t, err)

	_, err = gcs.Dial(context.Background(), gcs.Config{})
	assert.Error(t, err)
}
