package exportsink_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marcelsud/webhook-dispatch/config"
	"github.com/marcelsud/webhook-dispatch/internal/exportsink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	sink, err := exportsink.New(context.Background(), config.ExportConfig{Dir: dir})
	require.NoError(t, err)

	location, err := sink.Write(context.Background(), "events.csv", "text/csv", strings.NewReader("id\nevt-1\n"))

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "events.csv"), location)
	data, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, "id\nevt-1\n", string(data))
}

// fakeS3 records PUT requests the way a path-style S3 endpoint receives them
type fakeS3 struct {
	mu          sync.Mutex
	path        string
	body        string
	contentType string
	status      int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	f.path = r.URL.Path
	f.body = string(body)
	f.contentType = r.Header.Get("Content-Type")
	w.WriteHeader(f.status)
}

func newS3Client(url string) *s3.Client {
	return s3.New(s3.Options{
		Region:           "us-east-1",
		Credentials:      credentials.NewStaticCredentialsProvider("key", "secret", ""),
		BaseEndpoint:     aws.String(url),
		UsePathStyle:     true,
		RetryMaxAttempts: 1,
	})
}

func TestS3Sink(t *testing.T) {
	ctx := context.Background()

	t.Run("uploads under the prefix", func(t *testing.T) {
		fake := &fakeS3{status: http.StatusOK}
		srv := httptest.NewServer(fake)
		defer srv.Close()

		sink := exportsink.NewS3SinkFromClient(newS3Client(srv.URL), "audit", "exports/")
		location, err := sink.Write(ctx, "events-2025-06-01.json", "application/json", strings.NewReader(`[{"id":"evt-1"}]`))

		require.NoError(t, err)
		assert.Equal(t, "s3://audit/exports/events-2025-06-01.json", location)
		assert.Equal(t, "/audit/exports/events-2025-06-01.json", fake.path)
		assert.Equal(t, "application/json", fake.contentType)
		assert.Contains(t, fake.body, `[{"id":"evt-1"}]`)
	})

	t.Run("upload failure", func(t *testing.T) {
		fake := &fakeS3{status: http.StatusForbidden}
		srv := httptest.NewServer(fake)
		defer srv.Close()

		sink := exportsink.NewS3SinkFromClient(newS3Client(srv.URL), "audit", "")
		_, err := sink.Write(ctx, "events.json", "application/json", strings.NewReader("[]"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "uploading export to s3")
	})
}
