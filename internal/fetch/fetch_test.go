package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quickFetcher() *Fetcher {
	f := New()
	f.HTTP.RetryMax = 2
	f.HTTP.RetryWaitMin = time.Millisecond
	f.HTTP.RetryWaitMax = 5 * time.Millisecond
	return f
}

func TestDownloadRetriesAndSkipsExisting(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("zip-bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "sub", "AT.zip")
	f := quickFetcher()
	require.NoError(t, f.Download(context.Background(), srv.URL+"/AT.zip", dest))
	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "zip-bytes", string(b))
	assert.Equal(t, int32(2), hits.Load())

	require.NoError(t, f.Download(context.Background(), srv.URL+"/AT.zip", dest))
	assert.Equal(t, int32(2), hits.Load())
}

func TestDownloadBadStatusLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "missing.csv")
	err := quickFetcher().Download(context.Background(), srv.URL, dest)
	require.ErrorIs(t, err, ErrBadStatus)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadUnknownScheme(t *testing.T) {
	err := quickFetcher().Download(context.Background(), "ftp://example.org/a", filepath.Join(t.TempDir(), "a"))
	assert.ErrorIs(t, err, ErrScheme)
}

type fakeS3 struct {
	bucket, key string
	body        string
	err         error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket, f.key = *in.Bucket, *in.Key
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewBufferString(f.body))}, nil
}

func TestDownloadFromS3(t *testing.T) {
	fake := &fakeS3{body: "geojson"}
	f := &Fetcher{S3: fake}
	dest := filepath.Join(t.TempDir(), "zs.geojson")
	require.NoError(t, f.Download(context.Background(), "s3://gis-sources/at/zs.geojson", dest))
	assert.Equal(t, "gis-sources", fake.bucket)
	assert.Equal(t, "at/zs.geojson", fake.key)
	b, _ := os.ReadFile(dest)
	assert.Equal(t, "geojson", string(b))

	failing := &Fetcher{S3: &fakeS3{err: errors.New("denied")}}
	assert.Error(t, failing.Download(context.Background(), "s3://b/k", filepath.Join(t.TempDir(), "k")))
}

func TestUnzip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "AT.zip")
	writeZip(t, archive, map[string]string{"AT.txt": "AT\t1010\tWien", "readme.txt": "x"})

	files, err := Unzip(archive, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
	b, err := os.ReadFile(filepath.Join(dir, "out", "AT.txt"))
	require.NoError(t, err)
	assert.Equal(t, "AT\t1010\tWien", string(b))
}

func TestUnzipRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	writeZip(t, archive, map[string]string{"../evil.txt": "x"})
	_, err := Unzip(archive, filepath.Join(dir, "out"))
	assert.Error(t, err)
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
}
