// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRemoteID = "0B7EVK8r0v71pZjFTYXZWM3FlRnM"
	testToken    = "xYz42"
)

// newDriveServer emulates the export endpoint: if confirmLarge is set, the first request gets a
// warning page with the confirmation cookie, and only the confirmed request returns the payload.
func newDriveServer(t *testing.T, payload []byte, confirmLarge bool, requests *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		query := r.URL.Query()
		if query.Get("export") != "download" || query.Get("id") != testRemoteID {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if confirmLarge {
			if query.Get("confirm") == "" {
				http.SetCookie(w, &http.Cookie{Name: ConfirmCookiePrefix + "_abc", Value: testToken})
				_, _ = w.Write([]byte("<html>Google Drive can't scan this file for viruses.</html>"))
				return
			}
			if query.Get("confirm") != testToken {
				http.Error(w, "bad token", http.StatusForbidden)
				return
			}
			if _, err := r.Cookie(ConfirmCookiePrefix + "_abc"); err != nil {
				http.Error(w, "missing session cookie", http.StatusForbidden)
				return
			}
		}
		http.ServeContent(w, r, "file", time.Time{}, bytes.NewReader(payload))
	}))
}

func testFetcher(server *httptest.Server) *Fetcher {
	return New().WithBaseURL(server.URL + "/uc?export=download").WithClient(server.Client())
}

func TestFetch(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 10_000)
	for _, confirm := range []bool{false, true} {
		var requests atomic.Int32
		server := newDriveServer(t, payload, confirm, &requests)
		var lastDownloaded, lastTotal int64
		var finished bool
		fetcher := testFetcher(server).WithChunkSize(1000).
			WithProgressCallback(func(downloaded, total int64, done bool, err error) {
				require.NoError(t, err)
				lastDownloaded, lastTotal, finished = downloaded, total, done
			})
		dest := filepath.Join(t.TempDir(), "sub", "archive.zip")
		size, err := fetcher.Fetch(testRemoteID, dest)
		require.NoError(t, err, "confirm=%v", confirm)
		assert.Equal(t, int64(len(payload)), size)
		contents, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, payload, contents)
		assert.True(t, finished)
		assert.Equal(t, int64(len(payload)), lastDownloaded)
		assert.Equal(t, int64(len(payload)), lastTotal)
		if confirm {
			assert.Equal(t, int32(2), requests.Load())
		} else {
			assert.Equal(t, int32(1), requests.Load())
		}
		server.Close()
	}
}

func TestFetchUnknownLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for ii := 0; ii < 3; ii++ {
			_, _ = w.Write([]byte("chunk"))
			w.(http.Flusher).Flush()
		}
	}))
	defer server.Close()
	var totals []int64
	fetcher := testFetcher(server).WithProgressCallback(func(_, total int64, _ bool, _ error) {
		totals = append(totals, total)
	})
	dest := filepath.Join(t.TempDir(), "file.bin")
	size, err := fetcher.Fetch(testRemoteID, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(15), size)
	require.NotEmpty(t, totals)
	for _, total := range totals {
		assert.Equal(t, int64(0), total)
	}
}

func TestFetchUserAgent(t *testing.T) {
	agents := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.UserAgent()
		_, _ = w.Write([]byte("data"))
	}))
	defer server.Close()
	dir := t.TempDir()

	_, err := testFetcher(server).WithUserAgent("ganutils-test/1.0").Fetch(testRemoteID, filepath.Join(dir, "a"))
	require.NoError(t, err)
	_, err = testFetcher(server).Fetch(testRemoteID, filepath.Join(dir, "b"))
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "ganutils-test/1.0", <-agents)
	assert.NotEqual(t, "ganutils-test/1.0", <-agents)
}

func TestFetchErrors(t *testing.T) {
	server := newDriveServer(t, []byte("data"), false, nil)
	fetcher := testFetcher(server)
	_, err := fetcher.Fetch("unknown-id", filepath.Join(t.TempDir(), "x"))
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr), "expected *FetchError, got %v", err)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	assert.Equal(t, "unknown-id", fetchErr.RemoteID)

	// Transport failure.
	server.Close()
	_, err = fetcher.Fetch(testRemoteID, filepath.Join(t.TempDir(), "y"))
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, 0, fetchErr.StatusCode)
}

func TestConfirmToken(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Add("Set-Cookie", "NID=1; Path=/")
	assert.Equal(t, "", ConfirmToken(resp))
	resp.Header.Add("Set-Cookie", "download_warning_13058876669334088843_0B7EV=Ab12; Path=/")
	assert.Equal(t, "Ab12", ConfirmToken(resp))
}

// zipBytes builds a zip archive with the given files (name -> contents).
func zipBytes(t *testing.T, files map[string]string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, contents := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarGzBytes(t *testing.T, files map[string]string) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, contents := range files {
		if strings.HasSuffix(name, "/") {
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeDir, Mode: 0755}))
			continue
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(contents))}))
		_, err := tw.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "a.zip")
	require.NoError(t, os.WriteFile(zipPath, zipBytes(t, map[string]string{
		"top/000001.jpg": "one", "top/nested/000002.jpg": "two"}), 0644))
	out := filepath.Join(dir, "out")
	require.NoError(t, Extract(zipPath, out))
	contents, err := os.ReadFile(filepath.Join(out, "top", "nested", "000002.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(contents))

	tgzPath := filepath.Join(dir, "b.tar.gz")
	require.NoError(t, os.WriteFile(tgzPath, tarGzBytes(t, map[string]string{
		"flowers/": "", "flowers/image_00001.jpg": "flower"}), 0644))
	require.NoError(t, Extract(tgzPath, out))
	contents, err = os.ReadFile(filepath.Join(out, "flowers", "image_00001.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "flower", string(contents))
}

func TestExtractErrors(t *testing.T) {
	dir := t.TempDir()
	var extractErr *ExtractError

	evilPath := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(evilPath, zipBytes(t, map[string]string{"../evil.txt": "x"}), 0644))
	err := Extract(evilPath, filepath.Join(dir, "out"))
	require.True(t, errors.As(err, &extractErr), "expected *ExtractError, got %v", err)
	assert.False(t, fileExists(t, filepath.Join(dir, "evil.txt")))

	corruptPath := filepath.Join(dir, "corrupt.zip")
	require.NoError(t, os.WriteFile(corruptPath, []byte("not a zip file"), 0644))
	err = Extract(corruptPath, filepath.Join(dir, "out"))
	require.True(t, errors.As(err, &extractErr))

	rarPath := filepath.Join(dir, "images.rar")
	require.NoError(t, os.WriteFile(rarPath, []byte("rar"), 0644))
	err = Extract(rarPath, filepath.Join(dir, "out"))
	require.True(t, errors.As(err, &extractErr))
}

func fileExists(t *testing.T, path string) bool {
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	require.True(t, os.IsNotExist(err))
	return false
}

func TestFetchAndExtractArchive(t *testing.T) {
	archive := zipBytes(t, map[string]string{
		"img_align/000001.jpg": "1", "img_align/000002.jpg": "2"})
	var requests atomic.Int32
	server := newDriveServer(t, archive, true, &requests)
	defer server.Close()
	fetcher := testFetcher(server)

	baseDir := t.TempDir()
	var partitioned []string
	layout := DatasetLayout{
		Name:         "faces",
		ExtractedDir: "img_align",
		Partition: func(dataDir string) error {
			partitioned = append(partitioned, dataDir)
			return nil
		},
	}
	require.NoError(t, fetcher.FetchAndExtractArchive(testRemoteID, "faces.zip", baseDir, layout))
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, []string{filepath.Join(baseDir, "faces")}, partitioned)
	contents, err := os.ReadFile(filepath.Join(baseDir, "faces", ImagesSubdir, "000002.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(contents))
	assert.False(t, fileExists(t, filepath.Join(baseDir, "faces.zip")), "archive should be removed")
	assert.False(t, fileExists(t, filepath.Join(baseDir, "img_align")))

	// Second run: dataset directory exists, so it's a no-op without network access.
	require.NoError(t, fetcher.FetchAndExtractArchive(testRemoteID, "faces.zip", baseDir, layout))
	assert.Equal(t, int32(2), requests.Load())
	assert.Len(t, partitioned, 1)
}

func TestFetchAndExtractArchiveReusesArchive(t *testing.T) {
	baseDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "faces.zip"),
		zipBytes(t, map[string]string{"img_align/000001.jpg": "1"}), 0644))

	// The fetcher points to a closed server: any network access would fail.
	server := newDriveServer(t, nil, false, nil)
	server.Close()
	layout := DatasetLayout{Name: "faces", ExtractedDir: "img_align"}
	require.NoError(t, testFetcher(server).FetchAndExtractArchive(testRemoteID, "faces.zip", baseDir, layout))
	assert.True(t, fileExists(t, filepath.Join(baseDir, "faces", ImagesSubdir, "000001.jpg")))
}

func TestFetchAndExtractArchiveWrongLayout(t *testing.T) {
	baseDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "faces.zip"),
		zipBytes(t, map[string]string{"other_dir/000001.jpg": "1"}), 0644))
	layout := DatasetLayout{Name: "faces", ExtractedDir: "img_align"}
	err := New().FetchAndExtractArchive(testRemoteID, "faces.zip", baseDir, layout)
	var extractErr *ExtractError
	require.True(t, errors.As(err, &extractErr), "expected *ExtractError, got %v", err)
}
