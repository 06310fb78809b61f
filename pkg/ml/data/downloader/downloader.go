// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package downloader fetches dataset archives from a file-hosting export endpoint that
// may require a confirmation round-trip for large files, and extracts them into the
// canonical dataset layout.
//
// Downloads are synchronous and are not retried: errors are returned to the caller, and
// partially written files are left on disk.
package downloader

import (
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/ganutils/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

const (
	// DefaultURL is the export endpoint queried with the remote file id.
	DefaultURL = "https://docs.google.com/uc?export=download"

	// DefaultChunkSize used when streaming the response body to disk.
	DefaultChunkSize = 32 * 1024

	// ConfirmCookiePrefix is the prefix of the cookie holding the confirmation token for large downloads.
	ConfirmCookiePrefix = "download_warning"
)

// ProgressCallback is called as download progresses.
//
// Args:
//   - totalBytes is 0 if the total size is not known (no Content-Length).
//   - finished is set to true when the download is finished, successfully or not.
//   - err is set if the download failed, in which case finished is also true.
type ProgressCallback func(downloadedBytes, totalBytes int64, finished bool, err error)

// FetchError is returned when a remote file can't be downloaded: transport errors,
// unexpected HTTP status or failures while writing the body to disk.
type FetchError struct {
	RemoteID   string
	URL        string
	StatusCode int // Set if the server replied with an unexpected status.
	Err        error
}

// Error implements error.
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %q from %s: bad status code %d: %v", e.RemoteID, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetching %q from %s: %v", e.RemoteID, e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher downloads files by their remote id. Create it with New and configure it with the
// cascaded With* methods.
type Fetcher struct {
	baseURL         string
	client          *http.Client
	chunkSize       int
	showProgressBar bool
	callback        ProgressCallback
	userAgent       string
}

// New creates a Fetcher for DefaultURL, with chunks of DefaultChunkSize and no progress reporting.
func New() *Fetcher {
	return &Fetcher{
		baseURL:   DefaultURL,
		client:    &http.Client{},
		chunkSize: DefaultChunkSize,
	}
}

// WithBaseURL sets the export endpoint. Query parameters already in the URL are kept.
//
// It returns the Fetcher, so configuration calls can be cascaded.
func (f *Fetcher) WithBaseURL(baseURL string) *Fetcher {
	f.baseURL = baseURL
	return f
}

// WithClient sets the http.Client used as template for the download sessions.
// Its cookie jar is replaced by a fresh one on each Fetch.
//
// It returns the Fetcher, so configuration calls can be cascaded.
func (f *Fetcher) WithClient(client *http.Client) *Fetcher {
	f.client = client
	return f
}

// WithChunkSize sets the size of the chunks read from the response body.
//
// It returns the Fetcher, so configuration calls can be cascaded.
func (f *Fetcher) WithChunkSize(chunkSize int) *Fetcher {
	f.chunkSize = chunkSize
	return f
}

// WithProgressBar enables a terminal progress bar for downloads.
//
// It returns the Fetcher, so configuration calls can be cascaded.
func (f *Fetcher) WithProgressBar(show bool) *Fetcher {
	f.showProgressBar = show
	return f
}

// WithProgressCallback sets a callback to be called as downloads progress.
//
// It returns the Fetcher, so configuration calls can be cascaded.
func (f *Fetcher) WithProgressCallback(callback ProgressCallback) *Fetcher {
	f.callback = callback
	return f
}

// WithUserAgent sets the user agent to use.
//
// It returns the Fetcher, so configuration calls can be cascaded.
func (f *Fetcher) WithUserAgent(userAgent string) *Fetcher {
	f.userAgent = userAgent
	return f
}

// session holds the state of one Fetch call: a client with its own cookie jar.
type session struct {
	f        *Fetcher
	client   *http.Client
	remoteID string
}

func (f *Fetcher) newSession(remoteID string) (*session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cookie jar")
	}
	client := *f.client
	client.Jar = jar
	return &session{f: f, client: &client, remoteID: remoteID}, nil
}

// requestURL returns the export URL for the remote id and, if not empty, the confirmation token.
func (s *session) requestURL(token string) (string, error) {
	u, err := url.Parse(s.f.baseURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid base URL %q", s.f.baseURL)
	}
	query := u.Query()
	query.Set("id", s.remoteID)
	if token != "" {
		query.Set("confirm", token)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (s *session) get(token string) (*http.Response, error) {
	reqURL, err := s.requestURL(token)
	if err != nil {
		return nil, &FetchError{RemoteID: s.remoteID, URL: s.f.baseURL, Err: err}
	}
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{RemoteID: s.remoteID, URL: reqURL, Err: errors.Wrap(err, "failed creating request")}
	}
	if s.f.userAgent != "" {
		req.Header.Set("User-Agent", s.f.userAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{RemoteID: s.remoteID, URL: reqURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, &FetchError{RemoteID: s.remoteID, URL: reqURL, StatusCode: resp.StatusCode,
			Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	return resp, nil
}

// ConfirmToken returns the value of the first cookie set by the response whose name starts with
// ConfirmCookiePrefix, or "" if there is none.
func ConfirmToken(resp *http.Response) string {
	for _, cookie := range resp.Cookies() {
		if strings.HasPrefix(cookie.Name, ConfirmCookiePrefix) {
			return cookie.Value
		}
	}
	return ""
}

// Fetch downloads the file with the given remote id to destination, creating its directory if needed.
//
// If the first response sets a confirmation cookie (large files that can't be virus-scanned),
// a second request is issued with the confirmation token, and that response's body is saved.
//
// It returns the number of bytes written. Errors are *FetchError, and on failure a partial file may
// be left at destination.
func (f *Fetcher) Fetch(remoteID, destination string) (size int64, err error) {
	destination, err = fsutil.ReplaceTildeInDir(destination)
	if err != nil {
		return 0, err
	}
	s, err := f.newSession(remoteID)
	if err != nil {
		return 0, err
	}
	resp, err := s.get("")
	if err != nil {
		f.report(0, 0, true, err)
		return 0, err
	}
	if token := ConfirmToken(resp); token != "" {
		klog.V(1).Infof("fetching %q: confirming download with token", remoteID)
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		resp, err = s.get(token)
		if err != nil {
			f.report(0, 0, true, err)
			return 0, err
		}
	}
	defer func() { _ = resp.Body.Close() }()
	size, err = f.save(resp, destination)
	if err != nil {
		err = &FetchError{RemoteID: remoteID, URL: resp.Request.URL.String(), Err: err}
	}
	f.report(size, max(resp.ContentLength, 0), true, err)
	return size, err
}

func (f *Fetcher) report(downloaded, total int64, finished bool, err error) {
	if f.callback != nil {
		f.callback(downloaded, total, finished, err)
	}
}

// save streams the response body to destination in chunks, skipping empty reads.
func (f *Fetcher) save(resp *http.Response, destination string) (downloaded int64, err error) {
	if err = fsutil.EnsureParentDir(destination); err != nil {
		return 0, err
	}
	file, err := os.Create(destination)
	if err != nil {
		return 0, errors.Wrapf(err, "failed creating file %q", destination)
	}
	defer func() {
		if file != nil {
			_ = file.Close()
		}
	}()

	total := max(resp.ContentLength, 0) // Unknown length is reported as 0.
	var bar *progressbar.ProgressBar
	if f.showProgressBar {
		bar = newBytesBar(total, destination)
		defer func() {
			_ = bar.Finish()
			fmt.Println()
		}()
	}
	f.report(0, total, false, nil)

	chunkSize := f.chunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			wn, writeErr := file.Write(buf[:n])
			downloaded += int64(wn)
			if writeErr != nil {
				return downloaded, errors.Wrapf(writeErr, "failed writing to %q", destination)
			}
			if bar != nil {
				_ = bar.Add(n)
			}
			f.report(downloaded, total, false, nil)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return downloaded, errors.Wrapf(readErr, "failed reading after %s", humanize.IBytes(uint64(downloaded)))
		}
	}
	err = file.Close()
	file = nil
	if err != nil {
		return downloaded, errors.Wrapf(err, "failed closing %q", destination)
	}
	return downloaded, nil
}

// newBytesBar creates a progress bar for a download of total bytes. If total is 0 (unknown),
// the bar is displayed as a spinner with the byte count.
func newBytesBar(total int64, destination string) *progressbar.ProgressBar {
	barMax := total
	if barMax == 0 {
		barMax = -1
	}
	return progressbar.NewOptions64(barMax,
		progressbar.OptionSetDescription(destination),
		progressbar.OptionShowBytes(true),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
}
