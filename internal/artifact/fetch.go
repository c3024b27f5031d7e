// Package artifact downloads the model and static assets from the remote file
// host and makes sure what lands on disk is the real payload.
package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	chunkSize = 32 << 10
	// maxWarningPage bounds how much of an HTML warning page is buffered while
	// looking for a confirmation token.
	maxWarningPage = 1 << 20
)

// tokenCookiePrefixes are the cookie names the file host uses to hand out the
// confirmation token for files too large to be virus scanned.
var tokenCookiePrefixes = []string{"download_warning", "GD", "GAPS"}

var (
	formActionRe  = regexp.MustCompile(`<form[^>]+action="([^"]+)"`)
	formConfirmRe = regexp.MustCompile(`name="confirm"\s+value="([^"]+)"`)
	formUUIDRe    = regexp.MustCompile(`name="uuid"\s+value="([^"]+)"`)
)

// Source describes one artifact to download. Either ID (a file id on the file
// host) or URL (a direct link) must be set.
type Source struct {
	Name    string
	ID      string
	URL     string
	Dest    string
	SHA256  string
	MinSize int64
	// Optional artifacts are logged and skipped when they cannot be fetched.
	Optional bool
}

type Fetcher struct {
	baseURL string
	timeout time.Duration
	logger  logrus.FieldLogger
}

// NewFetcher creates a fetcher for the file host at baseURL. A zero timeout
// lets a download run for as long as the host keeps the connection open.
func NewFetcher(baseURL string, timeout time.Duration, logger logrus.FieldLogger) *Fetcher {
	return &Fetcher{
		baseURL: baseURL,
		timeout: timeout,
		logger:  logger,
	}
}

// FetchAll downloads every source concurrently and returns the first error
// of a non-optional source.
func (f *Fetcher) FetchAll(ctx context.Context, sources ...Source) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			err := f.Fetch(ctx, src)
			if err != nil && src.Optional {
				f.logger.WithError(err).WithField("artifact", src.Name).Warn("Skipping optional artifact")
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// Fetch downloads src and writes it verbatim to src.Dest, replacing any
// existing file. The destination is only touched once the payload passed
// verification.
func (f *Fetcher) Fetch(ctx context.Context, src Source) error {
	if src.Dest == "" {
		return errors.Errorf("artifact %s has no destination", src.Name)
	}
	if src.ID == "" && src.URL == "" {
		return errors.Errorf("artifact %s has neither a file id nor a url", src.Name)
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	log := f.logger.WithFields(logrus.Fields{"artifact": src.Name, "dest": src.Dest})
	log.Info("Fetching artifact")
	start := time.Now()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return errors.Wrap(err, "failed to create cookie jar")
	}
	client := &http.Client{Jar: jar}

	body, err := f.open(ctx, client, src, log)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch %s", src.Name)
	}
	defer body.Close()

	size, err := writeVerified(body, src)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch %s", src.Name)
	}

	log.WithFields(logrus.Fields{
		"size":    units.HumanSize(float64(size)),
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Info("Artifact fetched")
	return nil
}

// open issues the download request and, for the file host, performs the
// confirmation round trip. The returned body is the payload to store.
func (f *Fetcher) open(ctx context.Context, client *http.Client, src Source, log logrus.FieldLogger) (io.ReadCloser, error) {
	if src.ID == "" {
		resp, err := get(ctx, client, src.URL, nil)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}

	params := url.Values{"export": {"download"}, "id": {src.ID}}
	first, err := get(ctx, client, f.baseURL, params)
	if err != nil {
		return nil, err
	}

	token := confirmToken(first.cookies)
	target := f.baseURL
	var uuid string
	var page []byte

	if token == "" && first.html {
		page, err = io.ReadAll(io.LimitReader(first, maxWarningPage))
		if err != nil {
			first.Close()
			return nil, errors.Wrap(err, "failed to read warning page")
		}
		var action string
		action, token, uuid = parseWarningForm(page)
		if action != "" {
			target = action
		}
	}

	if token == "" {
		log.Warn("No confirmation token found, keeping unconfirmed response")
		if page == nil {
			return first, nil
		}
		return &response{
			Reader: io.MultiReader(bytes.NewReader(page), first),
			Closer: first,
		}, nil
	}
	first.Close()

	log.Debug("Confirming download")
	params.Set("confirm", token)
	if uuid != "" {
		params.Set("uuid", uuid)
	}
	confirmed, err := get(ctx, client, target, params)
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

type response struct {
	io.Reader
	io.Closer
	cookies []*http.Cookie
	html    bool
}

func get(ctx context.Context, client *http.Client, rawURL string, params url.Values) (*response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid url %q", rawURL)
	}
	if params != nil {
		q := u.Query()
		for k, v := range params {
			q[k] = v
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, errors.Errorf("unexpected status %s from %s", resp.Status, u.Host)
	}
	return &response{
		Reader:  resp.Body,
		Closer:  resp.Body,
		cookies: resp.Cookies(),
		html:    strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"),
	}, nil
}

func confirmToken(cookies []*http.Cookie) string {
	for _, c := range cookies {
		for _, prefix := range tokenCookiePrefixes {
			if strings.HasPrefix(c.Name, prefix) && c.Value != "" {
				return c.Value
			}
		}
	}
	return ""
}

// parseWarningForm extracts the download form of the host's warning page.
func parseWarningForm(page []byte) (action, token, uuid string) {
	if m := formConfirmRe.FindSubmatch(page); m != nil {
		token = string(m[1])
	}
	if m := formUUIDRe.FindSubmatch(page); m != nil {
		uuid = string(m[1])
	}
	if m := formActionRe.FindSubmatch(page); m != nil {
		a := strings.ReplaceAll(string(m[1]), "&amp;", "&")
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			action = a
		}
	}
	return action, token, uuid
}

// writeVerified streams body into a temp file next to src.Dest, verifies it
// and renames it into place.
func writeVerified(body io.Reader, src Source) (int64, error) {
	dir := filepath.Dir(src.Dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.Wrapf(err, "failed to create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(src.Dest)+".*.part")
	if err != nil {
		return 0, errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	head := &headWriter{}
	size, err := io.CopyBuffer(io.MultiWriter(tmp, hasher, head), body, make([]byte, chunkSize))
	if err != nil {
		tmp.Close()
		return 0, errors.Wrap(err, "download interrupted")
	}
	if err := tmp.Close(); err != nil {
		return 0, errors.Wrap(err, "failed to write temp file")
	}

	if err := verify(src, head.buf, size, hasher.Sum(nil)); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), src.Dest); err != nil {
		return 0, errors.Wrapf(err, "failed to move artifact to %s", src.Dest)
	}
	return size, nil
}

// headWriter keeps the first sniffLen bytes written to it.
type headWriter struct {
	buf []byte
}

func (h *headWriter) Write(p []byte) (int, error) {
	if room := sniffLen - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}
