// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fetch downloads dataset files over HTTP to local temp files.
// Downloads are attempted a bounded number of times with paced retries;
// the file is fully written and synced before the path is handed back.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/HealthIntersections/xig-server/pkg/logging"
)

var (
	// ErrBadStatus reports a non-2xx response from the dataset host.
	ErrBadStatus = errors.New("unexpected response status")

	// ErrTooManyRedirects reports that the redirect chain exceeded the
	// configured limit.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// Fetcher downloads a URL into destDir and returns the path of the
// downloaded file. The caller owns the file and its cleanup.
type Fetcher interface {
	Fetch(ctx context.Context, url, destDir string) (string, error)
}

// Options tune an HTTPFetcher. Zero values fall back to the defaults
// used by the dataset lifecycle.
type Options struct {
	Timeout      time.Duration // per-attempt limit, default 5m
	MaxRedirects int           // default 10
	Attempts     int           // default 3
	UserAgent    string
}

// HTTPFetcher downloads over HTTP with retries. Retry pacing uses a
// rate limiter rather than a sleep loop so a cancelled context aborts
// the wait immediately.
type HTTPFetcher struct {
	client   *http.Client
	attempts int
	timeout  time.Duration
	agent    string
	limiter  *rate.Limiter
	logger   *logging.Logger
}

// NewHTTPFetcher builds a fetcher with the given options.
func NewHTTPFetcher(opts Options, logger *logging.Logger) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "xig-server/1.0"
	}
	if logger == nil {
		logger = logging.Default()
	}

	maxRedirects := opts.MaxRedirects
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}

	return &HTTPFetcher{
		client:   client,
		attempts: opts.Attempts,
		timeout:  opts.Timeout,
		agent:    opts.UserAgent,
		limiter:  rate.NewLimiter(rate.Every(2*time.Second), 1),
		logger:   logger,
	}
}

// Fetch downloads url into a fresh temp file under destDir. Failed
// attempts are retried with pacing; the last error is returned when all
// attempts fail. Partial files never survive a failed attempt.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, destDir string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", err
		}

		path, err := f.fetchOnce(ctx, url, destDir)
		if err == nil {
			return path, nil
		}
		lastErr = err
		f.logger.Warn("dataset download attempt failed",
			"attempt", attempt, "of", f.attempts, "url", url, "error", err)

		// Redirect loops and cancellations will not improve with retries.
		if errors.Is(err, ErrTooManyRedirects) || ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("downloading %s: %w", url, lastErr)
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url, destDir string) (_ string, err error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", f.agent)

	resp, err := f.client.Do(req)
	if err != nil {
		// The redirect-limit error arrives wrapped in a *url.Error.
		if errors.Is(err, ErrTooManyRedirects) {
			return "", ErrTooManyRedirects
		}
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	tmp, err := os.CreateTemp(destDir, "xig-download-*.db")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return "", fmt.Errorf("writing download: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return "", fmt.Errorf("syncing download: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("closing download: %w", err)
	}

	f.logger.Info("dataset downloaded", "url", url, "bytes", n, "path", tmp.Name())
	return tmp.Name(), nil
}
