// Package downloader retrieves mod packages and repository indexes.
// Each URI scheme is served by a SchemeHandler; progress goes to a display.Task.
package downloader

import (
	"context"
	"io"

	"splitux/pkg/display"
)

// Downloader manages the retrieval of resources from various URIs.
type Downloader interface {
	// Download retrieves the resource at the specified URI and writes it to w.
	Download(ctx context.Context, uri string, w io.Writer, task display.Task) error
}

// SchemeHandler handles the URIs of specific schemes (e.g. "https").
type SchemeHandler interface {
	Download(ctx context.Context, uri string, w io.Writer, task display.Task) error
	Schemes() []string
}
