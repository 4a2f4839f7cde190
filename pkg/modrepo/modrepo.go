// Package modrepo talks to a Thunderstore-compatible mod repository.
//
// Only two questions are asked of it: where a given package version can be
// downloaded, and what the latest version of a package is.
package modrepo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/tidwall/gjson"

	"splitux/pkg/downloader"
	"splitux/pkg/installer"
)

// latestQuery picks the newest version of one package from a community
// index. The index lists versions newest first.
const latestQuery = `.[] | select(.owner == $ns and .name == $name) | .versions[0].version_number`

// Client resolves packages against one repository.
type client struct {
	base string
	dl   downloader.Downloader

	mu      sync.Mutex
	indexes map[string]any
	latest  *gojq.Code
}

type Client = *client

func NewClient(base string, dl downloader.Downloader) (Client, error) {
	q, err := gojq.Parse(latestQuery)
	if err != nil {
		return nil, fmt.Errorf("parse latest query: %w", err)
	}
	code, err := gojq.Compile(q, gojq.WithVariables([]string{"$ns", "$name"}))
	if err != nil {
		return nil, fmt.Errorf("compile latest query: %w", err)
	}
	return &client{
		base:    strings.TrimSuffix(base, "/"),
		dl:      dl,
		indexes: map[string]any{},
		latest:  code,
	}, nil
}

// DownloadURL returns the archive URL of one package version.
func (c *client) DownloadURL(ns, name, version string) string {
	return fmt.Sprintf("%s/package/download/%s/%s/%s/",
		c.base, url.PathEscape(ns), url.PathEscape(name), url.PathEscape(version))
}

// Package returns the installable package for ns/name at version.
func (c *client) Package(ns, name, version string) installer.Package {
	return installer.Package{
		ID:      ns + "-" + name,
		Version: version,
		URL:     c.DownloadURL(ns, name, version),
	}
}

// Latest returns the newest version number of ns/name. With a community the
// community index is searched; otherwise the package endpoint is asked.
func (c *client) Latest(ctx context.Context, community, ns, name string) (string, error) {
	if community == "" {
		return c.latestFromPackage(ctx, ns, name)
	}

	index, err := c.index(ctx, community)
	if err != nil {
		return "", err
	}
	iter := c.latest.RunWithContext(ctx, index, ns, name)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return "", fmt.Errorf("query index: %w", err)
		}
		if s, ok := v.(string); ok && s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("package %s-%s not found in community %s", ns, name, community)
}

func (c *client) latestFromPackage(ctx context.Context, ns, name string) (string, error) {
	uri := fmt.Sprintf("%s/api/experimental/package/%s/%s/", c.base, url.PathEscape(ns), url.PathEscape(name))
	buf := &bytes.Buffer{}
	if err := c.dl.Download(ctx, uri, buf, nil); err != nil {
		return "", fmt.Errorf("fetch package %s-%s: %w", ns, name, err)
	}
	v := gjson.GetBytes(buf.Bytes(), "latest.version_number")
	if !v.Exists() || v.String() == "" {
		return "", fmt.Errorf("package %s-%s has no latest version", ns, name)
	}
	return v.String(), nil
}

// index fetches the community package list once per client.
func (c *client) index(ctx context.Context, community string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.indexes[community]; ok {
		return idx, nil
	}

	uri := fmt.Sprintf("%s/c/%s/api/v1/package/", c.base, url.PathEscape(community))
	buf := &bytes.Buffer{}
	if err := c.dl.Download(ctx, uri, buf, nil); err != nil {
		return nil, fmt.Errorf("fetch index %s: %w", community, err)
	}
	var idx any
	if err := json.Unmarshal(buf.Bytes(), &idx); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", community, err)
	}
	c.indexes[community] = idx
	return idx, nil
}
