package specialty

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/sahilm/fuzzy"
)

// CatalogEntry describes a pack available on disk.
type CatalogEntry struct {
	Slug        string   `json:"slug" yaml:"slug"`
	Latest      string   `json:"latest" yaml:"latest"`
	Versions    []string `json:"versions" yaml:"versions"`
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string   `json:"category,omitempty" yaml:"category,omitempty"`
	Error       string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// Catalog enumerates the <slug>/<version> tree behind a Loader.
type Catalog struct {
	loader *Loader
}

func NewCatalog(loader *Loader) *Catalog {
	return &Catalog{loader: loader}
}

// Versions lists the version directories of slug, newest first. Directories
// that are not MAJOR.MINOR.PATCH are ignored.
func (c *Catalog) Versions(ctx context.Context, slug string) ([]string, error) {
	if !ValidSlug(slug) {
		return nil, invalidRequest("invalid pack slug %q", slug)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(c.loader.FS(), slug)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPackNotFound, slug)
		}
		return nil, fmt.Errorf("read pack directory %s: %w", slug, err)
	}

	var versions semver.Collection
	for _, e := range entries {
		if !e.IsDir() || !ValidVersion(e.Name()) {
			continue
		}
		v, err := semver.StrictNewVersion(e.Name())
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Sort(sort.Reverse(versions))

	out := make([]string, 0, len(versions))
	for _, v := range versions {
		out = append(out, v.Original())
	}
	return out, nil
}

// Latest returns the highest version of slug on disk.
func (c *Catalog) Latest(ctx context.Context, slug string) (string, error) {
	versions, err := c.Versions(ctx, slug)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("%w: %s has no versions", ErrPackNotFound, slug)
	}
	return versions[0], nil
}

// List returns every pack on disk ordered by slug. Metadata comes from the
// latest version's manifest; an invalid manifest is reported on the entry.
func (c *Catalog) List(ctx context.Context) ([]CatalogEntry, error) {
	entries, err := fs.ReadDir(c.loader.FS(), ".")
	if err != nil {
		return nil, fmt.Errorf("read pack root: %w", err)
	}

	var out []CatalogEntry
	for _, e := range entries {
		if !e.IsDir() || !ValidSlug(e.Name()) {
			continue
		}
		versions, err := c.Versions(ctx, e.Name())
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			continue
		}
		entry := CatalogEntry{Slug: e.Name(), Latest: versions[0], Versions: versions}
		m, err := c.loader.ReadManifest(entry.Slug, entry.Latest)
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Name = m.Name
			entry.Description = m.Description
			entry.Category = m.Category
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// Search fuzzy-matches query against slug, name, description and category.
// An empty query returns the full list.
func (c *Catalog) Search(ctx context.Context, query string) ([]CatalogEntry, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return all, nil
	}

	searchStrings := make([]string, 0, len(all))
	for _, e := range all {
		searchStrings = append(searchStrings, fmt.Sprintf("%s %s %s %s", e.Slug, e.Name, e.Description, e.Category))
	}

	matches := fuzzy.Find(query, searchStrings)
	results := make([]CatalogEntry, 0, len(matches))
	for _, m := range matches {
		results = append(results, all[m.Index])
	}
	return results, nil
}
