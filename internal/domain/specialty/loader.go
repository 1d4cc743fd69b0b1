package specialty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var emptyList = json.RawMessage(`[]`)

// Loader reads packs laid out as <slug>/<version>/pack.json under fsys and
// compiles them into CompiledPacks. Successful loads are kept in the cache.
type Loader struct {
	fsys   fs.FS
	cache  *PackCache
	logger zerolog.Logger
	group  singleflight.Group
}

func NewLoader(fsys fs.FS, cache *PackCache, logger zerolog.Logger) *Loader {
	return &Loader{
		fsys:   fsys,
		cache:  cache,
		logger: logger.With().Str("component", "pack_loader").Logger(),
	}
}

func (l *Loader) Cache() *PackCache { return l.cache }

func (l *Loader) FS() fs.FS { return l.fsys }

// Load returns the compiled pack for slug:version, reading it from disk on a
// cache miss. Concurrent misses on the same key share one read.
func (l *Loader) Load(ctx context.Context, slug, version string) (*CompiledPack, error) {
	if !ValidSlug(slug) {
		return nil, invalidRequest("invalid pack slug %q", slug)
	}
	if !ValidVersion(version) {
		return nil, invalidRequest("invalid pack version %q", version)
	}

	key := Key(slug, version)
	if p, ok := l.cache.Get(key); ok {
		return p, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		if p, ok := l.cache.Get(key); ok {
			return p, nil
		}
		p, err := l.compile(slug, version)
		if err != nil {
			return nil, err
		}
		l.cache.Put(key, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CompiledPack), nil
}

// ReadManifest reads and validates the manifest of slug:version without
// touching artifacts or the cache.
func (l *Loader) ReadManifest(slug, version string) (*PackManifest, error) {
	data, err := fs.ReadFile(l.fsys, path.Join(slug, version, ManifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPackNotFound, Key(slug, version))
		}
		return nil, &ManifestInvalidError{
			Slug:       slug,
			Version:    version,
			Violations: []Violation{{Constraint: "readable", Message: err.Error()}},
		}
	}

	m, err := ParseManifest(data)
	if err != nil {
		var mie *ManifestInvalidError
		if errors.As(err, &mie) {
			mie.Slug, mie.Version = slug, version
		}
		return nil, err
	}

	var vs []Violation
	if m.Slug != slug {
		vs = append(vs, Violation{Path: "slug", Constraint: "identity",
			Message: fmt.Sprintf("manifest slug %q does not match pack directory %q", m.Slug, slug)})
	}
	if m.Version != version {
		vs = append(vs, Violation{Path: "version", Constraint: "identity",
			Message: fmt.Sprintf("manifest version %q does not match version directory %q", m.Version, version)})
	}
	if len(vs) > 0 {
		return nil, &ManifestInvalidError{Slug: slug, Version: version, Violations: vs}
	}
	return m, nil
}

func (l *Loader) compile(slug, version string) (*CompiledPack, error) {
	m, err := l.ReadManifest(slug, version)
	if err != nil {
		return nil, err
	}

	log := l.logger.With().Str("pack", m.Key()).Logger()
	base := path.Join(slug, version)

	p := &CompiledPack{
		Slug:          m.Slug,
		Version:       m.Version,
		Name:          m.Name,
		Description:   m.Description,
		Category:      m.Category,
		Icon:          m.Icon,
		Color:         m.Color,
		Navigation:    m.Navigation,
		EpisodeConfig: m.EpisodeConfig,
		Dependencies:  m.Dependencies,
		FeatureFlags:  m.FeatureFlags,
		Devices:       m.Devices,
		Templates:     make([]PackTemplate, 0, len(m.Templates)),
		Manifest:      m,
	}

	for _, rel := range m.Templates {
		schema, err := l.readJSON(base, rel)
		if err != nil {
			degraded(log, "template", rel, err)
			continue
		}
		p.Templates = append(p.Templates, PackTemplate{Path: rel, Schema: schema})
	}

	if p.VisitTypes, err = l.readJSON(base, m.VisitTypes); err != nil {
		degraded(log, "visitTypes", m.VisitTypes, err)
		p.VisitTypes = emptyList
	}

	if m.Workflows != nil && *m.Workflows != "" {
		if p.Workflows, err = l.readWorkflows(base, *m.Workflows); err != nil {
			degraded(log, "workflows", *m.Workflows, err)
			p.Workflows = nil
		}
	}

	if m.Reports != nil && *m.Reports != "" {
		if p.Reports, err = l.readJSON(base, *m.Reports); err != nil {
			degraded(log, "reports", *m.Reports, err)
			p.Reports = nil
		}
	}

	return p, nil
}

func degraded(log zerolog.Logger, artifact, rel string, err error) {
	log.Warn().
		Str("event", "artifact_load_degraded").
		Str("artifact", artifact).
		Str("path", rel).
		Err(err).
		Msg("pack artifact could not be loaded")
}

// artifactPath joins rel onto the version directory and refuses anything that
// would land outside it.
func artifactPath(base, rel string) (string, error) {
	if rel == "" || path.IsAbs(rel) || strings.Contains(rel, `\`) {
		return "", fmt.Errorf("invalid artifact path %q", rel)
	}
	p := path.Join(base, rel)
	if !strings.HasPrefix(p, base+"/") {
		return "", fmt.Errorf("artifact path %q escapes pack directory", rel)
	}
	return p, nil
}

func (l *Loader) readFile(base, rel string) ([]byte, error) {
	p, err := artifactPath(base, rel)
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(l.fsys, p)
}

func (l *Loader) readJSON(base, rel string) (json.RawMessage, error) {
	data, err := l.readFile(base, rel)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", rel, err)
	}
	return buf.Bytes(), nil
}

// readWorkflows parses .json workflow files; any other format is passed
// through as a JSON string of the raw file text.
func (l *Loader) readWorkflows(base, rel string) (json.RawMessage, error) {
	if strings.EqualFold(path.Ext(rel), ".json") {
		return l.readJSON(base, rel)
	}
	data, err := l.readFile(base, rel)
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(data))
}
