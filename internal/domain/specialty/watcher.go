package specialty

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ehr/specialty/internal/platform/websocket"
)

// Watcher invalidates cached packs when files under the pack root change.
// fsnotify is not recursive, so every directory in the tree is registered and
// new directories are added as they appear.
type Watcher struct {
	root    string
	cache   *PackCache
	logger  zerolog.Logger
	events  websocket.EventPublisher
	watcher *fsnotify.Watcher
}

func NewWatcher(root string, cache *PackCache, logger zerolog.Logger) *Watcher {
	return &Watcher{
		root:   filepath.Clean(root),
		cache:  cache,
		logger: logger.With().Str("component", "pack_watcher").Logger(),
	}
}

// SetPublisher announces every dropped cache entry on the packs topic.
func (w *Watcher) SetPublisher(p websocket.EventPublisher) {
	w.events = p
}

// Start registers the pack tree and processes events until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create pack watcher: %w", err)
	}
	w.watcher = watcher

	if err := w.addTree(w.root); err != nil {
		watcher.Close()
		return err
	}

	w.logger.Info().Str("root", w.root).Msg("watching specialty packs for changes")
	go w.loop(ctx)
	return nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("stopping pack watcher")
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("pack watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if err := w.addTree(event.Name); err != nil {
			w.logger.Debug().Err(err).Str("path", event.Name).Msg("skip watching new path")
		}
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	for _, key := range w.invalidate(event.Name) {
		w.logger.Info().Str("pack", key).Str("op", event.Op.String()).Msg("pack changed on disk, cache entry dropped")
		if w.events == nil {
			continue
		}
		slug, version, _ := strings.Cut(key, ":")
		if err := w.events.Publish(ctx, websocket.Event{
			Type:        EventPackInvalidated,
			Topic:       websocket.TopicPacks,
			PackSlug:    slug,
			PackVersion: version,
		}); err != nil {
			w.logger.Warn().Err(err).Str("pack", key).Msg("publish invalidation")
		}
	}
}

// invalidate drops whatever cache entries the changed path belongs to and
// returns their keys.
func (w *Watcher) invalidate(name string) []string {
	slug, version, ok := packPathKey(w.root, name)
	if !ok {
		return nil
	}
	if version == "" {
		return w.cache.InvalidateSlug(slug)
	}
	key := Key(slug, version)
	if w.cache.Invalidate(key) {
		return []string{key}
	}
	return nil
}

// packPathKey maps a path under root to the pack it belongs to. A path directly
// under a slug directory yields an empty version.
func packPathKey(root, name string) (slug, version string, ok bool) {
	rel, err := filepath.Rel(root, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if !ValidSlug(parts[0]) {
		return "", "", false
	}
	if len(parts) == 1 || !ValidVersion(parts[1]) {
		return parts[0], "", true
	}
	return parts[0], parts[1], true
}
