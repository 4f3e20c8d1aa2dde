package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zjrosen/croc/internal/cachemanager"
	"github.com/zjrosen/croc/internal/engine/event"
	"github.com/zjrosen/croc/internal/engine/phase"
	"github.com/zjrosen/croc/internal/engine/projector"
	"github.com/zjrosen/croc/internal/log"
)

const digestCacheTTL = 10 * time.Minute

type digestKey string

// digestCache memoizes content digests keyed by path, mtime, and size so
// repeated primes of an unchanged file skip the hash.
var (
	digestCacheOnce sync.Once
	digestCache     *cachemanager.ReadThroughCache[digestKey, string, string]
)

func fileDigestCache() *cachemanager.ReadThroughCache[digestKey, string, string] {
	digestCacheOnce.Do(func() {
		mgr := cachemanager.NewInMemoryCacheManager[digestKey, string](
			"context-digests", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval)
		digestCache = cachemanager.NewReadThroughCache(mgr, hashFile, false)
	})
	return digestCache
}

func hashFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: caller-supplied context file
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// IngestContext records a file as project context. The file's content
// digest deduplicates: ingesting the same content twice, under any path,
// returns the original item and appends nothing.
func (e *Engine) IngestContext(ctx context.Context, projectID string, expected uint64, actor event.Actor, path string) (projector.ContextItem, *projector.State, error) {
	if path == "" {
		return projector.ContextItem{}, nil, &ValidationError{Op: "ingest context", Reason: "path is required"}
	}

	var item projector.ContextItem
	s, err := e.mutate(ctx, projectID, "ingest_context", expected, true, func(s *projector.State) ([]event.Event, error) {
		if phase.IsTerminal(s.Phase) {
			return nil, &ValidationError{Op: "ingest context", Reason: "project is " + string(s.Phase)}
		}

		resolved := path
		if !filepath.IsAbs(resolved) && s.RootPath != "" {
			resolved = filepath.Join(s.RootPath, resolved)
		}
		info, err := os.Stat(resolved)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, &NotFoundError{Kind: "context file", ID: path}
			}
			return nil, fmt.Errorf("stat context file %s: %w", path, err)
		}

		key := digestKey(fmt.Sprintf("%s|%d|%d", resolved, info.ModTime().UnixNano(), info.Size()))
		digest, err := fileDigestCache().Get(ctx, key, resolved, digestCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("digest context file %s: %w", path, err)
		}

		if existing, ok := s.HasDigest(digest); ok {
			log.Debug(log.CatContext, "duplicate content skipped",
				"project", projectID, "path", path, "digest", digest)
			item = existing
			return nil, nil
		}

		item = projector.ContextItem{Path: path, Digest: digest}
		ev := event.New(projectID, event.KindContextIngested, actor, map[string]any{
			event.FieldPath:   path,
			event.FieldDigest: digest,
		}).WithIdempotencyKey("ctx-" + digest)
		return []event.Event{ev}, nil
	})
	if err != nil {
		return projector.ContextItem{}, nil, err
	}

	if stored, ok := s.HasDigest(item.Digest); ok {
		item = stored
	}
	return item, s, nil
}

// ContextItems returns the project's ingested context in ingestion order.
func (e *Engine) ContextItems(ctx context.Context, projectID string) ([]projector.ContextItem, error) {
	s, err := e.State(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.ContextItems, nil
}
