package docsearch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultBuildTimeout bounds a single index build including any download.
const DefaultBuildTimeout = 2 * time.Minute

// ErrEmptyCorpus is returned when the loader finds no documents.
var ErrEmptyCorpus = errors.New("doc corpus contains no documents")

// Lazy builds its Index on first use. Concurrent first callers share one
// build; a failed build is retried by the next caller.
type Lazy struct {
	load    Loader
	timeout time.Duration
	logger  *zap.Logger

	group  singleflight.Group
	mu     sync.RWMutex
	index  *Index
	builds atomic.Int32
}

// NewLazy wraps load. timeout <= 0 uses DefaultBuildTimeout.
func NewLazy(load Loader, timeout time.Duration, logger *zap.Logger) *Lazy {
	if timeout <= 0 {
		timeout = DefaultBuildTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lazy{load: load, timeout: timeout, logger: logger}
}

// Builds reports how many times the loader has run.
func (l *Lazy) Builds() int { return int(l.builds.Load()) }

// Ready reports whether the index has been built.
func (l *Lazy) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index != nil
}

// Get returns the index, building it if needed. The build is detached from
// ctx so one impatient caller cannot fail it for the others; ctx only bounds
// how long this caller waits.
func (l *Lazy) Get(ctx context.Context) (*Index, error) {
	l.mu.RLock()
	idx := l.index
	l.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}

	ch := l.group.DoChan("index", func() (any, error) {
		l.mu.RLock()
		existing := l.index
		l.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		l.builds.Add(1)
		start := time.Now()
		buildCtx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		docs, err := l.load(buildCtx)
		if err != nil {
			return nil, fmt.Errorf("load doc corpus: %w", err)
		}
		if len(docs) == 0 {
			return nil, ErrEmptyCorpus
		}
		built := NewIndex(docs)
		l.mu.Lock()
		l.index = built
		l.mu.Unlock()
		l.logger.Info("doc index built", zap.Int("documents", built.Len()), zap.Duration("elapsed", time.Since(start)))
		return built, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Index), nil
	}
}

// Result is one formatted search hit.
type Result struct {
	Rank        int     `json:"rank"`
	Filename    string  `json:"filename"`
	Score       float64 `json:"score"`
	Preview     string  `json:"preview"`
	FullContent string  `json:"full_content"`
}

// PreviewChars is the preview length before the ellipsis.
const PreviewChars = 300

// MaxResults caps num_results.
const MaxResults = 10

// Search runs query against the lazily built index. limit is clamped to
// 1..MaxResults.
func (l *Lazy) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	idx, err := l.Get(ctx)
	if err != nil {
		return nil, err
	}
	limit = min(max(limit, 1), MaxResults)
	hits := idx.Search(query, limit)
	out := make([]Result, 0, len(hits))
	for i, h := range hits {
		out = append(out, Result{
			Rank:        i + 1,
			Filename:    h.Filename,
			Score:       h.Score,
			Preview:     preview(h.Content),
			FullContent: h.Content,
		})
	}
	return out, nil
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewChars {
		return strings.TrimSpace(strings.ReplaceAll(content, "\n", " "))
	}
	return strings.TrimSpace(strings.ReplaceAll(string(runes[:PreviewChars]), "\n", " ")) + "..."
}
