// Package embedding wraps the local inference server that turns text into
// fixed-width vectors for Claudia's vector side-tables.
package embedding

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
)

// ErrUnavailable is returned when the embedding provider failed its liveness
// probe; callers degrade to keyword-only search rather than blocking.
var ErrUnavailable = errors.New("embedding provider unavailable")

// ErrDimensionMismatch mirrors storage.ErrDimensionMismatch: new vector
// writes are refused until the operator runs the embedding-migration
// subcommand.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch, run --migrate-embeddings")

// Client generates embeddings against a local Ollama-compatible server, with
// an LRU cache keyed on (model, text) and a short-TTL liveness cache so a
// down provider doesn't add a network round trip to every call.
type Client struct {
	api   *api.Client
	model string
	dims  int

	cache *lru

	livenessMu  sync.Mutex
	lastProbe   time.Time
	lastLive    bool
	probeTTL    time.Duration

	mismatchMu sync.RWMutex
	mismatch   bool
}

// New constructs a Client through Ollama's own environment discovery
// (OLLAMA_HOST), matching extractor.NewOllamaExtractor's client construction.
// The host argument is not used to pick the server.
func New(host, model string, dims, cacheSize int) (*Client, error) {
	var cl *api.Client
	var err error
	if host == "" {
		cl, err = api.ClientFromEnvironment()
	} else {
		cl, err = api.ClientFromEnvironment()
		// ClientFromEnvironment reads OLLAMA_HOST; a non-empty host is
		// ignored here, and no caller copies it into OLLAMA_HOST.
		_ = host
	}
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	if cacheSize <= 0 {
		cacheSize = 2048
	}
	return &Client{
		api:      cl,
		model:    model,
		dims:     dims,
		cache:    newLRU(cacheSize),
		probeTTL: 30 * time.Second,
	}, nil
}

// Available probes the provider at most once per probeTTL window.
func (c *Client) Available(ctx context.Context) bool {
	c.livenessMu.Lock()
	defer c.livenessMu.Unlock()

	if time.Since(c.lastProbe) < c.probeTTL {
		return c.lastLive
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.api.List(probeCtx)
	c.lastProbe = time.Now()
	c.lastLive = err == nil
	return c.lastLive
}

// MismatchFlagged reports whether the store detected the configured
// (model, dims) diverges from what was recorded in _meta at initialization.
func (c *Client) MismatchFlagged() bool {
	c.mismatchMu.RLock()
	defer c.mismatchMu.RUnlock()
	return c.mismatch
}

func (c *Client) SetMismatchFlag(v bool) {
	c.mismatchMu.Lock()
	c.mismatch = v
	c.mismatchMu.Unlock()
}

// Generate returns the embedding for a single string, consulting the cache
// first. Blocks up to a 30-second timeout.
func (c *Client) Generate(ctx context.Context, text string) ([]float32, error) {
	if c.MismatchFlagged() {
		return nil, ErrDimensionMismatch
	}
	if v, ok := c.cache.get(cacheKey(c.model, text)); ok {
		return v, nil
	}
	if !c.Available(ctx) {
		return nil, ErrUnavailable
	}

	genCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := c.api.Embeddings(genCtx, &api.EmbeddingRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("generate embedding: %w", err)
	}
	vec := make([]float32, len(resp.Embedding))
	for i, f := range resp.Embedding {
		vec[i] = float32(f)
	}
	if c.dims > 0 && len(vec) != c.dims {
		return nil, fmt.Errorf("%w: provider returned %d dims, configured %d", ErrDimensionMismatch, len(vec), c.dims)
	}
	c.cache.put(cacheKey(c.model, text), vec)
	return vec, nil
}

// GenerateBatch fans requests out concurrently since each embedding is
// independent; the write path uses the result as a precomputed_embedding for
// every record in the batch's second (storage) pass.
func (c *Client) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	errs := make([]error, len(texts))

	var wg sync.WaitGroup
	for i, t := range texts {
		wg.Add(1)
		go func(i int, t string) {
			defer wg.Done()
			v, err := c.Generate(ctx, t)
			out[i] = v
			errs[i] = err
		}(i, t)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// ClearCache drops every cached vector, used when the configured model
// changes underneath a running daemon.
func (c *Client) ClearCache() { c.cache.clear() }

func (c *Client) Model() string { return c.model }
func (c *Client) Dimensions() int { return c.dims }

func cacheKey(model, text string) string { return model + "\x00" + text }

// lru is a small mutex-protected (key -> []float32) cache keyed on
// (model, text), backed by container/list for recency ordering.
type lru struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

type lruEntry struct {
	key   string
	value []float32
}

func newLRU(capacity int) *lru {
	return &lru{capacity: capacity, items: make(map[string]*list.Element), order: list.New()}
}

func (l *lru) get(key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.items[key]
	if !ok {
		return nil, false
	}
	l.order.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

func (l *lru) put(key string, value []float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.items[key]; ok {
		el.Value.(*lruEntry).value = value
		l.order.MoveToFront(el)
		return
	}
	el := l.order.PushFront(&lruEntry{key: key, value: value})
	l.items[key] = el
	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		if oldest != nil {
			l.order.Remove(oldest)
			delete(l.items, oldest.Value.(*lruEntry).key)
		}
	}
}

func (l *lru) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = make(map[string]*list.Element)
	l.order = list.New()
}
