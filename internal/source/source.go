package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"curio/internal/services"
)

// FileInfo describes one file advertised by a channel before download.
type FileInfo struct {
	Name   string
	Size   int64
	SHA256 string
}

// Item is one content item discovered on a channel. SourceRef is opaque to
// everything except the channel that issued it.
type Item struct {
	SourceRef string
	Caption   string
	Title     string
	Designer  string
	PostedAt  time.Time
	Files     []FileInfo
}

// ErrResumeNotSupported is returned by ReadRange when the channel cannot
// serve the requested offset. The caller discards its partial output and
// restarts the download from zero.
var ErrResumeNotSupported = errors.New("resume not supported")

// FetchHandle exposes one remote file for download. ReadRange must honor the
// requested offset so interrupted downloads resume instead of restarting;
// channels that cannot seek report ErrResumeNotSupported for nonzero offsets.
type FetchHandle interface {
	Name() string
	Size() int64
	// SHA256 returns the expected content hash, or empty when the channel
	// does not know it.
	SHA256() string
	ReadRange(ctx context.Context, offset int64) (io.ReadCloser, error)
}

// Channel produces fetch handles for items it has advertised.
type Channel interface {
	Name() string
	Open(ctx context.Context, sourceRef, fileName string) (FetchHandle, error)
}

// Lister is implemented by channels that can enumerate new items. The sync
// worker requires it; plain fetch-only channels may omit it.
type Lister interface {
	ListSince(ctx context.Context, since time.Time) ([]Item, error)
}

// Registry maps channel names to implementations.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry returns an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register adds a channel, replacing any previous channel with the same name.
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[strings.ToLower(strings.TrimSpace(ch.Name()))] = ch
}

// Lookup returns the channel registered under name.
func (r *Registry) Lookup(name string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "source", "lookup",
			fmt.Sprintf("no channel registered for %q", name), nil)
	}
	return ch, nil
}

// Names returns the registered channel names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
