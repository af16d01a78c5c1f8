package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"curio/internal/services"
)

// MemoryChannel is an in-memory channel used by tests and local development.
// It implements both Channel and Lister.
type MemoryChannel struct {
	name string

	mu    sync.Mutex
	items map[string]*memoryItem

	// OpenErr, when set, is returned from every Open call. Tests use it to
	// simulate outages and rate limits.
	OpenErr error
	// ReadErrAfter injects a transient read failure after this many bytes
	// of the next ReadRange stream. Zero disables injection.
	ReadErrAfter int64
	// IgnoreRanges makes handles reject nonzero offsets the way an HTTP
	// server without range support would.
	IgnoreRanges bool
}

type memoryItem struct {
	item  Item
	files map[string][]byte
}

// NewMemoryChannel returns an empty in-memory channel.
func NewMemoryChannel(name string) *MemoryChannel {
	return &MemoryChannel{name: name, items: make(map[string]*memoryItem)}
}

func (c *MemoryChannel) Name() string { return c.name }

// AddItem registers an item whose file contents are given literally. Sizes
// and SHA-256 hashes are computed from the payloads.
func (c *MemoryChannel) AddItem(sourceRef, caption, title, designer string, postedAt time.Time, files map[string][]byte) Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := Item{
		SourceRef: sourceRef,
		Caption:   caption,
		Title:     title,
		Designer:  designer,
		PostedAt:  postedAt,
	}
	stored := make(map[string][]byte, len(files))
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		payload := files[name]
		sum := sha256.Sum256(payload)
		item.Files = append(item.Files, FileInfo{
			Name:   name,
			Size:   int64(len(payload)),
			SHA256: hex.EncodeToString(sum[:]),
		})
		stored[name] = append([]byte(nil), payload...)
	}
	c.items[sourceRef] = &memoryItem{item: item, files: stored}
	return item
}

// ListSince returns items posted after the given time, oldest first.
func (c *MemoryChannel) ListSince(ctx context.Context, since time.Time) ([]Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var items []Item
	for _, stored := range c.items {
		if stored.item.PostedAt.After(since) {
			items = append(items, stored.item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].PostedAt.Before(items[j].PostedAt) })
	return items, nil
}

// Open returns a handle over the stored payload.
func (c *MemoryChannel) Open(ctx context.Context, sourceRef, fileName string) (FetchHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	stored, ok := c.items[sourceRef]
	if !ok {
		return nil, services.Wrap(services.ErrFatal, "source", "open",
			fmt.Sprintf("unknown source ref %q", sourceRef), nil)
	}
	payload, ok := stored.files[fileName]
	if !ok {
		return nil, services.Wrap(services.ErrFatal, "source", "open",
			fmt.Sprintf("unknown file %q", fileName), nil)
	}

	var expected string
	for _, fi := range stored.item.Files {
		if fi.Name == fileName {
			expected = fi.SHA256
		}
	}

	errAfter := c.ReadErrAfter
	c.ReadErrAfter = 0

	return &memoryHandle{
		name:         fileName,
		payload:      payload,
		sha256:       expected,
		errAfter:     errAfter,
		ignoreRanges: c.IgnoreRanges,
	}, nil
}

type memoryHandle struct {
	name         string
	payload      []byte
	sha256       string
	errAfter     int64
	ignoreRanges bool
}

func (h *memoryHandle) Name() string   { return h.name }
func (h *memoryHandle) Size() int64    { return int64(len(h.payload)) }
func (h *memoryHandle) SHA256() string { return h.sha256 }

func (h *memoryHandle) ReadRange(ctx context.Context, offset int64) (io.ReadCloser, error) {
	if h.ignoreRanges && offset > 0 {
		return nil, services.Wrap(services.ErrTransient, "source", "read",
			"channel does not support range requests", ErrResumeNotSupported)
	}
	if offset < 0 || offset > int64(len(h.payload)) {
		return nil, services.Wrap(services.ErrValidation, "source", "read",
			fmt.Sprintf("offset %d out of range", offset), nil)
	}
	remaining := h.payload[offset:]
	if h.errAfter > 0 && h.errAfter < int64(len(remaining)) {
		return &faultyReader{
			reader: bytes.NewReader(remaining[:h.errAfter]),
		}, nil
	}
	return io.NopCloser(bytes.NewReader(remaining)), nil
}

// faultyReader yields its prefix then fails with a transient error, standing
// in for a dropped connection.
type faultyReader struct {
	reader *bytes.Reader
}

func (r *faultyReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if err == io.EOF {
		return n, services.Wrap(services.ErrTransient, "source", "read", "connection dropped", nil)
	}
	return n, err
}

func (r *faultyReader) Close() error { return nil }
