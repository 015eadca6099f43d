package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// DefaultLimit is the per-scope size limit in bytes.
const DefaultLimit = 10 << 20

// Info describes a scope. Sizes are in KB.
type Info struct {
	Keys        []string `json:"keys"`
	CurrentSize int64    `json:"currentSize"`
	LimitSize   int64    `json:"limitSize"`
}

// Backend is the storage a running application talks to.
type Backend interface {
	Get(key string) (Item, error)
	Set(key string, item Item) error
	Remove(key string) error
	Clear() error
	Info() (Info, error)
}

// Provider stores one scope.
type Provider struct {
	path   string
	limit  int64
	logger *zap.Logger

	mu    sync.RWMutex
	items map[string]Item
	size  int64
}

// NewMemory creates a provider that is never persisted.
func NewMemory(limit int64) *Provider {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Provider{limit: limit, logger: zap.NewNop(), items: make(map[string]Item)}
}

// Open loads the scope persisted at path, creating it empty if the file does
// not exist yet.
func Open(path string, limit int64, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := NewMemory(limit)
	p.path = path
	p.logger = logger

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "storage.Open", err)
	}
	if len(data) > 0 {
		if err := sonic.Unmarshal(data, &p.items); err != nil {
			return nil, errs.Wrap(errs.KindMalformedInput, "storage.Open", err)
		}
	}
	for k, item := range p.items {
		p.size += size(k, item)
	}
	logger.Debug("storage loaded", zap.String("path", path), zap.Int("keys", len(p.items)))
	return p, nil
}

// Get returns the item stored under key.
func (p *Provider) Get(key string) (Item, error) {
	if key == "" {
		return Item{}, errs.New(errs.KindMalformedInput, "storage.Get", "key is required")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	item, ok := p.items[key]
	if !ok {
		return Item{}, errs.New(errs.KindNotFound, "storage.Get", "data not found")
	}
	return item, nil
}

// Set stores item under key, failing if the scope would outgrow its limit.
func (p *Provider) Set(key string, item Item) error {
	if key == "" {
		return errs.New(errs.KindMalformedInput, "storage.Set", "key is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	prev, existed := p.items[key]
	grown := p.size + size(key, item)
	if existed {
		grown -= size(key, prev)
	}
	if grown > p.limit {
		return errs.New(errs.KindResourceExhausted, "storage.Set", "exceeded the maximum size, %d KB", p.limit/1024)
	}

	p.items[key] = item
	oldSize := p.size
	p.size = grown
	if err := p.persist(); err != nil {
		if existed {
			p.items[key] = prev
		} else {
			delete(p.items, key)
		}
		p.size = oldSize
		return err
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (p *Provider) Remove(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.items[key]
	if !ok {
		return nil
	}
	delete(p.items, key)
	p.size -= size(key, item)
	return p.persist()
}

// Clear deletes every key.
func (p *Provider) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.items = make(map[string]Item)
	p.size = 0
	return p.persist()
}

// Info lists keys in sorted order with the current and maximum size.
func (p *Provider) Info() (Info, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.items))
	for k := range p.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Info{
		Keys:        keys,
		CurrentSize: (p.size + 1023) / 1024,
		LimitSize:   p.limit / 1024,
	}, nil
}

// persist writes the scope through a temp file and rename. Caller holds mu.
func (p *Provider) persist() error {
	if p.path == "" {
		return nil
	}
	data, err := sonic.Marshal(p.items)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "storage.persist", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return errs.Wrap(errs.KindInternal, "storage.persist", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".storage-*")
	if err != nil {
		return errs.Wrap(errs.KindInternal, "storage.persist", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.Wrap(errs.KindInternal, "storage.persist", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.KindInternal, "storage.persist", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return errs.Wrap(errs.KindInternal, "storage.persist", err)
	}
	return nil
}
