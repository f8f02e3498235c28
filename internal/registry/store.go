package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Record holds the deployment metadata of one card escrow instance.
type Record struct {
	CardID         string    `json:"cardId"`
	InstanceID     string    `json:"instanceId"`
	RequesterIndex uint64    `json:"requesterIndex"`
	Bank           string    `json:"bank"`
	Cardholder     string    `json:"cardholder"`
	TxLimit        int64     `json:"txLimit"`
	MonthLimit     int64     `json:"monthLimit"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store abstracts card registry persistence.
type Store interface {
	Get(ctx context.Context, cardID string) (*Record, error)
	Save(ctx context.Context, record Record) error
	List(ctx context.Context) ([]Record, error)
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

func (m *MemoryStore) Get(_ context.Context, cardID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[cardID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[record.CardID] = record
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]Record, 0, len(m.data))
	for _, rec := range m.data {
		records = append(records, rec)
	}
	return records, nil
}

// FileStore keeps one JSON sidecar file per card in a directory, named
// ".<card>.cardinal.json" as the original deployment tooling did.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(cardID string) string {
	return filepath.Join(f.dir, fmt.Sprintf(".%s.cardinal.json", cardID))
}

func (f *FileStore) Get(_ context.Context, cardID string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path(cardID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (f *FileStore) Save(_ context.Context, record Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path(record.CardID), blob, 0o600)
}

func (f *FileStore) List(_ context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".cardinal.json") {
			continue
		}
		blob, err := os.ReadFile(filepath.Join(f.dir, name))
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(blob, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
