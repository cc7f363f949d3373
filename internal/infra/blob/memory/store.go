// Package memory keeps archive objects in process memory. It backs tests and
// the memory blob driver for throwaway stations.
package memory

import (
	"bytes"
	"clinicflow/internal/blob/core"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

type object struct {
	info core.Info
	body []byte
}

// Store implements core.Store. Keys are also kept in a sorted slice so
// prefix listings are a range scan.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	keys    []string
}

// New returns an empty store.
func New() *Store { return &Store{objects: make(map[string]object)} }

func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put reads r fully before taking the lock. The first writer of a key wins.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if strings.TrimSpace(key) == "" {
		return core.Info{}, fmt.Errorf("invalid archive key %q", key)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, fmt.Errorf("read blob %s: %w", key, err)
	}
	sum := sha256.Sum256(body)
	info := core.Info{
		Key:          key,
		Size:         int64(len(body)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     maps.Clone(opts.Metadata),
		LastModified: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i, found := slices.BinarySearch(s.keys, key)
	if found {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrExists)
	}
	s.keys = slices.Insert(s.keys, i, key)
	s.objects[key] = object{info: info, body: body}
	return snapshot(info), nil
}

func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return core.Info{}, nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	// bodies are never mutated after Put
	return snapshot(obj.info), io.NopCloser(bytes.NewReader(obj.body)), nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return snapshot(obj.info), nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, found := slices.BinarySearch(s.keys, key)
	if !found {
		return false, nil
	}
	s.keys = slices.Delete(s.keys, i, i+1)
	delete(s.objects, key)
	return true, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, _ := slices.BinarySearch(s.keys, prefix)
	var out []core.Info
	for ; i < len(s.keys) && strings.HasPrefix(s.keys[i], prefix); i++ {
		out = append(out, snapshot(s.objects[s.keys[i]].info))
	}
	return out, nil
}

// PresignURL is unsupported; there is nothing to link to.
func (s *Store) PresignURL(context.Context, string, core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}

// snapshot detaches the metadata map from the stored copy.
func snapshot(info core.Info) core.Info {
	info.Metadata = maps.Clone(info.Metadata)
	return info
}
