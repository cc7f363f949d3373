// Package fs keeps the archive in a local directory, the default for clinics
// without object storage. Every object is a plain file with a JSON sidecar,
// and all access goes through an os.Root so no key can resolve outside it.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"clinicflow/internal/blob/core"
)

// sidecarSuffix marks the file holding an object's content type, metadata and
// digest. An object without its sidecar is still being written.
const sidecarSuffix = ".info.json"

// Store implements core.Store on a directory tree.
type Store struct {
	root *os.Root
}

// New opens dir as an archive root, creating it when missing. An empty dir
// selects ./archive.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = "./archive"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open archive dir: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

type sidecar struct {
	ContentType string            `json:"contentType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SHA256      string            `json:"sha256"`
	ArchivedAt  time.Time         `json:"archivedAt"`
}

func (sc sidecar) info(key string, size int64) core.Info {
	return core.Info{
		Key:          key,
		Size:         size,
		ContentType:  sc.ContentType,
		ETag:         sc.SHA256,
		Metadata:     sc.Metadata,
		LastModified: sc.ArchivedAt,
	}
}

// objectPath validates a slash-separated key and returns its OS path
// relative to the root.
func objectPath(key string) (string, error) {
	if strings.TrimSpace(key) == "" || !iofs.ValidPath(key) || key == "." || strings.HasSuffix(key, sidecarSuffix) {
		return "", fmt.Errorf("invalid archive key %q", key)
	}
	return filepath.FromSlash(key), nil
}

// Put creates the object exclusively, so two writers racing on one key
// cannot both succeed. A failed write removes its partial file.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	name, err := objectPath(key)
	if err != nil {
		return core.Info{}, err
	}
	if dir := filepath.Dir(name); dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return core.Info{}, err
		}
	}
	f, err := s.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if errors.Is(err, iofs.ErrExist) {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrExists)
	}
	if err != nil {
		return core.Info{}, err
	}
	digest := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, digest), r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.root.Remove(name)
		return core.Info{}, fmt.Errorf("write blob %s: %w", key, err)
	}

	sc := sidecar{
		ContentType: opts.ContentType,
		Metadata:    maps.Clone(opts.Metadata),
		SHA256:      hex.EncodeToString(digest.Sum(nil)),
		ArchivedAt:  time.Now().UTC(),
	}
	b, err := json.Marshal(sc)
	if err == nil {
		err = s.root.WriteFile(name+sidecarSuffix, b, 0o640)
	}
	if err != nil {
		_ = s.root.Remove(name)
		return core.Info{}, fmt.Errorf("write blob %s sidecar: %w", key, err)
	}
	return sc.info(key, size), nil
}

func (s *Store) stat(key string) (string, core.Info, error) {
	name, err := objectPath(key)
	if err != nil {
		return "", core.Info{}, err
	}
	b, err := s.root.ReadFile(name + sidecarSuffix)
	if errors.Is(err, iofs.ErrNotExist) {
		return "", core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return "", core.Info{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return "", core.Info{}, fmt.Errorf("blob %s sidecar: %w", key, err)
	}
	fi, err := s.root.Stat(name)
	if errors.Is(err, iofs.ErrNotExist) {
		return "", core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return "", core.Info{}, err
	}
	return name, sc.info(key, fi.Size()), nil
}

func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	name, info, err := s.stat(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	f, err := s.root.Open(name)
	if err != nil {
		return core.Info{}, nil, err
	}
	return info, f, nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	_, info, err := s.stat(key)
	return info, err
}

// Delete drops the sidecar first so readers stop seeing the object before
// its bytes go.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	name, err := objectPath(key)
	if err != nil {
		return false, err
	}
	err = s.root.Remove(name + sidecarSuffix)
	if errors.Is(err, iofs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.root.Remove(name); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return true, err
	}
	return true, nil
}

// List walks only the directory that can hold prefix.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	start := path.Dir(prefix + "_")
	if !iofs.ValidPath(start) {
		return nil, fmt.Errorf("invalid archive prefix %q", prefix)
	}
	var infos []core.Info
	err := iofs.WalkDir(s.root.FS(), start, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			if p == start && errors.Is(err, iofs.ErrNotExist) {
				return iofs.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, sidecarSuffix) {
			return nil
		}
		key := strings.TrimSuffix(p, sidecarSuffix)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		_, info, err := s.stat(key)
		if errors.Is(err, core.ErrNotFound) {
			// deleted mid-walk
			return nil
		}
		if err != nil {
			return err
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(infos, func(a, b core.Info) int { return strings.Compare(a.Key, b.Key) })
	return infos, nil
}

// PresignURL is unsupported: a local directory has no server to sign for.
func (s *Store) PresignURL(context.Context, string, core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}
