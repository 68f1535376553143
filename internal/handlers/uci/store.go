package uci

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pelletier/go-toml/v2"
	bolt "go.etcd.io/bbolt"
)

const deltaFile = "delta.db"

var (
	ErrNotFound = errors.New("uci: entry not found")
	ErrParse    = errors.New("uci: package parse failed")
	ErrIO       = errors.New("uci: package io failed")
)

// change is one staged option value awaiting commit.
type change struct {
	Value    string `cbor:"1,keyasint"`
	StagedAt int64  `cbor:"2,keyasint"`
}

// Store keeps committed packages as TOML files under confDir (one file per
// package, one table per section) and staged changes in a bbolt database
// under saveDir, one bucket per package keyed by "section.option".
type Store struct {
	confDir string
	db      *bolt.DB
	now     func() time.Time
}

func Open(confDir, saveDir string) (*Store, error) {
	if err := os.MkdirAll(saveDir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create save dir: %v", ErrIO, err)
	}
	db, err := bolt.Open(filepath.Join(saveDir, deltaFile), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open staging db: %v", ErrIO, err)
	}
	return &Store{confDir: confDir, db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Set stages value for p.
func (s *Store) Set(p Path, value string) error {
	rec, err := cbor.Marshal(change{Value: value, StagedAt: s.now().UnixNano()})
	if err != nil {
		return fmt.Errorf("%w: encode change: %v", ErrIO, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(p.Package))
		if err != nil {
			return err
		}
		return b.Put(p.key(), rec)
	})
}

// Get returns the staged value for p, falling back to the committed one.
func (s *Store) Get(p Path) (string, error) {
	var staged *change
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(p.Package))
		if b == nil {
			return nil
		}
		raw := b.Get(p.key())
		if raw == nil {
			return nil
		}
		var c change
		if err := cbor.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("%w: decode change: %v", ErrIO, err)
		}
		staged = &c
		return nil
	})
	if err != nil {
		return "", err
	}
	if staged != nil {
		return staged.Value, nil
	}

	pkg, err := s.load(p.Package)
	if err != nil {
		return "", err
	}
	section, ok := pkg[p.Section]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	v, ok := section[p.Option]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return render(v), nil
}

// Staged lists packages with pending changes.
func (s *Store) Staged() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}

// Commit writes staged changes of pkg, or of every staged package when pkg
// is empty, into the committed files and clears them from staging.
func (s *Store) Commit(pkg string) error {
	if pkg != "" {
		return s.commitOne(pkg)
	}
	names, err := s.Staged()
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range names {
		if err := s.commitOne(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) commitOne(pkg string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(pkg))
		if b == nil {
			return nil
		}
		committed, err := s.load(pkg)
		if errors.Is(err, ErrNotFound) {
			committed = map[string]map[string]any{}
		} else if err != nil {
			return err
		}

		err = b.ForEach(func(k, v []byte) error {
			section, option, ok := strings.Cut(string(k), ".")
			if !ok {
				return nil
			}
			var c change
			if err := cbor.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("%w: decode change: %v", ErrIO, err)
			}
			if committed[section] == nil {
				committed[section] = map[string]any{}
			}
			committed[section][option] = c.Value
			return nil
		})
		if err != nil {
			return err
		}
		if err := s.write(pkg, committed); err != nil {
			return err
		}
		return tx.DeleteBucket([]byte(pkg))
	})
}

// Revert drops staged changes under p. An empty package reverts all.
func (s *Store) Revert(p Path) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if p.Package == "" {
			var names [][]byte
			_ = tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
				names = append(names, append([]byte(nil), name...))
				return nil
			})
			for _, name := range names {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
			return nil
		}
		b := tx.Bucket([]byte(p.Package))
		if b == nil {
			return nil
		}
		if p.Section == "" {
			return tx.DeleteBucket([]byte(p.Package))
		}
		if p.Option != "" {
			return b.Delete(p.key())
		}
		prefix := []byte(p.Section + ".")
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) load(pkg string) (map[string]map[string]any, error) {
	raw, err := os.ReadFile(filepath.Join(s.confDir, pkg))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: package %s", ErrNotFound, pkg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	out := map[string]map[string]any{}
	if err := toml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, pkg, err)
	}
	return out, nil
}

func (s *Store) write(pkg string, data map[string]map[string]any) error {
	raw, err := toml.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrIO, pkg, err)
	}
	if err := os.MkdirAll(s.confDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	tmp, err := os.CreateTemp(s.confDir, "."+pkg+".*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.confDir, pkg)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// render formats a committed TOML value; lists join like UCI list options.
func render(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, render(e))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}
