package artifact

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	bolt "go.etcd.io/bbolt"
)

// FileSink writes each artifact to a file in Dir, replacing any previous
// file of the same name.
type FileSink struct {
	Dir string
}

// NewFileSink returns a sink writing into dir.
func NewFileSink(dir string) *FileSink { return &FileSink{Dir: dir} }

// Write creates Dir if needed and writes data through a temporary file so a
// reader never sees a partial artifact.
func (s *FileSink) Write(name string, data []byte) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceIO, err)
	}
	tmp, err := os.CreateTemp(s.Dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceIO, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrPersistenceIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceIO, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceIO, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.Dir, name)); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceIO, err)
	}
	return nil
}

// Read returns the content of the named file.
func (s *FileSink) Read(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.Dir, name))
}

// MemorySink keeps artifacts in memory. It is safe for concurrent use.
type MemorySink struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{files: make(map[string][]byte)}
}

func (s *MemorySink) Write(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = bytes.Clone(data)
	return nil
}

func (s *MemorySink) Read(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return bytes.Clone(b), nil
}

// Names returns the sorted names of stored artifacts.
func (s *MemorySink) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.files))
	for n := range s.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MultiSink writes every artifact to all of its sinks. All sinks are
// attempted; their failures are reported together.
type MultiSink []Sink

func (m MultiSink) Write(name string, data []byte) error {
	var result *multierror.Error
	for _, s := range m {
		if err := s.Write(name, data); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPersistenceIO, name, err)
	}
	return nil
}

// ArchiveFileName is the name of the bolt archive created by OpenArchive.
const ArchiveFileName = "artifacts.db"

var archiveBucket = []byte("runs")

// Archive is a bolt database keeping the artifacts of every run. Each run
// gets its own nested bucket named by its run id.
type Archive struct {
	db *bolt.DB
}

// OpenArchive opens (or creates) the archive at path.
func OpenArchive(path string, opts *bolt.Options) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceIO, err)
	}
	db, err := bolt.Open(path, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceIO, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(archiveBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrPersistenceIO, err)
	}
	return &Archive{db: db}, nil
}

// Close closes the database.
func (a *Archive) Close() error { return a.db.Close() }

// Run returns a sink storing artifacts under runID.
func (a *Archive) Run(runID string) *BoltSink {
	return &BoltSink{db: a.db, run: []byte(runID)}
}

// Runs returns the ids of all archived runs in key order.
func (a *Archive) Runs() ([]string, error) {
	var runs []string
	err := a.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(archiveBucket).ForEach(func(k, v []byte) error {
			if v == nil {
				runs = append(runs, string(k))
			}
			return nil
		})
	})
	return runs, err
}

// BoltSink stores the artifacts of one run in an Archive.
type BoltSink struct {
	db  *bolt.DB
	run []byte
}

func (s *BoltSink) Write(name string, data []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(archiveBucket).CreateBucketIfNotExists(s.run)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
	if err != nil {
		return fmt.Errorf("%w: run %q: %v", ErrPersistenceIO, s.run, err)
	}
	return nil
}

func (s *BoltSink) Read(name string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(archiveBucket).Bucket(s.run)
		if b == nil {
			return os.ErrNotExist
		}
		v := b.Get([]byte(name))
		if v == nil {
			return os.ErrNotExist
		}
		out = bytes.Clone(v)
		return nil
	})
	return out, err
}
