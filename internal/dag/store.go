package dag

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

var (
	// ErrObjectNotFound is returned when an id names no stored object.
	ErrObjectNotFound = errors.New("object not found")
	// ErrCorruptObject is returned when stored bytes no longer hash to their id.
	ErrCorruptObject = errors.New("object content does not match its id")
)

// ObjectStore manages CID-addressed immutable objects on disk, one file per
// object, named by the base32 text of its CID.
type ObjectStore struct {
	dir string
}

// NewObjectStore creates an ObjectStore at the given directory.
func NewObjectStore(dir string) (*ObjectStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create objects dir: %w", err)
	}
	return &ObjectStore{dir: dir}, nil
}

// ComputeCID computes a CIDv1 (raw codec, SHA2-256) for the given data.
func ComputeCID(data []byte) (gocid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return gocid.Undef, fmt.Errorf("multihash: %w", err)
	}
	return gocid.NewCidV1(gocid.Raw, mh), nil
}

// CIDToFilename returns the base32lower encoding of a CID for use as a filename.
func CIDToFilename(c gocid.Cid) string {
	encoded, _ := multibase.Encode(multibase.Base32, c.Bytes())
	return encoded
}

// ComputeID hashes data and returns its textual id without storing it.
func ComputeID(data []byte) (ID, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return "", err
	}
	return IDFromCID(c), nil
}

func (s *ObjectStore) path(id ID) (string, error) {
	if _, err := id.CID(); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, string(id)), nil
}

// Put writes data to the object store, returning its id.
// Writing an object that already exists is a no-op.
func (s *ObjectStore) Put(data []byte) (ID, error) {
	id, err := ComputeID(data)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, string(id))
	if _, err := os.Stat(path); err == nil {
		return id, nil
	}
	if err := SafeWrite(path, data, 0444); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	return id, nil
}

// Get reads an object by id and verifies that its content still hashes to it.
func (s *ObjectStore) Get(id ID) ([]byte, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", id, ErrObjectNotFound)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read object %s: %w", id, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", id, err)
	}
	got, err := ComputeID(data)
	if err != nil {
		return nil, err
	}
	if got != id {
		return nil, fmt.Errorf("read object %s: %w", id, ErrCorruptObject)
	}
	return data, nil
}

// Has checks if an object exists.
func (s *ObjectStore) Has(id ID) bool {
	path, err := s.path(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// List returns the ids of every stored object in lexical order.
func (s *ObjectStore) List() ([]ID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	ids := make([]ID, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, ID(e.Name()))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// PutJSON stores the canonical JSON encoding of v.
func (s *ObjectStore) PutJSON(v interface{}) (ID, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("serialize object: %w", err)
	}
	return s.Put(data)
}

// GetJSON reads the object named by id and decodes it into v.
func (s *ObjectStore) GetJSON(id ID, v interface{}) error {
	data, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal object %s: %w", id, err)
	}
	return nil
}
