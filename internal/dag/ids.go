package dag

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// shortLen is the number of hex digits shown for abbreviated ids.
const shortLen = 12

// ID is the textual form of a content address: the base32 multibase
// encoding of a CIDv1. It doubles as the object's filename.
type ID string

// IDFromCID converts a CID to its textual id.
func IDFromCID(c gocid.Cid) ID {
	return ID(CIDToFilename(c))
}

// CID decodes the id back into a CID.
func (id ID) CID() (gocid.Cid, error) {
	if id == "" {
		return gocid.Undef, fmt.Errorf("empty id")
	}
	_, raw, err := multibase.Decode(string(id))
	if err != nil {
		return gocid.Undef, fmt.Errorf("decode id %q: %w", string(id), err)
	}
	return gocid.Cast(raw)
}

// Hex returns the hex digest carried by the id's multihash. Ids that are not
// CIDs (for example git hashes mirrored from a colocated repository) are
// returned unchanged.
func (id ID) Hex() string {
	c, err := id.CID()
	if err != nil {
		return string(id)
	}
	dm, err := multihash.Decode(c.Hash())
	if err != nil {
		return string(id)
	}
	return hex.EncodeToString(dm.Digest)
}

// IDFromHex rebuilds the id of an object from the full hex digest that Hex
// returns for it.
func IDFromHex(s string) (ID, error) {
	digest, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("decode hex id %q: %w", s, err)
	}
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return "", fmt.Errorf("multihash %q: %w", s, err)
	}
	return IDFromCID(gocid.NewCidV1(gocid.Raw, mh)), nil
}

// Short returns an abbreviated hex form for display.
func (id ID) Short() string {
	return shorten(id.Hex())
}

func shorten(s string) string {
	if len(s) > shortLen {
		return s[:shortLen]
	}
	return s
}

// CommitID names a commit in the backend object store.
type CommitID ID

func (id CommitID) String() string { return string(id) }
func (id CommitID) Hex() string    { return ID(id).Hex() }
func (id CommitID) Short() string  { return ID(id).Short() }

// TreeID names a tree in the backend object store.
type TreeID ID

func (id TreeID) String() string { return string(id) }
func (id TreeID) Short() string  { return ID(id).Short() }

// OperationID names an operation in the operation store.
type OperationID ID

func (id OperationID) String() string { return string(id) }
func (id OperationID) Hex() string    { return ID(id).Hex() }
func (id OperationID) Short() string  { return ID(id).Short() }

// ViewID names a view snapshot in the operation store.
type ViewID ID

func (id ViewID) String() string { return string(id) }
func (id ViewID) Short() string  { return ID(id).Short() }

// ChangeID is the stable identity of a logical change. Unlike the other ids
// it is not a content hash: it is minted once and carried across rewrites.
type ChangeID string

// NewChangeID mints a fresh random change id.
func NewChangeID() ChangeID {
	u := uuid.New()
	return ChangeID(hex.EncodeToString(u[:]))
}

func (id ChangeID) String() string { return string(id) }
func (id ChangeID) Short() string  { return shorten(string(id)) }
