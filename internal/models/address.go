package models

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Address identifies an account: either a caller's ed25519 public key or a
// record location derived with the functions below.
type Address [32]byte

// ZeroAddress marks an unset address field.
var ZeroAddress Address

// IsZero reports whether a is unset.
func (a Address) IsZero() bool { return a == ZeroAddress }

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// Short returns the first eight hex characters, for display.
func (a Address) Short() string { return a.String()[:8] }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes a 64-character hex address.
func ParseAddress(s string) (Address, error) {
	var a Address
	if err := decodeHex32(s, a[:]); err != nil {
		return a, fmt.Errorf("parse address: %w", err)
	}
	return a, nil
}

// Hash is a 32-byte content digest (description, deliverable, evidence).
type Hash [32]byte

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a 64-character hex digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if err := decodeHex32(s, h[:]); err != nil {
		return h, fmt.Errorf("parse hash: %w", err)
	}
	return h, nil
}

// ContentHash digests arbitrary content into a Hash.
func ContentHash(content []byte) Hash {
	return Hash(sha256.Sum256(content))
}

func decodeHex32(s string, dst []byte) error {
	if len(s) != 64 {
		return fmt.Errorf("want 64 hex characters, got %d", len(s))
	}
	_, err := hex.Decode(dst, []byte(s))
	return err
}

// Namespace tags for derived addresses.
const (
	SeedPlatform = "platform"
	SeedCreator  = "creator"
	SeedTask     = "task"
	SeedTemplate = "template"
	SeedDispute  = "dispute"
	SeedVote     = "vote"
	SeedAgent    = "agent"
)

// DeriveAddress hashes a namespace tag with identifying components. Each
// component is length-prefixed so distinct component lists never collide.
func DeriveAddress(tag string, components ...[]byte) Address {
	h := sha256.New()
	writeComponent(h, []byte(tag))
	for _, c := range components {
		writeComponent(h, c)
	}
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

func writeComponent(w interface{ Write([]byte) (int, error) }, b []byte) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(b)))
	w.Write(n[:])
	w.Write(b)
}

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// PlatformAddress is the singleton platform location.
func PlatformAddress() Address { return DeriveAddress(SeedPlatform) }

func CreatorCounterAddress(creator Address) Address {
	return DeriveAddress(SeedCreator, creator[:])
}

func TaskAddress(creator Address, index uint64) Address {
	return DeriveAddress(SeedTask, creator[:], le64(index))
}

func TemplateAddress(creator Address, index uint64) Address {
	return DeriveAddress(SeedTemplate, creator[:], le64(index))
}

func DisputeAddress(task Address) Address {
	return DeriveAddress(SeedDispute, task[:])
}

func VoteAddress(dispute, voter Address) Address {
	return DeriveAddress(SeedVote, dispute[:], voter[:])
}

func AgentProfileAddress(owner Address) Address {
	return DeriveAddress(SeedAgent, owner[:])
}
