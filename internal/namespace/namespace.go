// Package namespace is the registry of config domains and their wire codes.
//
// Wire codes are shared by every peer on the network. The table is
// append-only: a code, once shipped, is never reassigned, and retired
// field keys stay listed in their schema so they are never reused.
package namespace

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a wire code or name is not in the registry.
// Peers running newer code may send namespaces this build does not know;
// callers skip those blobs rather than failing.
var ErrNotFound = errors.New("namespace not found")

// Namespace identifies a config domain. Its value is the int16 wire code.
type Namespace int16

const (
	UserProfile     Namespace = 2
	ClosedGroupInfo Namespace = 11
)

// Scope says whose state a namespace holds.
type Scope uint8

const (
	ScopeIdentity Scope = iota + 1 // one per account, shared by its devices
	ScopeGroup                     // one per group, shared by its members
)

func (s Scope) String() string {
	switch s {
	case ScopeIdentity:
		return "identity"
	case ScopeGroup:
		return "group"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

// Kind is the expected value kind of a schema field. It mirrors
// model.Kind but is declared here so the registry stays a leaf package.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindInt
	KindBool
	KindBlob
	KindRecord
)

// FieldSpec describes one key of a namespace schema.
type FieldSpec struct {
	Key     string
	Kind    Kind
	Retired bool // no longer written, but never to be reused
	Doc     string
}

// Schema is the closed field set a namespace understands. Keys outside the
// schema are still merged and preserved; the schema only drives typed
// accessors and validation.
type Schema struct {
	Fields []FieldSpec
}

// Lookup returns the spec for key.
func (s Schema) Lookup(key string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldSpec{}, false
}

type entry struct {
	ns     Namespace
	name   string
	scope  Scope
	domain string
	schema Schema
}

// registry is the static table. Order is by wire code.
var registry = [...]entry{
	{
		ns:     UserProfile,
		name:   "UserProfile",
		scope:  ScopeIdentity,
		domain: "UserProfile",
		schema: Schema{Fields: []FieldSpec{
			{Key: "n", Kind: KindString, Doc: "display name"},
			{Key: "p", Kind: KindString, Doc: "profile pic url"},
			{Key: "q", Kind: KindBlob, Doc: "profile pic decryption key"},
		}},
	},
	{
		ns:     ClosedGroupInfo,
		name:   "ClosedGroupInfo",
		scope:  ScopeGroup,
		domain: "ClosedGroupInfo",
		schema: Schema{Fields: []FieldSpec{
			{Key: "n", Kind: KindString, Doc: "group name"},
			{Key: "o", Kind: KindString, Doc: "group description"},
			{Key: "p", Kind: KindString, Doc: "group pic url"},
			{Key: "q", Kind: KindBlob, Doc: "group pic decryption key"},
			{Key: "E", Kind: KindInt, Doc: "disappearing message timer, seconds"},
			{Key: "c", Kind: KindInt, Doc: "created at, unix seconds"},
		}},
	},
}

func lookup(ns Namespace) (*entry, bool) {
	for i := range registry {
		if registry[i].ns == ns {
			return &registry[i], true
		}
	}
	return nil, false
}

// Resolve maps a wire code received from a peer to a Namespace.
func Resolve(code int16) (Namespace, error) {
	if _, ok := lookup(Namespace(code)); !ok {
		return 0, fmt.Errorf("wire code %d: %w", code, ErrNotFound)
	}
	return Namespace(code), nil
}

// Parse maps a case-insensitive namespace name (or its decimal wire code)
// to a Namespace.
func Parse(name string) (Namespace, error) {
	for i := range registry {
		if strings.EqualFold(registry[i].name, name) {
			return registry[i].ns, nil
		}
	}
	var code int16
	if _, err := fmt.Sscanf(name, "%d", &code); err == nil {
		return Resolve(code)
	}
	return 0, fmt.Errorf("%q: %w", name, ErrNotFound)
}

// All returns every registered namespace in wire-code order.
func All() []Namespace {
	out := make([]Namespace, len(registry))
	for i := range registry {
		out[i] = registry[i].ns
	}
	return out
}

// WireCode returns the int16 code used on the wire.
func (n Namespace) WireCode() int16 { return int16(n) }

// Known reports whether n is in the registry.
func (n Namespace) Known() bool {
	_, ok := lookup(n)
	return ok
}

func (n Namespace) String() string {
	if e, ok := lookup(n); ok {
		return e.name
	}
	return fmt.Sprintf("Namespace(%d)", int16(n))
}

// Scope returns the namespace scope, or 0 for unknown namespaces.
func (n Namespace) Scope() Scope {
	if e, ok := lookup(n); ok {
		return e.scope
	}
	return 0
}

// EncryptionDomain is the domain-separation string used when deriving
// per-namespace encryption keys. 1 to 24 characters.
func (n Namespace) EncryptionDomain() string {
	if e, ok := lookup(n); ok {
		return e.domain
	}
	return ""
}

// Schema returns the namespace schema; empty for unknown namespaces.
func (n Namespace) Schema() Schema {
	if e, ok := lookup(n); ok {
		return e.schema
	}
	return Schema{}
}
