package streamsync

import (
	"maps"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Well-known attribute names maintained by the engine.
const (
	// AttrUUID mirrors the FlowFile identifier as an attribute.
	AttrUUID = "uuid"
	// AttrParentUUID is set on clones to the identifier they were cloned from.
	AttrParentUUID = "parent.uuid"
)

// FlowFile is a unit of work: a byte payload plus string attributes.
//
// A FlowFile is immutable. Transformations return a new FlowFile that keeps
// the identifier and increments the generation; Session.Clone produces a
// sibling with a new identifier. Content returned by Content must not be
// modified by callers.
type FlowFile struct {
	id         string
	content    []byte
	attributes map[string]string
	createdAt  time.Time
	generation int

	// owner is shared by every FlowFile carrying the same identifier.
	owner *ownership
}

// Ownership states of a FlowFile identifier.
const (
	ownerFree int32 = iota
	ownerQueued
	ownerSession
)

// ownership tracks which holder, if any, owns a FlowFile identifier.
type ownership struct {
	state atomic.Int32
}

func (f *FlowFile) ownerState() int32 {
	return f.owner.state.Load()
}

func (f *FlowFile) setOwner(state int32) {
	f.owner.state.Store(state)
}

func (f *FlowFile) acquire(from, to int32) bool {
	return f.owner.state.CompareAndSwap(from, to)
}

// NewFlowFile creates a FlowFile with a fresh identifier.
// The content and attributes are copied.
func NewFlowFile(content []byte, attributes map[string]string) *FlowFile {
	id := uuid.New().String()
	attrs := make(map[string]string, len(attributes)+1)
	maps.Copy(attrs, attributes)
	attrs[AttrUUID] = id
	return &FlowFile{
		id:         id,
		content:    cloneBytes(content),
		attributes: attrs,
		createdAt:  time.Now().UTC(),
		owner:      &ownership{},
	}
}

// ID returns the unique identifier.
func (f *FlowFile) ID() string {
	return f.id
}

// Content returns the payload. The slice is shared and must not be modified.
func (f *FlowFile) Content() []byte {
	return f.content
}

// Size returns the payload size in bytes.
func (f *FlowFile) Size() int64 {
	return int64(len(f.content))
}

// Attribute returns the value of an attribute and whether it is set.
func (f *FlowFile) Attribute(key string) (string, bool) {
	v, ok := f.attributes[key]
	return v, ok
}

// Attributes returns a copy of all attributes.
func (f *FlowFile) Attributes() map[string]string {
	return maps.Clone(f.attributes)
}

// AttributeKeys returns the attribute names in sorted order.
func (f *FlowFile) AttributeKeys() []string {
	keys := make([]string, 0, len(f.attributes))
	for k := range f.attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CreatedAt returns when the FlowFile lineage began.
func (f *FlowFile) CreatedAt() time.Time {
	return f.createdAt
}

// Generation returns how many times the FlowFile has been transformed.
func (f *FlowFile) Generation() int {
	return f.generation
}

// WithContent returns a transformed FlowFile carrying new content.
func (f *FlowFile) WithContent(content []byte) *FlowFile {
	next := f.derive()
	next.content = cloneBytes(content)
	return next
}

// WithAttribute returns a transformed FlowFile with one attribute set.
// The uuid attribute cannot be overwritten.
func (f *FlowFile) WithAttribute(key, value string) *FlowFile {
	next := f.derive()
	if key != AttrUUID {
		next.attributes[key] = value
	}
	return next
}

// WithAttributes returns a transformed FlowFile with the given attributes
// merged over the existing ones.
func (f *FlowFile) WithAttributes(attributes map[string]string) *FlowFile {
	next := f.derive()
	for k, v := range attributes {
		if k == AttrUUID {
			continue
		}
		next.attributes[k] = v
	}
	return next
}

// WithoutAttribute returns a transformed FlowFile with the attribute removed.
func (f *FlowFile) WithoutAttribute(key string) *FlowFile {
	next := f.derive()
	if key != AttrUUID {
		delete(next.attributes, key)
	}
	return next
}

// derive copies the FlowFile for a transformation.
// Content and ownership are shared with the original.
func (f *FlowFile) derive() *FlowFile {
	return &FlowFile{
		id:         f.id,
		content:    f.content,
		attributes: maps.Clone(f.attributes),
		createdAt:  f.createdAt,
		generation: f.generation + 1,
		owner:      f.owner,
	}
}

// clone creates a sibling with a new identifier.
func (f *FlowFile) clone() *FlowFile {
	id := uuid.New().String()
	attrs := maps.Clone(f.attributes)
	attrs[AttrParentUUID] = f.id
	attrs[AttrUUID] = id
	return &FlowFile{
		id:         id,
		content:    f.content,
		attributes: attrs,
		createdAt:  f.createdAt,
		generation: f.generation + 1,
		owner:      &ownership{},
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
