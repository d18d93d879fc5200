package types

// StringRef is a dedup handle standing in for an interned string.
// The zero hash means "no value". Handles remain resolvable for the
// lifetime of any record holding them.
type StringRef struct {
	// Hash is the xxhash64 of the interned payload.
	Hash uint64 `msgpack:"hash" json:"hash"`
	// Len is the payload length in bytes, kept so size accounting
	// works without resolving the handle.
	Len uint32 `msgpack:"len" json:"len"`
}

// IsZero reports whether the handle refers to nothing.
func (r StringRef) IsZero() bool { return r.Hash == 0 && r.Len == 0 }

// StackRef is a dedup handle for an interned call stack.
type StackRef struct {
	Hash   uint64 `msgpack:"hash" json:"hash"`
	Frames uint32 `msgpack:"frames" json:"frames"`
}

// IsZero reports whether the handle refers to nothing.
func (r StackRef) IsZero() bool { return r.Hash == 0 }

// MetadataRef is a dedup handle for an interned key/value metadata map.
type MetadataRef struct {
	Hash uint64 `msgpack:"hash" json:"hash"`
	Keys uint32 `msgpack:"keys" json:"keys"`
}

// IsZero reports whether the handle refers to nothing.
func (r MetadataRef) IsZero() bool { return r.Hash == 0 }

// StackFrame is one resolved frame of a captured call stack.
type StackFrame struct {
	Function string `msgpack:"function" json:"function"`
	File     string `msgpack:"file" json:"file"`
	Line     uint32 `msgpack:"line" json:"line"`
}

// BorrowInfo counts observed borrow activity on an allocation.
type BorrowInfo struct {
	ImmutableCount uint32 `msgpack:"immutable_count" json:"immutable_count"`
	MutableCount   uint32 `msgpack:"mutable_count" json:"mutable_count"`
	MaxConcurrent  uint32 `msgpack:"max_concurrent" json:"max_concurrent"`
}

// CloneInfo counts observed clone activity on an allocation.
type CloneInfo struct {
	CloneCount    uint32 `msgpack:"clone_count" json:"clone_count"`
	IsCloneOrigin bool   `msgpack:"is_clone_origin" json:"is_clone_origin"`
	SourcePtr     uint64 `msgpack:"source_ptr,omitempty" json:"source_ptr,omitempty"`
}

// AllocationRecord is one observed allocation and its full history.
//
// Invariants:
//   - TimestampDeallocNs, when set, is >= TimestampAllocNs.
//   - LifetimeMs is derived from the two timestamps and never stored
//     inconsistently with them.
//   - Ptr uniquely identifies an active allocation at any instant; after
//     deallocation the address may be reused by a new record.
//   - Every non-zero *Ref field resolves in the dedup store for the
//     lifetime of the record.
type AllocationRecord struct {
	Ptr                uint64       `msgpack:"ptr" json:"ptr"`
	Size               uint64       `msgpack:"size" json:"size"`
	ThreadID           uint64       `msgpack:"thread_id" json:"thread_id"`
	TimestampAllocNs   uint64       `msgpack:"timestamp_alloc_ns" json:"timestamp_alloc_ns"`
	TimestampDeallocNs *uint64      `msgpack:"timestamp_dealloc_ns,omitempty" json:"timestamp_dealloc_ns,omitempty"`
	TypeNameRef        StringRef    `msgpack:"type_name_ref" json:"type_name_ref"`
	VarNameRef         StringRef    `msgpack:"var_name_ref" json:"var_name_ref"`
	ScopeNameRef       StringRef    `msgpack:"scope_name_ref" json:"scope_name_ref"`
	StackRef           StackRef     `msgpack:"stack_ref" json:"stack_ref"`
	Borrow             *BorrowInfo  `msgpack:"borrow,omitempty" json:"borrow,omitempty"`
	Clone              *CloneInfo   `msgpack:"clone,omitempty" json:"clone,omitempty"`
	Metadata           MetadataRef  `msgpack:"metadata_ref" json:"metadata_ref"`
	IsLeaked           bool         `msgpack:"is_leaked" json:"is_leaked"`
	CrossThreadDealloc bool         `msgpack:"cross_thread_dealloc,omitempty" json:"cross_thread_dealloc,omitempty"`
}

// LifetimeMs returns the derived lifetime in milliseconds, or false when
// the allocation has not been deallocated.
func (r *AllocationRecord) LifetimeMs() (uint64, bool) {
	if r.TimestampDeallocNs == nil {
		return 0, false
	}
	return (*r.TimestampDeallocNs - r.TimestampAllocNs) / 1_000_000, true
}

// MarkDeallocated records the deallocation timestamp. Timestamps that
// regress are clamped to the allocation time so the lifetime invariant
// holds under coarse clocks.
func (r *AllocationRecord) MarkDeallocated(tsNs uint64) {
	if tsNs < r.TimestampAllocNs {
		tsNs = r.TimestampAllocNs
	}
	r.TimestampDeallocNs = &tsNs
}

// Active reports whether the allocation has not yet been deallocated.
func (r *AllocationRecord) Active() bool { return r.TimestampDeallocNs == nil }
