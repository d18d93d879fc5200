package types

// AllocationField tags one selectable field of an AllocationRecord for
// the selective reader. Consumers request a set of tags; the reader
// parses only those fields.
type AllocationField string

const (
	FieldPtr              AllocationField = "ptr"
	FieldSize             AllocationField = "size"
	FieldVarName          AllocationField = "var_name"
	FieldTypeName         AllocationField = "type_name"
	FieldScopeName        AllocationField = "scope_name"
	FieldTimestampAlloc   AllocationField = "timestamp_alloc"
	FieldTimestampDealloc AllocationField = "timestamp_dealloc"
	FieldThreadID         AllocationField = "thread_id"
	FieldBorrowCount      AllocationField = "borrow_count"
	FieldIsLeaked         AllocationField = "is_leaked"
	FieldStackTrace       AllocationField = "stack_trace"
	FieldLifetimeMs       AllocationField = "lifetime_ms"
)

// AllFields lists every selectable field tag.
func AllFields() []AllocationField {
	return []AllocationField{
		FieldPtr, FieldSize, FieldVarName, FieldTypeName, FieldScopeName,
		FieldTimestampAlloc, FieldTimestampDealloc, FieldThreadID,
		FieldBorrowCount, FieldIsLeaked, FieldStackTrace, FieldLifetimeMs,
	}
}

// FieldSet is a set of requested field tags.
type FieldSet map[AllocationField]bool

// NewFieldSet builds a set from the given tags.
func NewFieldSet(fields ...AllocationField) FieldSet {
	s := make(FieldSet, len(fields))
	for _, f := range fields {
		s[f] = true
	}
	return s
}

// Has reports whether the field was requested.
func (s FieldSet) Has(f AllocationField) bool { return s[f] }

// PartialAllocationInfo is the projection of an AllocationRecord onto a
// requested field set. Every field is optional; nil means "not requested
// or absent in the record".
type PartialAllocationInfo struct {
	Ptr              *uint64      `json:"ptr,omitempty"`
	Size             *uint64      `json:"size,omitempty"`
	VarName          *string      `json:"var_name,omitempty"`
	TypeName         *string      `json:"type_name,omitempty"`
	ScopeName        *string      `json:"scope_name,omitempty"`
	TimestampAlloc   *uint64      `json:"timestamp_alloc,omitempty"`
	TimestampDealloc *uint64      `json:"timestamp_dealloc,omitempty"`
	ThreadID         *uint64      `json:"thread_id,omitempty"`
	BorrowCount      *uint32      `json:"borrow_count,omitempty"`
	IsLeaked         *bool        `json:"is_leaked,omitempty"`
	StackTrace       []StackFrame `json:"stack_trace,omitempty"`
	LifetimeMs       *uint64      `json:"lifetime_ms,omitempty"`
}
