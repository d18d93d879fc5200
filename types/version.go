package types

// Version is the canonical project version.
// The CLI, the binary container, and the frame log share this version
// per the lockstep versioning policy.
const Version = "0.3.0"

// FormatVersion is the binary container format version written into
// file headers. Readers refuse any higher version. Format changes are
// additive-only at the end of the record payload so older readers can
// skip unknown trailing fields.
const FormatVersion uint32 = 1
