package ops

import "errors"

// Kind classifies an operation-terminating error per the error handling
// design: each kind carries a fixed disposition (drop, fail the operation,
// or retry) applied at the boundary where it is first observed.
type Kind int

const (
	KindTransportError Kind = iota
	KindMessageMalformed
	KindChecksumMismatch
	KindVersionInconsistency
	KindOperationTimeout
	KindDiskError
	KindUnknownInode
	KindNoSuchOperation
)

func (k Kind) String() string {
	switch k {
	case KindTransportError:
		return "transport_error"
	case KindMessageMalformed:
		return "message_malformed"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	case KindVersionInconsistency:
		return "version_inconsistency"
	case KindOperationTimeout:
		return "operation_timeout"
	case KindDiskError:
		return "disk_error"
	case KindUnknownInode:
		return "unknown_inode"
	case KindNoSuchOperation:
		return "no_such_operation"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with the Kind that determines its
// handling policy.
type Error struct {
	Kind  Kind
	CCOID CCOID
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Fail wraps err as an operation-terminating Error of the given kind.
func Fail(kind Kind, ccoid CCOID, err error) *Error {
	return &Error{Kind: kind, CCOID: ccoid, Err: err}
}

// Terminal reports whether a Kind causes the owning operation's state
// machine to terminate with failure (as opposed to being contained to the
// handler that observed it, e.g. a single malformed message).
func (k Kind) Terminal() bool {
	switch k {
	case KindOperationTimeout, KindVersionInconsistency, KindDiskError, KindChecksumMismatch:
		return true
	default:
		return false
	}
}

var errMultiBitReceivedFrom = errors.New("ops: Received reports participants outside the operation's participants bitmap")
