package correlate

import "github.com/rexliu/delegate/pkg/rpc"

// ReasonUserDeny is the reason string the remote context reports when the
// user rejects a request.
const ReasonUserDeny = "user_deny"

// MapError classifies a reason reported by the remote context into a typed
// error. Unknown reasons map to the generic internal error.
func MapError(reason string) *rpc.Error {
	switch reason {
	case ReasonUserDeny:
		return &rpc.Error{Code: rpc.CodeUserRejected, Message: rpc.ErrUserRejected.Message}
	default:
		return &rpc.Error{Code: rpc.CodeInternal, Message: rpc.ErrInternal.Message}
	}
}
