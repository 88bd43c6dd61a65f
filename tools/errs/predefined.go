package errs

// Error codes, grouped by failure domain. Connection and subscription
// failures are handled inside the layer and only surface as status changes;
// fetch and send failures are returned to the caller.
const (
	CodeArgs         = 1001
	CodeNotReady     = 1002
	CodeConnFailed   = 2001
	CodeConnTimeout  = 2002
	CodeConnClosed   = 2003
	CodeSubscribe    = 3001
	CodeChannel      = 3002
	CodeFetchFailed  = 4001
	CodeSendFailed   = 4002
	CodeNoActiveConv = 4003
	CodeAPIFailed    = 5001
)

var (
	ErrArgs         = NewCodeError(CodeArgs, "invalid argument")
	ErrNotReady     = NewCodeError(CodeNotReady, "component not initialized")
	ErrConnFailed   = NewCodeError(CodeConnFailed, "connection failed")
	ErrConnTimeout  = NewCodeError(CodeConnTimeout, "connection timed out")
	ErrConnClosed   = NewCodeError(CodeConnClosed, "connection closed")
	ErrSubscribe    = NewCodeError(CodeSubscribe, "subscription failed")
	ErrChannel      = NewCodeError(CodeChannel, "channel unavailable")
	ErrFetchFailed  = NewCodeError(CodeFetchFailed, "fetch failed")
	ErrSendFailed   = NewCodeError(CodeSendFailed, "send failed")
	ErrNoActiveConv = NewCodeError(CodeNoActiveConv, "no active conversation")
	ErrAPIFailed    = NewCodeError(CodeAPIFailed, "management api request failed")
)
