package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	err := ErrConnTimeout.WrapMsg("dial", "server", "nats://x:4222")
	assert.Equal(t, ErrConnTimeout.Code, CodeOf(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, ErrConnTimeout.Code, CodeOf(wrapped))

	assert.Zero(t, CodeOf(errors.New("plain")))
	assert.Zero(t, CodeOf(nil))
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := ErrSendFailed.WrapMsg("send", "conversation", "c1")
	assert.True(t, errors.Is(err, ErrSendFailed))
	assert.False(t, errors.Is(err, ErrFetchFailed))
}

func TestWrapMsgKeepsPredefinedImmutable(t *testing.T) {
	before := *ErrArgs
	err := ErrArgs.WrapMsg("bad input", "field", "title")
	require.Error(t, err)
	assert.Equal(t, before, *ErrArgs)
	assert.Contains(t, err.Error(), "field=title")
}

func TestWithDetailAccumulates(t *testing.T) {
	e := ErrChannel.WithDetail("first").WithDetail("second")
	assert.Contains(t, e.Error(), "first, second")
	assert.Empty(t, ErrChannel.Detail)
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil))
	assert.NoError(t, WrapMsg(nil, "ignored"))
}

func TestWrapMsgAnnotatesExternal(t *testing.T) {
	base := errors.New("connection refused")
	err := WrapMsg(base, "publish", "topic", "chat.presence")
	require.Error(t, err)
	assert.True(t, errors.Is(err, base))
	assert.Contains(t, err.Error(), "topic=chat.presence")
}
