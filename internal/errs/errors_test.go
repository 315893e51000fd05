package errs

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_UnwrapsThroughFmtWrapping(t *testing.T) {
	base := New(KindBackendStructural, "block count mismatch").WithContext("want", 3).WithContext("got", 2)
	wrapped := fmt.Errorf("chunk 2/4: %w", base)

	assert.Equal(t, KindBackendStructural, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindBackendStructural))
	assert.False(t, Retryable(wrapped))
	assert.Contains(t, base.Error(), "context: got=2, want=3")
}

func TestKindOf_ContextCanceled(t *testing.T) {
	err := fmt.Errorf("request: %w", context.Canceled)
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(assert.AnError))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestRetryable_OnlyTransient(t *testing.T) {
	assert.True(t, Retryable(Wrap(assert.AnError, KindBackendTransient, "timeout")))
	assert.False(t, Retryable(New(KindBackendRefused, "401")))
	assert.False(t, Retryable(New(KindConfiguration, "no key")))
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := Wrap(assert.AnError, KindFileIO, "read source")
	assert.Equal(t, "[FileIO] read source | cause: "+assert.AnError.Error(), err.Error())
	assert.ErrorIs(t, err, assert.AnError)
	assert.NotEmpty(t, Advice(err))
}
