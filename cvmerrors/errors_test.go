package cvmerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorParts(t *testing.T) {
	assert.Equal(t, "CacheFull", GetErrorName(ErrCacheFull))
	assert.Equal(t, "C1", GetErrorCode(ErrCacheFull))
	assert.Equal(t, "The method cache ran out of space; recompile with a larger cache.", GetErrorDesc(ErrCacheFull))
	assert.Equal(t, "No Error", GetErrorName(nil))
	assert.Equal(t, "", GetErrorCode(nil))
}

func TestWrappedErrorParts(t *testing.T) {
	err := fmt.Errorf("layout ptr size 3: %w", ErrUnsupportedWidth)
	assert.True(t, errors.Is(err, ErrUnsupportedWidth))
	assert.Equal(t, "UnsupportedWidth", GetErrorName(err))
	assert.Equal(t, "K7", GetErrorCode(err))
	assert.Equal(t, "Pointer size must be 4 or 8 bytes.", GetErrorDesc(err))
}

func TestPlainError(t *testing.T) {
	err := errors.New("plain")
	assert.Equal(t, "plain", GetErrorName(err))
	assert.Equal(t, "", GetErrorCode(err))
	assert.Equal(t, "DESC NOT SET", GetErrorDesc(err))
}
