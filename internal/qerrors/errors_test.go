package qerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidRegexIsMatchable(t *testing.T) {
	err := InvalidRegex("search", errors.New("missing closing bracket"))
	assert.True(t, errors.Is(err, Sentinel(KindInvalidRegex)))
	assert.False(t, errors.Is(err, Sentinel(KindIndexNotReady)))
}

func TestIncompatibleVersionMessage(t *testing.T) {
	err := IncompatibleVersion("/data/index", 1, 2)
	assert.Equal(t, KindIncompatibleVersion, err.Kind)
	assert.Contains(t, err.Error(), "/data/index")
	assert.Contains(t, err.Error(), "1")
	assert.Contains(t, err.Error(), "2")
}

func TestUnwrapReturnsUnderlying(t *testing.T) {
	cause := errors.New("disk full")
	err := StorageCommit("commit", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestWithPath(t *testing.T) {
	err := IO("stat", "", errors.New("boom")).WithPath("/r/a.txt")
	assert.Equal(t, "/r/a.txt", err.Path)
}
