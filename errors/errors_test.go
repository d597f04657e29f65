package errors_test

import (
	"syscall"
	"testing"

	goerrors "errors"

	"github.com/go-chfs/chfs/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorWithMessage(t *testing.T) {
	newErr := errors.ErrNotExist.WithMessage("asdfqwerty")
	assert.Equal(t, "no such file or directory: asdfqwerty", newErr.Error())
	assert.True(t, goerrors.Is(newErr, errors.ErrNotExist))
}

func TestErrorWrap(t *testing.T) {
	originalErr := goerrors.New("original error")
	newErr := errors.ErrAlreadyExist.Wrap(originalErr)

	assert.True(t, goerrors.Is(newErr, originalErr))
	assert.True(t, goerrors.Is(newErr, errors.ErrAlreadyExist))
}

func TestToFuseErrno(t *testing.T) {
	assert.Equal(t, syscall.ENOENT, errors.ToFuseErrno(errors.ErrNotExist))
	assert.Equal(t, syscall.ENOSPC, errors.ToFuseErrno(errors.New(errors.KindOutOfResource)))
	assert.Equal(t, syscall.EIO, errors.ToFuseErrno(goerrors.New("something else")))
	assert.Nil(t, errors.ToFuseErrno(nil))
}
