package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Format(t *testing.T) {
	err := NewDomainError("Controller.Activate", ErrMissingPermissions, "workspace:read")
	assert.Equal(t, "Controller.Activate: workspace:read: declared permissions not granted", err.Error())
	assert.ErrorIs(t, err, ErrMissingPermissions)

	bare := NewDomainError("Store.Grant", ErrPermissionDenied, "")
	assert.Equal(t, "Store.Grant: permission denied", bare.Error())
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))

	err := WrapOp("extension.Install", ErrDuplicate)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Contains(t, err.Error(), "extension.Install")
}

func TestErrorCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		code ErrorCode
	}{
		{ErrValidation, CodeValidation},
		{ErrMissingPermissions, CodeMissingPermissions},
		{ErrSandboxInstantiation, CodeSandboxInstantiation},
		{ErrCommandNotFound, CodeCommandNotFound},
		{ErrPathOutsideWorkspace, CodeOutsideWorkspace},
		{ErrMemoryAccess, CodeMemoryAccess},
		{ErrSSRFBlocked, CodeSSRFBlocked},
		{ErrPermissionDenied, CodePermissionDenied},
		{ErrNotFound, CodeNotFound},
		{ErrTimeout, CodeTimeout},
		{errors.New("anything else"), CodeUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, ErrorCodeOf(tc.err))
	}
}

func TestErrorCodeOf_WrappedKeepsSpecificCode(t *testing.T) {
	err := WrapOp("extension.Activate",
		fmt.Errorf("%w: workspace:read", ErrMissingPermissions))
	assert.Equal(t, CodeMissingPermissions, ErrorCodeOf(err))
}

func TestResultHelpers(t *testing.T) {
	ok := OK("installed acme.fmt")
	assert.True(t, ok.Success)
	assert.Equal(t, "installed acme.fmt", ok.Message)

	fail := Fail(ErrNotFound)
	assert.False(t, fail.Success)
	assert.Equal(t, "not found", fail.Message)
}
