package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/3leaps/nimbusfs/pkg/output"
	"github.com/3leaps/nimbusfs/pkg/provider"
)

func TestClassifyErrCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"cancelled", ErrCancelled, output.ErrCodeCancelled},
		{"wrapped cancelled", fmt.Errorf("item 3: %w", ErrCancelled), output.ErrCodeCancelled},
		{"not found", &provider.ProviderError{Op: "Stat", Provider: provider.ProviderMem, Path: "/x", Err: provider.ErrNotFound}, output.ErrCodeNotFound},
		{"already exists", &provider.ProviderError{Op: "Stat", Path: "/x", Err: provider.ErrAlreadyExists}, output.ErrCodeAlreadyExists},
		{"access denied", &provider.ProviderError{Op: "Download", Provider: provider.ProviderS3, Path: "k", Err: provider.ErrAccessDenied}, output.ErrCodeAccessDenied},
		{"root delete", ErrRootDelete, output.ErrCodeAccessDenied},
		{"credentials", provider.ErrInvalidCredentials, output.ErrCodeInvalidCredentials},
		{"throttled", provider.ErrThrottled, output.ErrCodeThrottled},
		{"unavailable", provider.ErrProviderUnavailable, output.ErrCodeProviderUnavailable},
		{"cross endpoint rename", ErrCrossEndpointRename, output.ErrCodeUnsupported},
		{"recursive required", ErrRecursiveRequired, output.ErrCodeUnsupported},
		{"not empty", &provider.ProviderError{Op: "RemoveDir", Err: provider.ErrNotEmpty}, output.ErrCodeUnsupported},
		{"context canceled", context.Canceled, output.ErrCodeTimeout},
		{"deadline", context.DeadlineExceeded, output.ErrCodeTimeout},
		{"size mismatch", &SizeMismatchError{Path: "/a", Expected: 1, Got: 2}, output.ErrCodeNotFound},
		{"unknown", errors.New("some random error"), output.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestSizeMismatchError_Message(t *testing.T) {
	err := &SizeMismatchError{Path: "/path/to/object.txt", Expected: 100, Got: 200}

	msg := err.Error()
	assert.Contains(t, msg, "source size mismatch")
	assert.Contains(t, msg, "/path/to/object.txt")
	assert.Contains(t, msg, "expected=100")
	assert.Contains(t, msg, "got=200")
}

func TestErrCrossEndpointRename_IsUnsupported(t *testing.T) {
	assert.True(t, provider.IsUnsupported(ErrCrossEndpointRename))
}
