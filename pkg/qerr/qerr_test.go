package qerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_NilPassthrough(t *testing.T) {
	assert.Nil(t, New(CodeNotFound, nil))
}

func TestIsCode_Wrapped(t *testing.T) {
	base := Newf(CodeNotFound, "job %s", "abc")
	wrapped := fmt.Errorf("loading job: %w", base)

	assert.True(t, IsCode(wrapped, CodeNotFound))
	assert.False(t, IsCode(wrapped, CodeAlreadyExists))
	assert.False(t, IsCode(nil, CodeNotFound))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(New(CodeExecutionTimeout, errors.New("slow"))))
	assert.True(t, IsTransient(New(CodeConnectionFailure, errors.New("refused"))))
	assert.False(t, IsTransient(New(CodeRemoteCommand, errors.New("exit 1"))))
	assert.False(t, IsTransient(errors.New("boom")))
}

func TestMessage(t *testing.T) {
	err := Newf(CodeCannotCancel, "job with status '%s' cannot be cancelled", "Success")
	assert.Equal(t, "cannot_cancel: job with status 'Success' cannot be cancelled", err.Error())
	assert.Equal(t, "job with status 'Success' cannot be cancelled", Message(err))
	assert.Equal(t, "", Message(nil))
}
