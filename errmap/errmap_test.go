package errmap

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapKnownCodes(t *testing.T) {
	tests := []struct {
		code int
		want Kind
	}{
		{CodeOK, KindOK},
		{CodeSystem, KindSystem},
		{CodeInvalidParameter, KindInvalidParameter},
		{CodeAccountNotFound, KindAccountNotFound},
		{CodeBadPassword, KindBadPassword},
		{CodeAccountExists, KindAccountExists},
		{CodeVerificationCodeInvalid, KindVerificationCodeInvalid},
		{CodeTokenInvalid, KindTokenInvalid},
		{CodeDeviceNotFound, KindDeviceNotFound},
		{CodeAlreadyShared, KindAlreadyShared},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Map(tt.code, KindSystem))
		})
	}
}

func TestMapUnknownCodeNeverOK(t *testing.T) {
	assert.Equal(t, KindSystem, Map(99999, KindSystem))
	assert.Equal(t, KindUnknown, Map(99999, KindOK), "an OK default must not swallow a failure")
	assert.Equal(t, KindUnknown, Map(-1, KindOK))
}

func TestFromResponse(t *testing.T) {
	assert.NoError(t, FromResponse(0, "", KindSystem))

	err := FromResponse(CodeBadPassword, "password mismatch", KindSystem)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, KindBadPassword))
	assert.False(t, errors.Is(err, KindAccountNotFound))
	assert.Equal(t, KindBadPassword, KindOf(err))
	assert.Contains(t, err.Error(), "10003")
}

func TestKindOfWrapped(t *testing.T) {
	wrapped := fmt.Errorf("dial: %w", ErrPeerBusy)
	assert.True(t, errors.Is(wrapped, ErrPeerBusy))
	assert.True(t, errors.Is(wrapped, KindPeerBusy))
	assert.Equal(t, KindPeerBusy, KindOf(wrapped))

	assert.Equal(t, KindOK, KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("x: %w", KindTimeout)))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindConnectFailed, cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, KindConnectFailed)
	assert.Equal(t, "connect-failed: connection refused", err.Error())
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, KindTokenInvalid, MapStatus(http.StatusUnauthorized))
	assert.Equal(t, KindTokenInvalid, MapStatus(http.StatusForbidden))
	assert.Equal(t, KindUnexpectedMethod, MapStatus(http.StatusMethodNotAllowed))
	assert.Equal(t, KindSystem, MapStatus(http.StatusBadGateway))
	assert.Equal(t, KindOK, MapStatus(http.StatusOK))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "verification-code-invalid", KindVerificationCodeInvalid.String())
	assert.Equal(t, "kind(999)", Kind(999).String())
}

func TestSentinelMatchesByKind(t *testing.T) {
	superseded := errors.New("call superseded")
	err := fmt.Errorf("answer: %w", Wrap(KindWrongState, superseded))

	assert.ErrorIs(t, err, ErrWrongState)
	assert.ErrorIs(t, err, KindWrongState)
	assert.ErrorIs(t, err, superseded)
	assert.NotErrorIs(t, err, ErrPeerBusy)
	assert.ErrorIs(t, FromResponse(CodeTokenInvalid, "expired", KindUnknown), New(KindTokenInvalid, "other tip"))
}
