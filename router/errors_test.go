package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrors_MessageFormatting(t *testing.T) {
	assert.Equal(t, "message m1 expired", (&MessageExpiredError{MessageID: "m1"}).Error())
	assert.Equal(t, "message m1 not sent: invalid-signature",
		(&MessageNotSentError{MessageID: "m1", Reason: "invalid-signature"}).Error())
	assert.Equal(t, "no routing entry for p1", (&NoRoutingEntryError{PID: "p1"}).Error())
	assert.Equal(t, "registerMulticastSubscription: no provider", (&ProviderRuntimeError{
		Op: "registerMulticastSubscription", Reason: "no provider",
	}).Error())
}

func TestErrors_DelayMessageErrorUnwrapsAndFormatsCause(t *testing.T) {
	cause := errors.New("broker unreachable")
	err := &DelayMessageError{MessageID: "m1", Cause: cause}

	assert.Equal(t, "message m1 delayed: broker unreachable", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := &DelayMessageError{MessageID: "m2"}
	assert.Equal(t, "message m2 delayed", bare.Error())
	assert.Nil(t, bare.Unwrap())
}

func TestErrors_AsMatchesDelayMessageError(t *testing.T) {
	var wrapped error = &DelayMessageError{MessageID: "m3", Cause: errors.New("timeout")}

	var delayErr *DelayMessageError
	assert.True(t, errors.As(wrapped, &delayErr))
	assert.Equal(t, "m3", delayErr.MessageID)
}
