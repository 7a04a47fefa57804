package router

import "testing"

type scriptedController struct {
	verdicts []ConsumerPermission
	calls    int
}

func (c *scriptedController) HasConsumerPermission(message *ImmutableMessage, callback ConsumerPermissionCallback, isLocalRecipient bool) {
	v := c.verdicts[c.calls]
	if c.calls < len(c.verdicts)-1 {
		c.calls++
	}
	callback.HasConsumerPermission(v)
}

func TestAccessControlGate_YesPassesThrough(t *testing.T) {
	gate := newAccessControlGate(&scriptedController{verdicts: []ConsumerPermission{PermissionYes}}, false)
	var got ConsumerPermission
	gate.check(msg("m1", MessageTypeRequest, "P1", 0), true, func(v ConsumerPermission) { got = v })
	if got != PermissionYes {
		t.Fatalf("expected YES, got %s", got)
	}
}

func TestAccessControlGate_NoPassesThroughWithoutAudit(t *testing.T) {
	gate := newAccessControlGate(&scriptedController{verdicts: []ConsumerPermission{PermissionNo}}, false)
	var got ConsumerPermission
	gate.check(msg("m1", MessageTypeRequest, "P1", 0), true, func(v ConsumerPermission) { got = v })
	if got != PermissionNo {
		t.Fatalf("expected NO to pass through when audit mode is off, got %s", got)
	}
}

func TestAccessControlGate_AuditModeOverridesNoToYes(t *testing.T) {
	gate := newAccessControlGate(&scriptedController{verdicts: []ConsumerPermission{PermissionNo}}, true)
	var got ConsumerPermission
	gate.check(msg("m1", MessageTypeRequest, "P1", 0), true, func(v ConsumerPermission) { got = v })
	if got != PermissionYes {
		t.Fatalf("expected audit mode to override NO to YES, got %s", got)
	}
}

func TestAccessControlGate_RetryPassesThrough(t *testing.T) {
	gate := newAccessControlGate(&scriptedController{verdicts: []ConsumerPermission{PermissionRetry}}, false)
	var got ConsumerPermission
	gate.check(msg("m1", MessageTypeRequest, "P1", 0), true, func(v ConsumerPermission) { got = v })
	if got != PermissionRetry {
		t.Fatalf("expected RETRY, got %s", got)
	}
}
