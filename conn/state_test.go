package conn

import (
	"errors"
	"testing"
)

func TestStateManagerLegalTransitions(t *testing.T) {
	sm := NewStateManager()
	if sm.Get() != Disconnected {
		t.Fatalf("expected initial state Disconnected, got %s", sm.Get())
	}
	if !sm.CAS(Disconnected, Authenticating, nil) {
		t.Fatalf("Disconnected -> Authenticating should be legal")
	}
	if !sm.CAS(Authenticating, Idle, nil) {
		t.Fatalf("Authenticating -> Idle should be legal")
	}
	if !sm.CAS(Idle, Executing, nil) {
		t.Fatalf("Idle -> Executing should be legal")
	}
	if !sm.CAS(Executing, Cancelling, nil) {
		t.Fatalf("Executing -> Cancelling should be legal")
	}
	if !sm.CAS(Cancelling, Idle, nil) {
		t.Fatalf("Cancelling -> Idle should be legal")
	}
}

func TestStateManagerRejectsIllegalTransition(t *testing.T) {
	sm := NewStateManager()
	if sm.CAS(Disconnected, Idle, nil) {
		t.Fatalf("Disconnected -> Idle should be illegal")
	}
	if sm.Get() != Disconnected {
		t.Fatalf("state must not change on a rejected transition")
	}
}

func TestStateManagerAnyToDisconnectedAlwaysLegal(t *testing.T) {
	sm := NewStateManager()
	sm.CAS(Disconnected, Authenticating, nil)
	sm.CAS(Authenticating, Idle, nil)
	sm.CAS(Idle, Executing, nil)
	cause := errors.New("transport reset")
	sm.ForceDisconnected(cause)
	if sm.Get() != Disconnected {
		t.Fatalf("expected Disconnected after ForceDisconnected, got %s", sm.Get())
	}
}

func TestStateManagerCASFailsOnWrongFrom(t *testing.T) {
	sm := NewStateManager()
	if sm.CAS(Idle, Executing, nil) {
		t.Fatalf("CAS should fail when current state does not match `from`")
	}
}

func TestStateManagerOnChangeFiresWithTransitionDetails(t *testing.T) {
	sm := NewStateManager()
	var got Transition
	sm.OnChange(func(tr Transition) { got = tr })
	sm.CAS(Disconnected, Authenticating, nil)
	if got.From != Disconnected || got.To != Authenticating {
		t.Fatalf("expected handler to observe Disconnected->Authenticating, got %+v", got)
	}
}

func TestMustCASReturnsDescriptiveError(t *testing.T) {
	sm := NewStateManager()
	if err := sm.MustCAS(Idle, Executing); err == nil {
		t.Fatalf("expected error for illegal/lost-race transition")
	}
}
