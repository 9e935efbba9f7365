package common

import (
	"errors"
	"testing"
)

func TestGuard(t *testing.T) {
	paused := PauseFunc(func(module string) bool { return module == "escrow" })

	if err := Guard(nil, "escrow"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	if err := Guard(paused, ""); err != nil {
		t.Fatalf("empty module must not block: %v", err)
	}
	if err := Guard(paused, "bank"); err != nil {
		t.Fatalf("unpaused module blocked: %v", err)
	}
	err := Guard(paused, "escrow")
	if !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err.Error() != "module paused: escrow" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
