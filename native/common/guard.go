package common

import (
	"errors"
	"fmt"
)

// ErrModulePaused is returned by Guard when the module is suspended.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the pause flag of a named module.
type PauseView interface {
	IsPaused(module string) bool
}

// PauseFunc adapts a plain function to PauseView.
type PauseFunc func(module string) bool

// IsPaused implements PauseView.
func (f PauseFunc) IsPaused(module string) bool { return f(module) }

// Guard rejects the call when module is paused. A nil view or an empty
// module name never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}
