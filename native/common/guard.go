package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a module's mutating flows are halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects mutating operations while the named module is paused. A nil
// view or empty module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
