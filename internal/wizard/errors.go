package wizard

import "errors"

var (
	ErrNoDataDisks       = errors.New("select at least one data disk")
	ErrInvalidTransition = errors.New("step transition not allowed")
	ErrBusy              = errors.New("pool configuration already in progress")
	ErrIneligible        = errors.New("disk is not eligible for this role")
	ErrSelectionLocked   = errors.New("disk roles cannot change once provisioning started")
	ErrNotFinished       = errors.New("wizard has not completed")
)
