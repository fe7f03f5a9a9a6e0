package server

import (
	"errors"
	"net/http"

	"nithronos/poolwizard/internal/provision"
	"nithronos/poolwizard/internal/wizard"
	"nithronos/poolwizard/pkg/httpx"
)

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{wizard.ErrNoDataDisks, http.StatusBadRequest, "wizard.no_data_disks"},
	{wizard.ErrIneligible, http.StatusBadRequest, "wizard.ineligible"},
	{wizard.ErrBusy, http.StatusConflict, "wizard.busy"},
	{wizard.ErrSelectionLocked, http.StatusConflict, "wizard.locked"},
	{wizard.ErrInvalidTransition, http.StatusConflict, "wizard.invalid_transition"},
	{wizard.ErrNotFinished, http.StatusConflict, "wizard.not_finished"},
	{provision.ErrRunNotFound, http.StatusNotFound, "run.not_found"},
}

func writeErr(w http.ResponseWriter, err error) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			httpx.WriteTypedError(w, e.status, e.code, err.Error(), 0)
			return
		}
	}
	httpx.WriteError(w, http.StatusInternalServerError, err.Error())
}
