package handlers

import (
	"errors"
	"net/http"

	"courier/pkg/apperr"
	"courier/pkg/utils"
)

// writeErr maps the error taxonomy onto the wire. Rate-limit denials carry
// the retry hint both as a Retry-After header and in the body so any HTTP
// client can consume it.
func writeErr(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	body := utils.ErrorBody{Error: ae.Msg, Code: string(ae.Code)}
	if ae.Code == apperr.RateLimit {
		body.RetryAfterMs = ae.RetryAfterMs
		if body.RetryAfterMs <= 0 {
			body.RetryAfterMs = 1000
		}
	}
	utils.JSONErrorBody(w, apperr.HTTPStatus(ae.Code), body)
}
