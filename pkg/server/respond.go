package server

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/leanspace/flowboard/pkg/errors"
	"github.com/leanspace/flowboard/pkg/layout"
	"github.com/leanspace/flowboard/pkg/persist"
)

type errorResponse struct {
	Error string      `json:"error"`
	Code  errors.Code `json:"code"`
}

// codeOf returns the API error code for err. Engine and persistence
// sentinels are translated; uncoded errors are internal.
func codeOf(err error) errors.Code {
	switch {
	case stderrors.Is(err, layout.ErrNotFound):
		return errors.ErrCodeEntityNotFound
	case stderrors.Is(err, layout.ErrNotDragging):
		return errors.ErrCodeConflict
	case stderrors.Is(err, layout.ErrNotSelectable):
		return errors.ErrCodeInvalidEntity
	case stderrors.Is(err, layout.ErrClosed), stderrors.Is(err, persist.ErrClosed):
		return errors.ErrCodeClosed
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.ErrCodeTimeout
	}
	if code := errors.GetCode(err); code != "" {
		return code
	}
	return errors.ErrCodeInternal
}

func writeError(w http.ResponseWriter, err error) {
	code := codeOf(err)
	msg := errors.UserMessage(err)
	if code == errors.ErrCodeInternal {
		msg = "internal error"
	}
	writeJSON(w, code.HTTPStatus(), errorResponse{Error: msg, Code: code})
}
