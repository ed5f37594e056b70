package service

import (
	"errors"

	"github.com/MimeLyc/subtitle-batch-translator/internal/engine"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

// ErrorHandler logs errors together with a hint for the operator.
type ErrorHandler interface {
	Handle(err error) bool
	GetAdvice(err *engine.Error) string
}

type DefaultErrorHandler struct{}

func NewDefaultErrorHandler() ErrorHandler {
	return &DefaultErrorHandler{}
}

func (h *DefaultErrorHandler) Handle(err error) bool {
	var engineErr *engine.Error
	if !errors.As(err, &engineErr) {
		log.Error("Unknown Error: %v", err)
		return false
	}

	log.Error("Error Detail: %v\n advice: %s", err, h.GetAdvice(engineErr))
	return true
}

// GetAdvice returns error handling advice
func (h *DefaultErrorHandler) GetAdvice(err *engine.Error) string {
	return Advice(err)
}

// Advice returns a short hint for err, or "" when there is none.
func Advice(err error) string {
	var engineErr *engine.Error
	if !errors.As(err, &engineErr) {
		return ""
	}
	switch engineErr.Type {
	case engine.ErrValidation:
		return "Check the request: a subtitle file must be loaded, a target language set and a provider configured"
	case engine.ErrNotFound:
		return "The session, item or batch does not exist; reload the session list"
	case engine.ErrConflict:
		return "Wait for the running translation to finish, or pause or abort it first"
	case engine.ErrAborted:
		return ""
	case engine.ErrTranslation:
		return "The provider rejected the batch, possibly because of API limits or long text; retry the failed items or use a smaller batch size"
	default:
		return "Review the server log for details"
	}
}
