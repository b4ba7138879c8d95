package cdpcontrol

import "fmt"

const (
	CodeValidation     = "VALIDATION"
	CodeTabNotFound    = "TAB_NOT_FOUND"
	CodeEvalFailure    = "EVAL_FAILURE"
	CodeEvalTimeout    = "EVAL_TIMEOUT"
	CodeNavigateFailed = "NAVIGATE_FAILED"
	CodeCDPUnavailable = "CDP_UNAVAILABLE"
	CodeUnsupported    = "UNSUPPORTED"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// WindowBounds mirrors Browser.Bounds.
type WindowBounds struct {
	Left        *int   `json:"left,omitempty"`
	Top         *int   `json:"top,omitempty"`
	Width       *int   `json:"width,omitempty"`
	Height      *int   `json:"height,omitempty"`
	WindowState string `json:"windowState,omitempty"`
}
