package exchange

import (
	"errors"
	"fmt"
)

// ErrOperationFailed marks a venue call that returned a syntactically valid
// but empty or refused response (e.g. a leverage change that did not apply).
var ErrOperationFailed = errors.New("exchange operation failed")

// APIError is a structured venue rejection (HTTP 400/401 with a code/msg
// body). Callers that can continue without the result log it and move on.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d code %d: %s", e.Status, e.Code, e.Msg)
}
