package providers

import (
	"fmt"
)

// ProviderError describes a remote call that could not be classified, such as a
// malformed success response.
type ProviderError struct {
	Code       string
	Message    string
	StatusCode int
	Details    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
