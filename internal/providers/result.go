package providers

import "fmt"

// Result is the classified outcome of a remote call. It is one of Success, Skipped,
// ClientError or TransientError; switch on the concrete type to handle every case.
type Result interface {
	isResult()
	fmt.Stringer
}

// Success means the server accepted the request. RemoteID is set for check-ins.
type Success struct {
	RemoteID int64
	Message  string
}

// Skipped means the server accepted the request but did not store the location
// because its own thresholds were not met.
type Skipped struct {
	Reason string
}

// ClientError is a permanent 4xx rejection. It is never retried.
type ClientError struct {
	StatusCode int
	Message    string
}

// TransientError covers 5xx, 408, 429, network failures, timeouts and cancellation.
type TransientError struct {
	StatusCode int
	Message    string
	Err        error
}

func (Success) isResult()        {}
func (Skipped) isResult()        {}
func (ClientError) isResult()    {}
func (TransientError) isResult() {}

func (r Success) String() string { return fmt.Sprintf("success (id=%d)", r.RemoteID) }
func (r Skipped) String() string { return "skipped: " + r.Reason }
func (r ClientError) String() string {
	return fmt.Sprintf("client error %d: %s", r.StatusCode, r.Message)
}
func (r TransientError) String() string {
	if r.StatusCode > 0 {
		return fmt.Sprintf("transient error %d: %s", r.StatusCode, r.Message)
	}
	if r.Err != nil {
		return fmt.Sprintf("transient error: %s: %v", r.Message, r.Err)
	}
	return "transient error: " + r.Message
}

// IsTransientStatus reports whether an HTTP status should be retried.
func IsTransientStatus(status int) bool {
	return status >= 500 || status == 408 || status == 429
}

// IsClientStatus reports whether an HTTP status is a permanent rejection.
func IsClientStatus(status int) bool {
	return status >= 400 && status < 500 && !IsTransientStatus(status)
}
