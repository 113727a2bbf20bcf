package constants

// Remote sync error codes

const (
	ErrCodeInvalidAPIKey     = "INVALID_API_KEY"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeNetworkError      = "NETWORK_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeServerError       = "SERVER_ERROR"
	ErrCodeClientError       = "CLIENT_ERROR"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeInvalidDataFormat = "INVALID_DATA_FORMAT"
	ErrCodeResourceNotFound  = "RESOURCE_NOT_FOUND"
)

var DataProviderErrorMessages = map[string]string{
	ErrCodeInvalidAPIKey:     "The remote API key is invalid or has been revoked",
	ErrCodeRateLimited:       "Rate limit exceeded. Please try again later",
	ErrCodeNetworkError:      "Unable to reach the remote server",
	ErrCodeTimeout:           "The remote server did not answer in time",
	ErrCodeServerError:       "The remote server failed to process the request",
	ErrCodeClientError:       "The remote server rejected the request",
	ErrCodeNotConfigured:     "The remote endpoint is not configured",
	ErrCodeInvalidDataFormat: "The data format is invalid",
	ErrCodeResourceNotFound:  "The requested resource does not exist on the server",
}

// GetErrorMessage returns the human-readable message for an error code
func GetErrorMessage(code string) string {
	if msg, ok := DataProviderErrorMessages[code]; ok {
		return msg
	}
	return "An unknown error occurred"
}
