package models

// APIResponse is the envelope for every ops API response.
type APIResponse struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// OK wraps a payload in a success envelope.
func OK(data any) APIResponse {
	return APIResponse{Success: true, Data: data}
}

// Fail builds an error envelope.
func Fail(code, message string) APIResponse {
	return APIResponse{Success: false, Error: &ErrorDetail{Code: code, Message: message}}
}
