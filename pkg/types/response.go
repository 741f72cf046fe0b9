package types

// SuccessEnvelope wraps every successful HTTP response body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public error shape. Details is only populated for codes
// whose metadata allows exposing them.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps every failed HTTP response body.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
