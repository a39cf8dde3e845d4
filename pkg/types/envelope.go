package types

// SuccessEnvelope wraps every successful API response.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// ErrorEnvelope wraps every API error response.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// APIError is the public error shape.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
