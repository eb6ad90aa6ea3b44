package gateway

import "fmt"

// GatewayError reports a policy API response that did not amount to success:
// a non-2xx status, an explicit application-level failure, or an undecodable
// body. Message is a best-effort human-readable summary.
type GatewayError struct {
	Message string
	Status  int
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	if e.Status > 0 {
		return fmt.Sprintf("gateway: %s (status=%d)", e.Message, e.Status)
	}
	return "gateway: " + e.Message
}

// StatusCode returns the HTTP status the error was derived from, if any.
func (e *GatewayError) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.Status
}

// TransportError reports a network-level failure where no response was
// obtained. Raw transport errors never escape the gateway unwrapped.
type TransportError struct {
	err error
}

func (e *TransportError) Error() string {
	if e == nil || e.err == nil {
		return "gateway: transport failure"
	}
	return "gateway: transport: " + e.err.Error()
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}
