package errors

import (
	"errors"
	"net/http"
)

// Kind classifies a failure the way the UI reports it.
type Kind string

const (
	// KindValidation is detected locally and never reaches the network.
	KindValidation Kind = "validation"
	// KindTransport covers network failures and non-2xx upstream statuses.
	KindTransport Kind = "transport"
	// KindApplication is a 2xx upstream response carrying an "error" field.
	KindApplication Kind = "application"
	// KindMalformed is an upstream payload that cannot be decoded or fails schema validation.
	KindMalformed Kind = "malformed"
)

// default error is internal service error at handler level
// if error has different status code use ErrorWithStatusCode
type ErrorWithStatusCode struct {
	Message    string
	StatusCode int
	Kind       Kind
	Err        error
}

func (e *ErrorWithStatusCode) Error() string {
	return e.Message
}

func (e *ErrorWithStatusCode) Unwrap() error {
	return e.Err
}

func Validation(msg string) error {
	return &ErrorWithStatusCode{Message: msg, StatusCode: http.StatusBadRequest, Kind: KindValidation}
}

func Transport(msg string, statusCode int, err error) error {
	if statusCode == 0 {
		statusCode = http.StatusBadGateway
	}
	return &ErrorWithStatusCode{Message: msg, StatusCode: statusCode, Kind: KindTransport, Err: err}
}

func Application(msg string) error {
	return &ErrorWithStatusCode{Message: msg, StatusCode: http.StatusBadGateway, Kind: KindApplication}
}

func Malformed(msg string, err error) error {
	return &ErrorWithStatusCode{Message: msg, StatusCode: http.StatusBadGateway, Kind: KindMalformed, Err: err}
}

// KindOf reports the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *ErrorWithStatusCode
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is an *ErrorWithStatusCode of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusCode returns the HTTP status attached to err, defaulting to 500.
func StatusCode(err error) int {
	var e *ErrorWithStatusCode
	if errors.As(err, &e) && e.StatusCode != 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}
