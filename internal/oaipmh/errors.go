package oaipmh

import (
	"errors"
	"fmt"
)

// Protocol error codes defined by OAI-PMH 2.0.
const (
	CodeNoRecordsMatch    = "noRecordsMatch"
	CodeIDDoesNotExist    = "idDoesNotExist"
	CodeBadResumption     = "badResumptionToken"
	CodeNoSetHierarchy    = "noSetHierarchy"
	CodeCannotDisseminate = "cannotDisseminateFormat"
)

// ErrMalformed is returned when a response is not an OAI-PMH document.
var ErrMalformed = errors.New("malformed OAI-PMH response")

// Error is an <error> element returned by the repository.
type Error struct {
	Verb    string
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("oai-pmh %s: %s", e.Verb, e.Code)
	}
	return fmt.Sprintf("oai-pmh %s: %s: %s", e.Verb, e.Code, e.Message)
}

// IsCode reports whether err is an OAI-PMH error with the given code.
func IsCode(err error, code string) bool {
	var oaiErr *Error
	return errors.As(err, &oaiErr) && oaiErr.Code == code
}
