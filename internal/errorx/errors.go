package errorx

import (
	"errors"
	"fmt"
)

// ServiceError is a failure reported by a remote service (registry, rendering
// test service). Tasks that get one abort instead of logging and continuing.
type ServiceError struct {
	Service string `json:"service"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("A %s error occurred: %s - %s", e.Service, e.Name, e.Message)
}

// NewServiceError returns a ServiceError for service.
func NewServiceError(service, name, message string) error {
	return &ServiceError{Service: service, Name: name, Message: message}
}

// AsServiceError unwraps err into a ServiceError if it carries one.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
