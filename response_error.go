package authclient

import (
	"fmt"
	"net/http"
)

// ResponseError captures a non-2xx API response. Message is the server's own
// wording and is safe to show to the user.
type ResponseError struct {
	Operation string
	Status    int
	Message   string
	Fields    map[string][]string
}

func (e *ResponseError) Error() string {
	if e == nil {
		return "response error"
	}

	scope := "request"
	if e.Operation != "" {
		scope = e.Operation
	}

	if e.Message != "" {
		return fmt.Sprintf("%s failed (%d): %s", scope, e.Status, e.Message)
	}
	return fmt.Sprintf("%s failed (%d): %s", scope, e.Status, http.StatusText(e.Status))
}

// Metadata returns the error details as a flat map.
func (e *ResponseError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Message != "" {
		meta["message"] = e.Message
	}
	if len(e.Fields) > 0 {
		meta["fields"] = e.Fields
	}
	return meta
}

// FieldError returns the first server message for a form field.
func (e *ResponseError) FieldError(field string) string {
	if e == nil {
		return ""
	}
	if msgs := e.Fields[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}
