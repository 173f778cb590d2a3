package client

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error is the client's view of a failed HTTP call: a status code plus
// whatever message the server's error JSON carried. Kind is set for
// client-local failures (like TransactionConflict) that never
// round-trip through an HTTP status.
type Error struct {
	Code    int
	Kind    string
	Message string
}

const KindTransactionConflict = "transaction_conflict"

// IsTransactionConflict reports whether err is the client's
// exceeded-retry-budget failure from Transaction.
func IsTransactionConflict(err error) bool {
	ce, ok := err.(*Error)
	return ok && ce.Kind == KindTransactionConflict
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// IsVersionConflict reports whether err is a 409 from the server.
func IsVersionConflict(err error) bool { return hasCode(err, http.StatusConflict) }

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool { return hasCode(err, http.StatusNotFound) }

// IsPermissionDenied reports whether err is a 403 from the server.
func IsPermissionDenied(err error) bool { return hasCode(err, http.StatusForbidden) }

func hasCode(err error, code int) bool {
	ce, ok := err.(*Error)
	return ok && ce.Code == code
}

func parseError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}
	return &Error{Code: resp.StatusCode, Message: msg}
}
