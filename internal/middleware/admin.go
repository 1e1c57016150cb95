package middleware

import (
	"context"
	"errors"
	"net/http"
)

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

// AccessError is returned by AuthorizeAdmin. Status and Message are what the
// caller should send back; Err holds the lookup failure, if any.
type AccessError struct {
	Status  int
	Message string
	Err     error
}

func (e *AccessError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AccessError) Unwrap() error { return e.Err }

// AuthorizeAdmin checks that userID is an admin holding role. Super admins
// pass every role check; an empty role only requires admin status.
func AuthorizeAdmin(ctx context.Context, admins AdminStore, userID, role string) error {
	if userID == "" {
		return &AccessError{Status: http.StatusUnauthorized, Message: "unauthorized"}
	}
	isAdmin, isSuper, err := admins.IsAdmin(ctx, userID)
	if err != nil {
		return &AccessError{Status: http.StatusInternalServerError, Message: "unable to verify admin", Err: err}
	}
	if !isAdmin {
		return &AccessError{Status: http.StatusForbidden, Message: "admin privileges required"}
	}
	if isSuper || role == "" {
		return nil
	}
	hasRole, err := admins.HasRole(ctx, userID, role)
	if err != nil {
		return &AccessError{Status: http.StatusInternalServerError, Message: "unable to verify role", Err: err}
	}
	if !hasRole {
		return &AccessError{Status: http.StatusForbidden, Message: "missing required role"}
	}
	return nil
}

// WriteAccessError renders an AuthorizeAdmin failure. Errors of any other
// type are reported as a 500.
func WriteAccessError(w http.ResponseWriter, err error) {
	var accessErr *AccessError
	if errors.As(err, &accessErr) {
		writeError(w, accessErr.Status, accessErr.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, "unable to verify admin")
}

func RequireAdmin(admins AdminStore, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			if err := AuthorizeAdmin(r.Context(), admins, userID, role); err != nil {
				WriteAccessError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
