package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/branchd-dev/authflow/internal/provider"
	"github.com/branchd-dev/authflow/internal/session"
)

// Message turns a request error into text fit for the interface layer
func Message(err error) string {
	if err == nil {
		return ""
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fieldMessage(verrs[0])
	}

	switch {
	case errors.Is(err, ErrBusy):
		return "Please wait for the current request to finish."
	case errors.Is(err, session.ErrNotSignedIn):
		return "You are not signed in."
	case errors.Is(err, session.ErrSessionRevoked):
		return "Your session has ended. Please sign in again."
	case errors.Is(err, provider.ErrUnavailable):
		return "Could not reach the sign-in service. Check your connection and try again."
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "The request was cancelled before it finished."
	}

	switch provider.Code(err) {
	case provider.CodeEmailNotFound, provider.CodeInvalidPassword, provider.CodeInvalidCredentials:
		return "Incorrect email or password."
	case provider.CodeInvalidEmail:
		return "Enter a valid email address."
	case provider.CodeEmailExists:
		return "An account already exists for that email."
	case provider.CodeWeakPassword:
		return "Password is too weak."
	case provider.CodeUserDisabled:
		return "This account has been disabled."
	case provider.CodeTooManyAttempts:
		return "Too many attempts. Try again later."
	}

	return "Something went wrong. Please try again."
}

func fieldMessage(fe validator.FieldError) string {
	field := humanField(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required.", field)
	case "email":
		return "Enter a valid email address."
	case "min":
		return fmt.Sprintf("%s must be at least %s characters.", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters.", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid.", field)
	}
}

// humanField turns DisplayName into "Display name"
func humanField(name string) string {
	var b strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteRune(' ')
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
