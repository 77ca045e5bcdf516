// Package service holds the business rules of the blog platform.
//
// LAYERING:
//
//	handler (HTTP) → service (rules) → repository (storage)
//	                               ↘ payment.Gateway, mail.Sender
//
// Services never see an *http.Request and never pick a status code. They
// return apperror values and the handler layer maps them to HTTP.
//
// BEST-EFFORT SIDE EFFECTS:
// Every email sent from here goes through notify, which logs a failure and
// returns nothing. The operation that triggered the email has already been
// committed by then, and a mail outage must not turn it into an error.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/inmyopinion/internal/apperror"
	"github.com/sakif/inmyopinion/internal/mail"
)

// Clock returns the current time. Services take one so tests can pin "now".
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// validate is safe for concurrent use and caches struct metadata, so one
// instance serves the whole package.
var validate = newValidator()

// newValidator reports field names the way the API spells them for humans:
// the `label` tag if present, otherwise the json name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if label := f.Tag.Get("label"); label != "" {
			return label
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationDetails turns validator output into one readable message per
// failed field, in struct order.
func validationDetails(err error) []string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldMessage(fe))
	}
	return details
}

func invalid(err error, extra ...string) error {
	return apperror.Invalid(append(validationDetails(err), extra...)...)
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("Maximum %s %s allowed", fe.Param(), strings.ToLower(field))
		}
		return fmt.Sprintf("%s must be no more than %s characters long", field, fe.Param())
	case "url":
		return field + " must be a valid URL"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	}
	return field + " is invalid"
}

// notify sends msg and logs (never returns) a failure.
func notify(ctx context.Context, sender mail.Sender, logger *slog.Logger, msg mail.Message, build error) {
	if build != nil {
		logger.Error("building email", slog.String("error", build.Error()))
		return
	}
	if err := sender.Send(ctx, msg); err != nil {
		logger.Warn("sending email failed",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
	}
}
