package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

const maxBodyBytes = 1 << 20

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// The returned error is already an appointment.InvalidInput.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return appointment.InvalidInput("could not parse JSON body")
	}
	return validateStruct(v, dst)
}

func validateStruct(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return appointment.InvalidInput("%s: %s", fe.Field(), ruleMessage(fe))
	}
	return appointment.InvalidInput("invalid request")
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a valid UUID"
	case "datetime":
		return "must be formatted as YYYY-MM-DD"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return "is invalid"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeDomainError maps the booking error taxonomy onto HTTP. Internal
// details are logged, never returned.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var e *appointment.Error
	msg := "internal error"
	if errors.As(err, &e) {
		msg = e.Message
	}

	switch appointment.KindOf(err) {
	case appointment.KindNotFound:
		writeError(w, http.StatusNotFound, "not_found", msg)
	case appointment.KindSlotUnavailable:
		writeError(w, http.StatusBadRequest, "slot_unavailable", msg)
	case appointment.KindInvalidInput:
		writeError(w, http.StatusBadRequest, "invalid_input", msg)
	case appointment.KindUnauthorized:
		writeError(w, http.StatusForbidden, "unauthorized", msg)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
