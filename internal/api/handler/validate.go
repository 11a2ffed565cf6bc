package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Rrens/dyncontent/internal/domain"
)

var validate = validator.New()

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// decode reads a JSON body into v and runs struct validation on it.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	const op = "api.decode"

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return domain.Invalid(op, "invalid request body")
	}

	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return domain.Invalid(op, "request validation failed", validationDetails(verrs)...)
		}
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			// v is not a struct; nothing to check.
			return nil
		}
		return domain.Invalid(op, err.Error())
	}
	return nil
}

func validationDetails(verrs validator.ValidationErrors) []string {
	details := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			details = append(details, field+": field is required")
		case "max":
			details = append(details, fmt.Sprintf("%s: must be at most %s characters", field, e.Param()))
		case "min":
			details = append(details, fmt.Sprintf("%s: must be at least %s", field, e.Param()))
		case "oneof":
			details = append(details, fmt.Sprintf("%s: must be one of %s", field, e.Param()))
		default:
			details = append(details, field+": validation failed on "+e.Tag())
		}
	}
	return details
}
