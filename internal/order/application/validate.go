package application

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dmehra2102/Lesson-Booking-System/internal/order/domain"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		// Drop the root struct name: "PlaceOrderRequest.items[0].quantity".
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}

		switch fe.Tag() {
		case "required":
			fields[path] = "is required"
		case "gt":
			fields[path] = fmt.Sprintf("must be greater than %s", fe.Param())
		case "lte":
			fields[path] = fmt.Sprintf("must be at most %s", fe.Param())
		case "min":
			fields[path] = fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		case "max":
			fields[path] = fmt.Sprintf("must be at most %s long", fe.Param())
		default:
			fields[path] = "is invalid"
		}
	}
	return &domain.ValidationError{Fields: fields}
}
