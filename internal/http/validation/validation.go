package validation

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"rentbridge.com/app/internal/shared/apperr"
)

type FieldErrors map[string]string

// FromBindError maps a gin binding error to field -> message, keyed by the
// json tag of dst's fields. dst is the struct pointer passed to ShouldBindJSON.
func FromBindError(err error, dst any) FieldErrors {
	out := FieldErrors{}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fieldKey(dst, fe.StructField())] = messageForTag(fe.Tag(), fe.Param())
		}
		return out
	}

	var te *json.UnmarshalTypeError
	if errors.As(err, &te) && te.Field != "" {
		out[te.Field] = "Has the wrong type."
		return out
	}

	out["_"] = "Request body is not valid JSON."
	return out
}

// BindError wraps a binding failure as a 400 with field messages.
func BindError(err error, dst any) error {
	return apperr.InvalidErr("Invalid request.", FromBindError(err, dst))
}

func fieldKey(dst any, structField string) string {
	t := reflect.TypeOf(dst)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return strings.ToLower(structField)
	}

	f, ok := t.FieldByName(structField)
	if !ok {
		return strings.ToLower(structField)
	}
	tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if tag == "" || tag == "-" {
		return strings.ToLower(structField)
	}
	return tag
}

func messageForTag(tag, param string) string {
	switch tag {
	case "required":
		return "This field is required."
	case "uuid", "uuid4":
		return "Must be a valid id."
	case "max":
		return "Must be at most " + param + " characters."
	case "datetime":
		return "Must be a date in " + param + " format."
	default:
		return "Invalid value."
	}
}
