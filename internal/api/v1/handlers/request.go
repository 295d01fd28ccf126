package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/deepgram/agentdeck/internal/upstream"
	"github.com/deepgram/agentdeck/pkg/httpext"
)

// MaxBodyBytes bounds every request body, WebSocket frames included.
const MaxBodyBytes = 1 << 20

// use a single instance of Validate, it caches struct info
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// hex, rgb(a) and hsl(a) values plus CSS color names such as "red"
	_ = v.RegisterValidation("csscolor", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return v.Var(value, "iscolor") == nil || v.Var(value, "alpha,max=32") == nil
	})
	return v
}

type chatRequest struct {
	Message string `json:"message" validate:"required"`
}

type updateAgentRequest struct {
	Name  string `json:"name" validate:"omitempty,max=100"`
	Color string `json:"color" validate:"omitempty,csscolor"`
}

type registerAgentRequest struct {
	ID    string `json:"id" validate:"required,max=64"`
	Name  string `json:"name" validate:"omitempty,max=100"`
	Host  string `json:"host" validate:"required,hostname_rfc1123|ip"`
	Port  int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Token string `json:"token"`
	Color string `json:"color" validate:"omitempty,csscolor"`
	Model string `json:"model"`
}

// decodeBody reads a JSON body of at most MaxBodyBytes into v and validates
// it. On failure the response has been written and false is returned.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			hlog.FromRequest(r).Warn().Int64("limit", tooLarge.Limit).Msg("Request body too large")
			httpext.JsonKindError(w, string(upstream.KindBadRequest), "Request body too large", http.StatusBadRequest)
			return false
		}
		hlog.FromRequest(r).Warn().Err(err).Msg("Client sent malformed JSON request")
		httpext.JsonKindError(w, string(upstream.KindBadRequest), "Invalid JSON", http.StatusBadRequest)
		return false
	}

	if err := validate.Struct(v); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Request validation failed")
		httpext.JsonKindError(w, string(upstream.KindBadRequest), validationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

// validationMessage turns validator output into a short client message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Sprintf("Invalid request: %v", err)
	}

	fe := verrs[0]
	field := fe.Field()
	if field == "" {
		field = "field"
	}
	switch fe.Tag() {
	case "required":
		return strings.ToUpper(field[:1]) + field[1:] + " required"
	case "csscolor":
		return fmt.Sprintf("Invalid %s: %q is not a color", field, fe.Value())
	default:
		return fmt.Sprintf("Invalid %s", field)
	}
}

// writeError answers with the status that matches err's kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := upstream.KindOf(err)
	status := kind.HTTPStatus()

	if kind == "" {
		hlog.FromRequest(r).Error().Err(err).Msg("Request failed")
		httpext.JsonError(w, err.Error(), status)
		return
	}

	level := zerolog.WarnLevel
	if status >= http.StatusInternalServerError {
		level = zerolog.ErrorLevel
	}
	hlog.FromRequest(r).WithLevel(level).Err(err).Str("error_kind", string(kind)).Int("status", status).Msg("Request failed")

	var ue *upstream.Error
	msg := err.Error()
	if errors.As(err, &ue) {
		msg = ue.Error()
	}
	httpext.JsonKindError(w, string(kind), msg, status)
}
