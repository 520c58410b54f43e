package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
)

// ErrInvalidRequest is returned for bodies that are not a JSON object with
// string date and location fields. Callers map it to 422.
var ErrInvalidRequest = errors.New("invalid request")

// maxBodyBytes bounds the create request body.
const maxBodyBytes = 64 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// weatherRequestBody distinguishes absent fields from empty strings.
// Only presence is checked; "" is an acceptable date or location.
type weatherRequestBody struct {
	Date     *string `json:"date" validate:"required"`
	Location *string `json:"location" validate:"required"`
	Notes    *string `json:"notes"`
}

// DecodeWeatherRequest reads a create request body. Unknown fields are ignored
// and a missing or null notes field becomes "".
func DecodeWeatherRequest(r io.Reader) (models.WeatherRequest, error) {
	var body weatherRequestBody
	dec := json.NewDecoder(io.LimitReader(r, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		return models.WeatherRequest{}, fmt.Errorf("%w: %s", ErrInvalidRequest, describeDecodeError(err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return models.WeatherRequest{}, fmt.Errorf("%w: unexpected data after JSON object", ErrInvalidRequest)
	}

	if err := validate.Struct(body); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Field()+" is required")
			}
			return models.WeatherRequest{}, fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, ", "))
		}
		return models.WeatherRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	req := models.WeatherRequest{
		Date:     *body.Date,
		Location: *body.Location,
	}
	if body.Notes != nil {
		req.Notes = *body.Notes
	}
	return req, nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field != "" {
			return fmt.Sprintf("%s must be a string", typeErr.Field)
		}
		return "body must be a JSON object"
	}
	if errors.Is(err, io.EOF) {
		return "request body is empty"
	}
	return "malformed JSON body"
}
