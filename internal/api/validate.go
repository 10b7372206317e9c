package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"carrierlink/internal/integration"
)

type bulkTrackRequest struct {
	TrackingNumbers []string `json:"trackingNumbers" validate:"required,min=1,max=1000,dive,required"`
	CarrierID       string   `json:"carrierId" validate:"omitempty,alphanum"`
}

type bookingRequest struct {
	CarrierID   string             `json:"carrierId" validate:"required,alphanum"`
	BookingData integration.Record `json:"bookingData" validate:"required"`
}

type bookingUpdateRequest struct {
	CarrierID string             `json:"carrierId" validate:"required,alphanum"`
	Changes   integration.Record `json:"changes" validate:"required"`
}

type cancelRequest struct {
	CarrierID string `json:"carrierId" validate:"required,alphanum"`
	Reason    string `json:"reason" validate:"max=500"`
}

type quoteRequest struct {
	CarrierID string             `json:"carrierId" validate:"required,alphanum"`
	Request   integration.Record `json:"request" validate:"required"`
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check validates v and flattens field errors into one message.
func (s *Server) check(v any) error {
	err := s.validate.Struct(v)
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fe.Field()+": "+validationMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must have at most " + fe.Param() + " entries"
	case "alphanum":
		return "must be alphanumeric"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
