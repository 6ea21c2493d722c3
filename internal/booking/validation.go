package booking

import (
	"errors"
	"math"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

const (
	MinNameLength    = 2
	MaxNameLength    = 50
	MaxMedicalReason = 500
)

var slotPattern = regexp.MustCompile(`^[A-Za-z\s]+ - (0[0-9]|1[0-2]):[0-5][0-9] [AP]M$`)

// bookingForm is the rule set for a booking submission. DoctorID is nil
// when the submitted value was not an integer.
type bookingForm struct {
	DoctorID      *int64 `json:"doctorId" validate:"required"`
	PatientName   string `json:"patientName" validate:"min=2,max=50"`
	Slot          string `json:"slot" validate:"slot"`
	MedicalReason string `json:"medicalReason" validate:"required,max=500"`
}

// Rules maps "<field>.<tag>" to the message reported when that rule fails.
var Rules = map[string]string{
	"doctorId.required":      "Invalid doctor ID format",
	"patientName.min":        "Patient name must be 2-50 characters",
	"patientName.max":        "Patient name must be 2-50 characters",
	"slot.slot":              `Invalid time slot format (expected "Day - HH:MM AM/PM")`,
	"medicalReason.required": "Medical reason is required",
	"medicalReason.max":      "Medical reason exceeds 500 characters",
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	validate.RegisterValidation("slot", validateSlot)
}

func validateSlot(fl validator.FieldLevel) bool {
	return slotPattern.MatchString(fl.Field().String())
}

// ValidationError lists every rule a booking submission violated.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// Validate checks a decoded JSON booking body and returns the sanitized
// request. Malformed input of any shape is reported as a *ValidationError.
func Validate(raw map[string]any) (BookingRequest, error) {
	form := bookingForm{
		DoctorID:      toInteger(raw["doctorId"]),
		PatientName:   strings.TrimSpace(toString(raw["patientName"])),
		Slot:          toString(raw["slot"]),
		MedicalReason: strings.TrimSpace(toString(raw["medicalReason"])),
	}

	if err := validate.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return BookingRequest{}, &ValidationError{Messages: []string{"Invalid booking request"}}
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msg, ok := Rules[fe.Field()+"."+fe.Tag()]
			if !ok {
				msg = "Invalid " + fe.Field()
			}
			msgs = append(msgs, msg)
		}
		return BookingRequest{}, &ValidationError{Messages: msgs}
	}

	return BookingRequest{
		DoctorID:       *form.DoctorID,
		PatientName:    form.PatientName,
		Slot:           strings.TrimSpace(form.Slot),
		MedicalReason:  form.MedicalReason,
		Medications:    strings.TrimSpace(toString(raw["medications"])),
		Allergies:      strings.TrimSpace(toString(raw["allergies"])),
		MedicalHistory: strings.TrimSpace(toString(raw["medicalHistory"])),
	}, nil
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

// toInteger accepts JSON numbers with an integral value. Strings, booleans
// and fractional numbers are rejected.
func toInteger(v any) *int64 {
	var f float64
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return &i
		}
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case float64:
		f = n
	case int64:
		return &n
	case int:
		i := int64(n)
		return &i
	default:
		return nil
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return nil
	}
	i := int64(f)
	return &i
}
