package orchestrator

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/agents-liminals/liminal/internal/consultation"
)

// Input bounds, in characters.
const (
	MinSituationLen = 10
	MaxSituationLen = 2000
	MaxContextLen   = 1000
)

type submissionInput struct {
	Agent     string `validate:"required,max=32"`
	Situation string `validate:"required,min=10,max=2000"`
	Context   string `validate:"max=1000"`
}

// Validator checks submission input before any quota is touched.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Normalize trims surrounding whitespace from the user's text.
func Normalize(in consultation.Input) consultation.Input {
	return consultation.Input{
		Situation: strings.TrimSpace(in.Situation),
		Context:   strings.TrimSpace(in.Context),
	}
}

// Validate returns a KindInvalidInput error listing each failed field.
func (v *Validator) Validate(agent string, in consultation.Input) error {
	err := v.validate.Struct(submissionInput{
		Agent:     agent,
		Situation: in.Situation,
		Context:   in.Context,
	})
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return invalidInput(string(KindInvalidInput), err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	serr := invalidInput(string(KindInvalidInput), err)
	serr.Fields = fields
	return serr
}
