package investigation

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Letters and digits in any script plus the punctuation found in names, company
// suffixes, addresses and handles.
var safeText = regexp.MustCompile(`^[\p{L}\p{N}\s\-_.,;:()@'&/]+$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func targetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("safetext", func(fl validator.FieldLevel) bool {
			return safeText.MatchString(fl.Field().String())
		})
	})
	return validate
}

// NewTarget trims and validates the caller's input.
func NewTarget(name, context string) (Target, error) {
	t := Target{Name: strings.TrimSpace(name), Context: strings.TrimSpace(context)}
	if err := targetValidator().Struct(t); err != nil {
		return Target{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return t, nil
}
