package activity

import (
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

const (
	optionsRequiredTag  = "options_required"
	optionsRequiredText = "{0} must list at least one option"
	optionsCountTag     = "options_count"
	optionsCountText    = "{0} must have as many entries in both languages"
	rangeRequiredTag    = "range_required"
	rangeRequiredText   = "{0} is required for number fields"
	rangeOrderTag       = "range_order"
	rangeOrderText      = "{0} must not be larger than maximumValue"
)

func init() {
	validate = validator.New()

	english := en.New()
	uni := ut.New(english, english)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Report json names so errors line up with the submitted form.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	validate.RegisterStructValidation(signupFieldValidation, SignupFieldInput{})
	registerTranslation(optionsRequiredTag, optionsRequiredText)
	registerTranslation(optionsCountTag, optionsCountText)
	registerTranslation(rangeRequiredTag, rangeRequiredText)
	registerTranslation(rangeOrderTag, rangeOrderText)
}

func registerTranslation(tag, text string) {
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, false) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// signupFieldValidation checks the rules that depend on the field type.
func signupFieldValidation(sl validator.StructLevel) {
	field := sl.Current().Interface().(SignupFieldInput)

	switch FieldType(field.Type) {
	case FieldNumber:
		if field.MinimumValue == nil {
			sl.ReportError(field.MinimumValue, "minimumValue", "MinimumValue", rangeRequiredTag, "")
		}
		if field.MaximumValue == nil {
			sl.ReportError(field.MaximumValue, "maximumValue", "MaximumValue", rangeRequiredTag, "")
		}
		if field.MinimumValue != nil && field.MaximumValue != nil && *field.MinimumValue > *field.MaximumValue {
			sl.ReportError(field.MinimumValue, "minimumValue", "MinimumValue", rangeOrderTag, "")
		}
	case FieldChoice:
		if len(field.Options) == 0 && len(field.OptionsEn) == 0 {
			sl.ReportError(field.Options, "options", "Options", optionsRequiredTag, "")
		}
		if len(field.Options) > 0 && len(field.OptionsEn) > 0 && len(field.Options) != len(field.OptionsEn) {
			sl.ReportError(field.OptionsEn, "optionsEn", "OptionsEn", optionsCountTag, "")
		}
	}
}

// FieldError is a validation failure on one (possibly nested) form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field error of a rejected submission.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		if field.Field == "" {
			parts = append(parts, field.Message)
			continue
		}
		parts = append(parts, field.Field+": "+field.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func translateValidation(err error) *ValidationError {
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &ValidationError{Fields: []FieldError{{Message: err.Error()}}}
	}
	fields := make([]FieldError, 0, len(validationErrs))
	for _, fe := range validationErrs {
		fields = append(fields, FieldError{
			Field:   fieldPath(fe.Namespace()),
			Message: fe.Translate(translator),
		})
	}
	return &ValidationError{Fields: fields}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}
