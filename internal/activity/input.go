package activity

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"association/api/internal/snapshot"
)

// OptionList is a list of choice options. Forms submit it comma-joined.
type OptionList []string

// Input is the validated form submission an activity is built from.
type Input struct {
	Name            string            `json:"name" validate:"required_without=NameEn,max=100"`
	NameEn          string            `json:"nameEn" validate:"max=100"`
	BeginTime       time.Time         `json:"beginTime" validate:"required"`
	EndTime         time.Time         `json:"endTime" validate:"required,gtefield=BeginTime"`
	Location        string            `json:"location" validate:"required_without=LocationEn,max=100"`
	LocationEn      string            `json:"locationEn" validate:"max=100"`
	Costs           string            `json:"costs" validate:"required_without=CostsEn,max=100"`
	CostsEn         string            `json:"costsEn" validate:"max=100"`
	Description     string            `json:"description" validate:"required_without=DescriptionEn,max=100000"`
	DescriptionEn   string            `json:"descriptionEn" validate:"max=100000"`
	Organ           int64             `json:"organ" validate:"gte=0"`
	Company         int64             `json:"company" validate:"gte=0"`
	IsMyFuture      bool              `json:"isMyFuture"`
	RequireGEFLITST bool              `json:"requireGEFLITST"`
	Categories      []int64           `json:"categories" validate:"dive,gt=0"`
	SignupLists     []SignupListInput `json:"signupLists" validate:"dive"`
}

type SignupListInput struct {
	Name                    string             `json:"name" validate:"required_without=NameEn,max=100"`
	NameEn                  string             `json:"nameEn" validate:"max=100"`
	OpenDate                time.Time          `json:"openDate" validate:"required"`
	CloseDate               time.Time          `json:"closeDate" validate:"required,gtefield=OpenDate"`
	OnlyGEWIS               bool               `json:"onlyGEWIS"`
	DisplaySubscribedNumber bool               `json:"displaySubscribedNumber"`
	Fields                  []SignupFieldInput `json:"fields" validate:"dive"`
}

type SignupFieldInput struct {
	Name         string     `json:"name" validate:"required_without=NameEn,max=100"`
	NameEn       string     `json:"nameEn" validate:"max=100"`
	Type         int        `json:"type" validate:"min=0,max=3"`
	MinimumValue *int64     `json:"minimumValue"`
	MaximumValue *int64     `json:"maximumValue"`
	Options      OptionList `json:"options"`
	OptionsEn    OptionList `json:"optionsEn"`
}

var (
	timeType       = reflect.TypeOf(time.Time{})
	boolType       = reflect.TypeOf(false)
	optionListType = reflect.TypeOf(OptionList{})
	intPtrType     = reflect.TypeOf((*int64)(nil))
)

// Parse decodes a raw form payload and validates it. Failures are returned
// as *ValidationError.
func Parse(raw map[string]any) (Input, error) {
	input, err := Decode(raw)
	if err != nil {
		return Input{}, err
	}
	if err := input.Validate(); err != nil {
		return Input{}, err
	}
	return input, nil
}

// Decode maps a raw payload onto Input, accepting the loose encodings an
// HTML form produces.
func Decode(raw map[string]any) (Input, error) {
	var input Input
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &input,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			formBoolHook,
			formTimeHook,
			optionListHook,
			blankIntHook,
		),
	})
	if err != nil {
		return Input{}, errors.Wrap(err, "build payload decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return Input{}, &ValidationError{Fields: []FieldError{{Message: err.Error()}}}
	}
	return input, nil
}

func (in Input) Validate() error {
	if err := validate.Struct(in); err != nil {
		return translateValidation(err)
	}
	return nil
}

func formBoolHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != boolType {
		return data, nil
	}
	return snapshot.Truthy(data), nil
}

func formTimeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != timeType {
		return data, nil
	}
	text, ok := data.(string)
	if !ok {
		return data, nil
	}
	if strings.TrimSpace(text) == "" {
		return time.Time{}, nil
	}
	parsed, ok := snapshot.ParseTime(text)
	if !ok {
		return nil, errors.Errorf("invalid date %q", text)
	}
	return parsed, nil
}

func optionListHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != optionListType {
		return data, nil
	}
	if text, ok := data.(string); ok {
		return OptionList(snapshot.SplitOptions(text)), nil
	}
	return data, nil
}

func blankIntHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != intPtrType {
		return data, nil
	}
	switch typed := data.(type) {
	case string:
		if strings.TrimSpace(typed) == "" {
			return nil, nil
		}
		return strings.TrimSpace(typed), nil
	case json.Number:
		return typed.Int64()
	}
	return data, nil
}

// Owner carries the values of a new activity that do not come from the form.
type Owner struct {
	CreatorID  string
	OrganID    *int64
	CompanyID  *int64
	Categories []Category
	Status     Status
}

// New builds a complete activity from validated input. Candidates of update
// proposals are built the same way: they replace the old record whole.
func New(in Input, owner Owner) Activity {
	activity := Activity{
		Name:            LocalisedText{Dutch: in.Name, English: in.NameEn},
		BeginTime:       in.BeginTime,
		EndTime:         in.EndTime,
		Location:        LocalisedText{Dutch: in.Location, English: in.LocationEn},
		Costs:           LocalisedText{Dutch: in.Costs, English: in.CostsEn},
		Description:     LocalisedText{Dutch: in.Description, English: in.DescriptionEn},
		OrganID:         owner.OrganID,
		CompanyID:       owner.CompanyID,
		CreatorID:       owner.CreatorID,
		IsMyFuture:      in.IsMyFuture,
		RequireGEFLITST: in.RequireGEFLITST,
		Status:          owner.Status,
		Categories:      append([]Category(nil), owner.Categories...),
	}

	for _, listInput := range in.SignupLists {
		list := SignupList{
			Name:                    LocalisedText{Dutch: listInput.Name, English: listInput.NameEn},
			OpenDate:                listInput.OpenDate,
			CloseDate:               listInput.CloseDate,
			OnlyGEWIS:               listInput.OnlyGEWIS,
			DisplaySubscribedNumber: listInput.DisplaySubscribedNumber,
		}
		for _, fieldInput := range listInput.Fields {
			list.Fields = append(list.Fields, newSignupField(fieldInput))
		}
		activity.SignupLists = append(activity.SignupLists, list)
	}
	return activity
}

func newSignupField(in SignupFieldInput) SignupField {
	field := SignupField{
		Name: LocalisedText{Dutch: in.Name, English: in.NameEn},
		Type: FieldType(in.Type),
	}
	switch field.Type {
	case FieldNumber:
		field.MinimumValue = in.MinimumValue
		field.MaximumValue = in.MaximumValue
	case FieldChoice:
		count := len(in.Options)
		if len(in.OptionsEn) > count {
			count = len(in.OptionsEn)
		}
		for i := 0; i < count; i++ {
			var value LocalisedText
			if i < len(in.Options) {
				value.Dutch = in.Options[i]
			}
			if i < len(in.OptionsEn) {
				value.English = in.OptionsEn[i]
			}
			field.Options = append(field.Options, SignupOption{Value: value})
		}
	}
	return field
}
