package activity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"association/api/internal/snapshot"
)

func formPayload() map[string]any {
	return map[string]any{
		"name":             "Borrel",
		"nameEn":           "Drinks",
		"beginTime":        "2026-11-20T20:00",
		"endTime":          "2026-11-20T23:30",
		"location":         "Zaal",
		"locationEn":       "Hall",
		"costs":            "Gratis",
		"costsEn":          "Free",
		"description":      "Gezellig",
		"descriptionEn":    "Cosy",
		"organ":            "3",
		"company":          "0",
		"isMyFuture":       "0",
		"requireGEFLITST":  "1",
		"categories":       []any{"1"},
		"submit":           "Opslaan",
		"language_dutch":   "1",
		"language_english": "1",
		"signupLists": []any{
			map[string]any{
				"name":                    "Aanmelden",
				"nameEn":                  "Sign up",
				"openDate":                "2026-11-01 09:00",
				"closeDate":               "2026-11-19 23:59",
				"onlyGEWIS":               "on",
				"displaySubscribedNumber": "",
				"fields": []any{
					map[string]any{
						"name":      "Dieet",
						"nameEn":    "Diet",
						"type":      "3",
						"options":   "Vega, Vlees",
						"optionsEn": "Veggie,Meat",
					},
					map[string]any{
						"name":         "Aantal",
						"nameEn":       "Amount",
						"type":         "2",
						"minimumValue": "1",
						"maximumValue": "4",
					},
				},
			},
		},
	}
}

func TestParseDecodesFormEncodings(t *testing.T) {
	input, err := Parse(formPayload())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 11, 20, 20, 0, 0, 0, time.UTC), input.BeginTime)
	assert.Equal(t, int64(3), input.Organ)
	assert.Equal(t, int64(0), input.Company)
	assert.False(t, input.IsMyFuture)
	assert.True(t, input.RequireGEFLITST)
	assert.Equal(t, []int64{1}, input.Categories)

	require.Len(t, input.SignupLists, 1)
	list := input.SignupLists[0]
	assert.True(t, list.OnlyGEWIS)
	assert.False(t, list.DisplaySubscribedNumber)
	require.Len(t, list.Fields, 2)
	assert.Equal(t, OptionList{"Vega", "Vlees"}, list.Fields[0].Options)
	assert.Equal(t, OptionList{"Veggie", "Meat"}, list.Fields[0].OptionsEn)
	require.NotNil(t, list.Fields[1].MinimumValue)
	assert.Equal(t, int64(4), *list.Fields[1].MaximumValue)
}

func TestParseReportsFieldErrors(t *testing.T) {
	payload := formPayload()
	payload["name"] = ""
	payload["nameEn"] = ""
	payload["endTime"] = "2026-11-20T19:00"
	field := payload["signupLists"].([]any)[0].(map[string]any)["fields"].([]any)[1].(map[string]any)
	field["maximumValue"] = ""

	_, err := Parse(payload)
	require.Error(t, err)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	fields := map[string]string{}
	for _, fe := range validationErr.Fields {
		fields[fe.Field] = fe.Message
	}
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "endTime")
	assert.Equal(t, "maximumValue is required for number fields", fields["signupLists[0].fields[1].maximumValue"])
}

func TestParseRejectsMismatchedOptionCounts(t *testing.T) {
	payload := formPayload()
	field := payload["signupLists"].([]any)[0].(map[string]any)["fields"].([]any)[0].(map[string]any)
	field["optionsEn"] = "Veggie"

	_, err := Parse(payload)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Len(t, validationErr.Fields, 1)
	assert.Equal(t, "signupLists[0].fields[0].optionsEn", validationErr.Fields[0].Field)
}

func TestParseRejectsUnreadableDate(t *testing.T) {
	payload := formPayload()
	payload["beginTime"] = "next friday"

	_, err := Parse(payload)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Error(), "next friday")
}

func TestNewBuildsSignupFieldsByType(t *testing.T) {
	input, err := Parse(formPayload())
	require.NoError(t, err)

	organ := int64(3)
	built := New(input, Owner{
		CreatorID:  "usr_1",
		OrganID:    &organ,
		Categories: []Category{{ID: 1, Name: LocalisedText{Dutch: "Sociaal", English: "Social"}}},
		Status:     StatusToApprove,
	})

	assert.Equal(t, "Drinks", built.Name.Text("en"))
	assert.Equal(t, StatusToApprove, built.Status)
	assert.Nil(t, built.CompanyID)

	fields := built.SignupLists[0].Fields
	assert.Equal(t, FieldChoice, fields[0].Type)
	assert.Equal(t, []SignupOption{
		{Value: LocalisedText{Dutch: "Vega", English: "Veggie"}},
		{Value: LocalisedText{Dutch: "Vlees", English: "Meat"}},
	}, fields[0].Options)
	assert.Nil(t, fields[0].MinimumValue)

	assert.Equal(t, FieldNumber, fields[1].Type)
	assert.Equal(t, int64(1), *fields[1].MinimumValue)
	assert.Empty(t, fields[1].Options)
}

func TestResubmittedFormIsNotSignificant(t *testing.T) {
	input, err := Parse(formPayload())
	require.NoError(t, err)

	organ := int64(3)
	stored := New(input, Owner{
		CreatorID:  "usr_1",
		OrganID:    &organ,
		Categories: []Category{{ID: 1}},
		Status:     StatusApproved,
	})
	stored.ID = 42

	normalizer := snapshot.NewNormalizer(Rules)
	current := normalizer.Current(stored.Snapshot())
	proposed := normalizer.Proposed(formPayload(), map[string]any{"organ": int64(3), "company": nil})

	result := snapshot.Diff(current, proposed)
	assert.False(t, result.Significant(), "diff: %+v", result.Pruned())
}

func TestEditedFormIsSignificant(t *testing.T) {
	input, err := Parse(formPayload())
	require.NoError(t, err)
	stored := New(input, Owner{CreatorID: "usr_1", Categories: []Category{{ID: 1}}})

	edited := formPayload()
	edited["locationEn"] = "Main hall"
	edited["signupLists"].([]any)[0].(map[string]any)["fields"].([]any)[0].(map[string]any)["optionsEn"] = "Veggie,Fish"

	normalizer := snapshot.NewNormalizer(Rules)
	result := snapshot.Diff(
		normalizer.Current(stored.Snapshot()),
		normalizer.Proposed(edited, map[string]any{"organ": nil, "company": nil}),
	).Pruned()

	assert.Equal(t, "Main hall", result.Added["locationEn"])
	assert.Equal(t, "Hall", result.Removed["locationEn"])
	assert.Equal(t, map[string]any{
		"0": map[string]any{"fields": map[string]any{"0": map[string]any{"optionsEn": map[string]any{"1": "Fish"}}}},
	}, result.Added["signupLists"])
}

func TestLocalisedTextFallsBack(t *testing.T) {
	assert.Equal(t, "Borrel", LocalisedText{Dutch: "Borrel"}.Text("en"))
	assert.Equal(t, "Drinks", LocalisedText{English: "Drinks"}.Text("nl"))
	assert.Equal(t, "update", StatusUpdate.String())
}

func TestStatusEncodesAsText(t *testing.T) {
	raw, err := json.Marshal(map[string]Status{"status": StatusApproved})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"approved"}`, string(raw))

	var decoded Status
	require.NoError(t, decoded.UnmarshalText([]byte("update")))
	assert.Equal(t, StatusUpdate, decoded)
	assert.Error(t, decoded.UnmarshalText([]byte("pending")))
}
