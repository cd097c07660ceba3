package activity

import "association/api/internal/snapshot"

// Rules is the enumerated coercion table for activity snapshots. Option
// lists are only split where declared here.
var Rules = snapshot.Rules{
	Current: snapshot.Table{
		"id":           snapshot.RuleDrop,
		"categories.*": snapshot.RuleReference,
	},
	Proposed: snapshot.Table{
		// form controls
		"submit":           snapshot.RuleDrop,
		"language_dutch":   snapshot.RuleDrop,
		"language_english": snapshot.RuleDrop,
		"csrf":             snapshot.RuleDrop,
		"_token":           snapshot.RuleDrop,

		"isMyFuture":                            snapshot.RuleBool,
		"requireGEFLITST":                       snapshot.RuleBool,
		"beginTime":                             snapshot.RuleTime,
		"endTime":                               snapshot.RuleTime,
		"categories.*":                          snapshot.RuleReference,
		"signupLists.*.onlyGEWIS":               snapshot.RuleBool,
		"signupLists.*.displaySubscribedNumber": snapshot.RuleBool,
		"signupLists.*.openDate":                snapshot.RuleTime,
		"signupLists.*.closeDate":               snapshot.RuleTime,
		"signupLists.*.fields.*.type":           snapshot.RuleInt,
		"signupLists.*.fields.*.minimumValue":   snapshot.RuleInt,
		"signupLists.*.fields.*.maximumValue":   snapshot.RuleInt,
		"signupLists.*.fields.*.options":        snapshot.RuleOptionList,
		"signupLists.*.fields.*.optionsEn":      snapshot.RuleOptionList,
	},
	// Decode reads these as false or zero when the form leaves them out.
	Absent: snapshot.Defaults{
		"isMyFuture":                            false,
		"requireGEFLITST":                       false,
		"signupLists.*.onlyGEWIS":               false,
		"signupLists.*.displaySubscribedNumber": false,
		"signupLists.*.fields.*.type":           int64(0),
	},
}

// Snapshot serializes the activity into the nested map the differ compares
// against a submitted form.
func (a Activity) Snapshot() map[string]any {
	categories := make([]any, 0, len(a.Categories))
	for _, category := range a.Categories {
		categories = append(categories, map[string]any{
			"id":     category.ID,
			"name":   category.Name.Dutch,
			"nameEn": category.Name.English,
		})
	}

	signupLists := make([]any, 0, len(a.SignupLists))
	for _, list := range a.SignupLists {
		signupLists = append(signupLists, list.snapshot())
	}

	return map[string]any{
		"id":              a.ID,
		"name":            a.Name.Dutch,
		"nameEn":          a.Name.English,
		"beginTime":       a.BeginTime,
		"endTime":         a.EndTime,
		"location":        a.Location.Dutch,
		"locationEn":      a.Location.English,
		"costs":           a.Costs.Dutch,
		"costsEn":         a.Costs.English,
		"description":     a.Description.Dutch,
		"descriptionEn":   a.Description.English,
		"organ":           optionalID(a.OrganID),
		"company":         optionalID(a.CompanyID),
		"isMyFuture":      a.IsMyFuture,
		"requireGEFLITST": a.RequireGEFLITST,
		"categories":      categories,
		"signupLists":     signupLists,
	}
}

func (l SignupList) snapshot() map[string]any {
	fields := make([]any, 0, len(l.Fields))
	for _, field := range l.Fields {
		fields = append(fields, field.snapshot())
	}
	return map[string]any{
		"id":                      l.ID,
		"name":                    l.Name.Dutch,
		"nameEn":                  l.Name.English,
		"openDate":                l.OpenDate,
		"closeDate":               l.CloseDate,
		"onlyGEWIS":               l.OnlyGEWIS,
		"displaySubscribedNumber": l.DisplaySubscribedNumber,
		"fields":                  fields,
	}
}

func (f SignupField) snapshot() map[string]any {
	options := make([]any, 0, len(f.Options))
	optionsEn := make([]any, 0, len(f.Options))
	for _, option := range f.Options {
		options = append(options, option.Value.Dutch)
		optionsEn = append(optionsEn, option.Value.English)
	}
	return map[string]any{
		"id":           f.ID,
		"name":         f.Name.Dutch,
		"nameEn":       f.Name.English,
		"type":         int64(f.Type),
		"minimumValue": optionalID(f.MinimumValue),
		"maximumValue": optionalID(f.MaximumValue),
		"options":      options,
		"optionsEn":    optionsEn,
	}
}

func optionalID(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}
