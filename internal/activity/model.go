// Package activity holds the activity domain model, its serialized snapshot
// and the submitted form input it is built from.
package activity

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Status int

const (
	StatusToApprove   Status = 1
	StatusApproved    Status = 2
	StatusDisapproved Status = 3
	// StatusUpdate marks the candidate of a pending update proposal.
	StatusUpdate Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusToApprove:
		return "to_approve"
	case StatusApproved:
		return "approved"
	case StatusDisapproved:
		return "disapproved"
	case StatusUpdate:
		return "update"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{StatusToApprove, StatusApproved, StatusDisapproved, StatusUpdate} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return errors.Errorf("unknown activity status %q", text)
}

// LocalisedText carries a Dutch and an English rendering of the same text.
type LocalisedText struct {
	Dutch   string `json:"nl"`
	English string `json:"en"`
}

// Text prefers the requested language and falls back to the other one.
func (t LocalisedText) Text(lang string) string {
	if strings.EqualFold(lang, "en") {
		if t.English != "" {
			return t.English
		}
		return t.Dutch
	}
	if t.Dutch != "" {
		return t.Dutch
	}
	return t.English
}

type FieldType int

const (
	FieldText   FieldType = 0
	FieldYesNo  FieldType = 1
	FieldNumber FieldType = 2
	FieldChoice FieldType = 3
)

type Category struct {
	ID   int64         `json:"id"`
	Name LocalisedText `json:"name"`
}

type SignupOption struct {
	ID    int64         `json:"id"`
	Value LocalisedText `json:"value"`
}

type SignupField struct {
	ID           int64          `json:"id"`
	Name         LocalisedText  `json:"name"`
	Type         FieldType      `json:"type"`
	MinimumValue *int64         `json:"minimumValue,omitempty"`
	MaximumValue *int64         `json:"maximumValue,omitempty"`
	Options      []SignupOption `json:"options,omitempty"`
}

type SignupList struct {
	ID                      int64         `json:"id"`
	Name                    LocalisedText `json:"name"`
	OpenDate                time.Time     `json:"openDate"`
	CloseDate               time.Time     `json:"closeDate"`
	OnlyGEWIS               bool          `json:"onlyGEWIS"`
	DisplaySubscribedNumber bool          `json:"displaySubscribedNumber"`
	Fields                  []SignupField `json:"fields"`
}

type Activity struct {
	ID              int64         `json:"id"`
	Version         int64         `json:"version"`
	Name            LocalisedText `json:"name"`
	BeginTime       time.Time     `json:"beginTime"`
	EndTime         time.Time     `json:"endTime"`
	Location        LocalisedText `json:"location"`
	Costs           LocalisedText `json:"costs"`
	Description     LocalisedText `json:"description"`
	OrganID         *int64        `json:"organId"`
	CompanyID       *int64        `json:"companyId"`
	CreatorID       string        `json:"creatorId"`
	ApproverID      *string       `json:"approverId"`
	IsMyFuture      bool          `json:"isMyFuture"`
	RequireGEFLITST bool          `json:"requireGEFLITST"`
	Status          Status        `json:"status"`
	Categories      []Category    `json:"categories"`
	SignupLists     []SignupList  `json:"signupLists"`
	CreatedAt       time.Time     `json:"createdAt"`
}

func (a Activity) ResourceCreator() string {
	return a.CreatorID
}

func (a Activity) ResourceOrgan() *int64 {
	return a.OrganID
}
