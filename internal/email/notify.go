package email

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"net/mail"
	"strings"
	"sync"
	texttemplate "text/template"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"association/api/internal/activity"
)

const (
	subjectActivityCreated = "Nieuwe activiteit aangemaakt op de GEWIS website | New activity was created on the GEWIS website"
	subjectActivityUpdated = "Activiteit aangepast op de GEWIS website | Activity was updated on the GEWIS website"
	subjectUpdateProposed  = "Activiteit aanpassingsvoorstel op de GEWIS website | Activity update proposed on the GEWIS website"
	subjectPasswordReset   = "Reset your password"

	geflitstDateLayout = "02-01-2006 15:04"
	sendTimeout        = 30 * time.Second
)

// NotifierConfig names the recipients of activity notifications.
type NotifierConfig struct {
	AppName            string
	BaseURL            string
	ActivityRecipients []string
	GEFLITSTAddress    string
}

// ActivityMail is the context of one activity notification.
type ActivityMail struct {
	Activity activity.Activity
	// Organ is nil for member initiatives.
	Organ         *OrganSender
	Creator       mail.Address
	ChangedFields []string
}

// OrganSender identifies the organ a mail is sent on behalf of.
type OrganSender struct {
	Abbr  string
	Name  string
	Email string
}

// Notifier renders notifications and hands them to a Sender in the
// background. Failures are logged, never returned.
type Notifier struct {
	sender   Sender
	logger   logrus.FieldLogger
	config   NotifierConfig
	activity []mail.Address
	geflitst *mail.Address
	wg       sync.WaitGroup
}

func NewNotifier(sender Sender, logger logrus.FieldLogger, config NotifierConfig) *Notifier {
	n := &Notifier{sender: sender, logger: logger, config: config}
	if n.config.AppName == "" {
		n.config.AppName = "Activities"
	}
	for _, raw := range config.ActivityRecipients {
		if addr, err := mail.ParseAddress(raw); err == nil {
			n.activity = append(n.activity, *addr)
		} else {
			logger.WithError(err).WithField("address", raw).Warn("ignoring activity notification recipient")
		}
	}
	if strings.TrimSpace(config.GEFLITSTAddress) != "" {
		if addr, err := mail.ParseAddress(config.GEFLITSTAddress); err == nil {
			n.geflitst = addr
		} else {
			logger.WithError(err).Warn("ignoring GEFLITST address")
		}
	}
	return n
}

type activityView struct {
	AppName       string
	URL           string
	Name          string
	NameEn        string
	Begin         string
	End           string
	Location      string
	OrganName     string
	Requester     string
	ChangedFields []string
}

func (n *Notifier) view(data ActivityMail) activityView {
	item := data.Activity
	view := activityView{
		AppName:       n.config.AppName,
		URL:           fmt.Sprintf("%s/activities/%d", strings.TrimRight(n.config.BaseURL, "/"), item.ID),
		Name:          item.Name.Text("nl"),
		NameEn:        item.Name.Text("en"),
		Begin:         item.BeginTime.Format(geflitstDateLayout),
		End:           item.EndTime.Format(geflitstDateLayout),
		Location:      item.Location.Text("en"),
		Requester:     data.Creator.Name,
		ChangedFields: data.ChangedFields,
	}
	if data.Organ != nil {
		view.OrganName = data.Organ.Name
		view.Requester = data.Organ.Name
	}
	return view
}

func (n *Notifier) ActivityCreated(data ActivityMail) {
	n.toBoard(subjectActivityCreated, activityCreatedTemplate, data)
}

func (n *Notifier) ActivityUpdated(data ActivityMail) {
	n.toBoard(subjectActivityUpdated, activityUpdatedTemplate, data)
}

func (n *Notifier) UpdateProposed(data ActivityMail) {
	n.toBoard(subjectUpdateProposed, updateProposedTemplate, data)
}

func (n *Notifier) toBoard(subject string, tmpl mailTemplate, data ActivityMail) {
	if len(n.activity) == 0 {
		return
	}
	msg, err := tmpl.render(n.view(data))
	if err != nil {
		n.logger.WithError(err).Error("render activity mail")
		return
	}
	msg.To = n.activity
	msg.Subject = subject
	n.dispatch(msg)
}

// GEFLITSTSubject is the subject of a photographer request. Organs are
// named by abbreviation, anything else is a member initiative.
func GEFLITSTSubject(data ActivityMail) string {
	title := data.Activity.Name.Text("en")
	when := data.Activity.BeginTime.Format(geflitstDateLayout)
	if data.Organ != nil {
		return fmt.Sprintf("%s: %s on %s", data.Organ.Abbr, title, when)
	}
	return fmt.Sprintf("Member Initiative: %s on %s", title, when)
}

// GEFLITSTRequested asks for a photographer. The request is answered to the
// organ when it has an address, otherwise to the creator.
func (n *Notifier) GEFLITSTRequested(data ActivityMail) {
	if n.geflitst == nil {
		return
	}
	msg, err := geflitstTemplate.render(n.view(data))
	if err != nil {
		n.logger.WithError(err).Error("render GEFLITST mail")
		return
	}
	msg.To = []mail.Address{*n.geflitst}
	msg.Subject = GEFLITSTSubject(data)
	if data.Organ != nil && data.Organ.Email != "" {
		msg.ReplyTo = &mail.Address{Name: data.Organ.Name, Address: data.Organ.Email}
	} else if data.Creator.Address != "" {
		creator := data.Creator
		msg.ReplyTo = &creator
	}
	n.dispatch(msg)
}

func (n *Notifier) PasswordReset(to mail.Address, token string) {
	msg, err := passwordResetTemplate.render(struct {
		AppName  string
		UserName string
		ResetURL string
	}{
		AppName:  n.config.AppName,
		UserName: to.Name,
		ResetURL: strings.TrimRight(n.config.BaseURL, "/") + "/reset-password?token=" + token,
	})
	if err != nil {
		n.logger.WithError(err).Error("render password reset mail")
		return
	}
	msg.To = []mail.Address{to}
	msg.Subject = subjectPasswordReset
	n.dispatch(msg)
}

func (n *Notifier) dispatch(msg Message) {
	if n.sender == nil || !n.sender.IsConfigured() {
		n.logger.WithField("subject", msg.Subject).Debug("email not configured, dropping message")
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := n.sender.Send(ctx, msg); err != nil {
			n.logger.WithError(err).WithField("subject", msg.Subject).Error("send email")
		}
	}()
}

// Wait blocks until every dispatched message has been handed off.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

type mailTemplate struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

func newMailTemplate(name, html, text string) mailTemplate {
	return mailTemplate{
		html: htmltemplate.Must(htmltemplate.New(name).Parse(html)),
		text: texttemplate.Must(texttemplate.New(name).Parse(text)),
	}
}

func (t mailTemplate) render(data any) (Message, error) {
	var html, text bytes.Buffer
	if err := t.html.Execute(&html, data); err != nil {
		return Message{}, errors.Wrapf(err, "render %s html", t.html.Name())
	}
	if err := t.text.Execute(&text, data); err != nil {
		return Message{}, errors.Wrapf(err, "render %s text", t.text.Name())
	}
	return Message{HTML: html.String(), Text: text.String()}, nil
}
