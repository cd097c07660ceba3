package email

const htmlHead = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #d40000; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #d40000; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .details td { padding: 2px 12px 2px 0; vertical-align: top; }
    </style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
`

const activityDetails = `
    <table class="details">
        <tr><td>Naam / Name</td><td>{{.Name}} / {{.NameEn}}</td></tr>
        <tr><td>Wanneer / When</td><td>{{.Begin}} - {{.End}}</td></tr>
        <tr><td>Waar / Where</td><td>{{.Location}}</td></tr>
        {{if .OrganName}}<tr><td>Orgaan / Organ</td><td>{{.OrganName}}</td></tr>{{end}}
        <tr><td>Door / By</td><td>{{.Requester}}</td></tr>
    </table>
    <p><a href="{{.URL}}" class="button">Bekijk / View</a></p>
`

const htmlFoot = `
    <div class="footer"><p>This message was sent automatically by {{.AppName}}.</p></div>
</body>
</html>`

const textDetails = `{{.Name}} / {{.NameEn}}
{{.Begin}} - {{.End}}, {{.Location}}
{{if .OrganName}}Organ: {{.OrganName}}
{{end}}By: {{.Requester}}
{{.URL}}
`

var activityCreatedTemplate = newMailTemplate("activity",
	htmlHead+`
    <h2>Nieuwe activiteit | New activity</h2>
    <p>Er is een nieuwe activiteit aangemaakt die goedgekeurd moet worden.<br>
    A new activity was created and awaits approval.</p>
`+activityDetails+htmlFoot,
	`A new activity was created and awaits approval.

`+textDetails)

var activityUpdatedTemplate = newMailTemplate("activity-updated",
	htmlHead+`
    <h2>Activiteit aangepast | Activity updated</h2>
    <p>Een activiteit is aangepast. | An activity was updated.</p>
    {{if .ChangedFields}}<p>Gewijzigd / Changed: {{range $i, $f := .ChangedFields}}{{if $i}}, {{end}}{{$f}}{{end}}</p>{{end}}
`+activityDetails+htmlFoot,
	`An activity was updated.
{{if .ChangedFields}}Changed: {{range $i, $f := .ChangedFields}}{{if $i}}, {{end}}{{$f}}{{end}}
{{end}}
`+textDetails)

var updateProposedTemplate = newMailTemplate("activity-update-proposed",
	htmlHead+`
    <h2>Aanpassingsvoorstel | Update proposed</h2>
    <p>Er is een aanpassing voorgesteld die goedgekeurd moet worden.<br>
    An update to an activity was proposed and awaits approval.</p>
    {{if .ChangedFields}}<p>Gewijzigd / Changed: {{range $i, $f := .ChangedFields}}{{if $i}}, {{end}}{{$f}}{{end}}</p>{{end}}
`+activityDetails+htmlFoot,
	`An update to an activity was proposed and awaits approval.
{{if .ChangedFields}}Changed: {{range $i, $f := .ChangedFields}}{{if $i}}, {{end}}{{$f}}{{end}}
{{end}}
`+textDetails)

var geflitstTemplate = newMailTemplate("geflitst",
	htmlHead+`
    <h2>Photographer requested</h2>
    <p>{{.Requester}} would like GEFLITST to take pictures at the following activity.</p>
`+activityDetails+htmlFoot,
	`{{.Requester}} would like GEFLITST to take pictures at the following activity.

`+textDetails)

var passwordResetTemplate = newMailTemplate("password-reset",
	htmlHead+`
    <h2>Password Reset Request</h2>
    <p>Hi {{.UserName}},</p>
    <p>We received a request to reset your password. Click the button below to create a new password:</p>
    <p><a href="{{.ResetURL}}" class="button">Reset Password</a></p>
    <p>This reset link will expire in 1 hour.</p>
`+htmlFoot,
	`Hi {{.UserName}},

Reset your password within 1 hour using this link:
{{.ResetURL}}
`)
