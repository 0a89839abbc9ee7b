package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
	_ "time/tzdata"
)

// Renderer turns domain data into subject and HTML body pairs.  Show times
// are formatted in Location.
type Renderer struct {
	Location *time.Location
}

// NewRenderer loads the named time zone, falling back to UTC.
func NewRenderer(zone string) Renderer {
	loc, err := time.LoadLocation(zone)
	if err != nil || zone == "" {
		loc = time.UTC
	}
	return Renderer{Location: loc}
}

// Confirmation is the data of a booking confirmation mail.
type Confirmation struct {
	UserName   string
	MovieTitle string
	ShowTime   time.Time
	Seats      []string
	Amount     string
	BookingID  string
}

// Reminder is the data of a show reminder mail.
type Reminder struct {
	UserName   string
	MovieTitle string
	ShowTime   time.Time
}

// NewShow is the data of a new-show announcement.
type NewShow struct {
	UserName   string
	MovieTitle string
}

var layouts = template.Must(template.New("mail").Funcs(template.FuncMap{
	"join": func(s []string) string {
		var b bytes.Buffer
		for i, v := range s {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(v)
		}
		return b.String()
	},
}).Parse(`
{{define "confirmation"}}<div style="font-family: Arial, Helvetica, sans-serif; padding: 20px;">
<h2>Hi {{.UserName}},</h2>
<p>Your booking for <strong style="color: #f84565;">"{{.MovieTitle}}"</strong> is confirmed.</p>
<p><strong>Date:</strong> {{.Date}}<br/><strong>Time:</strong> {{.Time}}</p>
{{if .Seats}}<p><strong>Seats:</strong> {{join .Seats}}</p>{{end}}
{{if .Amount}}<p><strong>Amount paid:</strong> {{.Amount}}</p>{{end}}
<p style="color: #888888; font-size: 12px;">Booking reference {{.BookingID}}</p>
<p>Enjoy the show!<br/>QuickShow Team</p>
</div>{{end}}
{{define "reminder"}}<div style="font-family: Arial, Helvetica, sans-serif; padding: 20px;">
<h2>Hello {{.UserName}},</h2>
<p>This is a quick reminder that your movie:</p>
<h3 style="color: #f84565;">"{{.MovieTitle}}"</h3>
<p>is scheduled for <strong>{{.Date}}</strong> at <strong>{{.Time}}</strong></p>
<p>It starts in approximately <strong>8 hours</strong> - make sure you're ready!</p>
<br/>
<p>Enjoy the show!<br/>QuickShow Team</p>
</div>{{end}}
{{define "new_show"}}<div style="font-family: Arial, Helvetica, sans-serif; padding: 20px;">
<h2>Hi {{.UserName}},</h2>
<p>We've just added a new show to our library:</p>
<h3 style="color: #f84565;">"{{.MovieTitle}}"</h3>
<p>Visit our website</p>
<br/>
<p>Thanks,<br/>QuickShow Team</p>
</div>{{end}}
`))

// Localized is a show time formatted for display.
type Localized struct {
	Date, Time string
}

func (r Renderer) when(t time.Time) Localized {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return Localized{Date: lt.Format("1/2/2006"), Time: lt.Format("3:04:05 PM")}
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := layouts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Confirmation renders a booking confirmation.
func (r Renderer) Confirmation(c Confirmation) (subject, body string, err error) {
	subject = fmt.Sprintf("Payment Confirmation: \"%s\" booked!", c.MovieTitle)
	body, err = render("confirmation", struct {
		Confirmation
		Localized
	}{c, r.when(c.ShowTime)})
	return subject, body, err
}

// Reminder renders a show reminder.
func (r Renderer) Reminder(m Reminder) (subject, body string, err error) {
	subject = fmt.Sprintf("Reminder: Your movie \"%s\" starts soon!", m.MovieTitle)
	body, err = render("reminder", struct {
		Reminder
		Localized
	}{m, r.when(m.ShowTime)})
	return subject, body, err
}

// NewShow renders a new-show announcement.
func (r Renderer) NewShow(n NewShow) (subject, body string, err error) {
	subject = "New Show Added: " + n.MovieTitle
	body, err = render("new_show", n)
	return subject, body, err
}
