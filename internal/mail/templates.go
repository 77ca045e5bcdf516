package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	SubjectNewsletterWelcome = "Welcome to Nicole's Newsletter! 🎉"
	SubjectPostApproved      = "Your post has been approved"
	SubjectPostRejected      = "Feedback on your post submission"
)

// WelcomeData fills the registration email.
type WelcomeData struct {
	Name     string
	Email    string
	Headline string
	TrialEnd string
	SiteURL  string
}

type NewsletterData struct {
	Name    string
	SiteURL string
}

type ContactData struct {
	Name       string
	Email      string
	Message    string
	ReceivedAt string
}

type PostReviewedData struct {
	AuthorName string
	Title      string
	Approved   bool
	Reason     string
	PostURL    string
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("mail: rendering %s: %w", name, err)
	}
	return buf.String(), nil
}

// Welcome builds the account welcome email. subject doubles as the
// role-specific headline shown in the API response.
func Welcome(to, subject string, data WelcomeData) (Message, error) {
	data.Email = to
	if data.Headline == "" {
		data.Headline = subject
	}
	html, err := render("welcome", data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: []string{to}, Subject: subject, HTML: html}, nil
}

func NewsletterWelcome(to string, data NewsletterData) (Message, error) {
	html, err := render("newsletter_welcome", data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: []string{to}, Subject: SubjectNewsletterWelcome, HTML: html}, nil
}

// ContactNotification is addressed to the site owner; replying goes
// straight back to whoever filled in the form.
func ContactNotification(owner string, data ContactData, at time.Time) (Message, error) {
	data.ReceivedAt = at.UTC().Format(time.RFC1123)
	html, err := render("contact_notification", data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      []string{owner},
		Subject: "New contact form message from " + data.Name,
		HTML:    html,
		ReplyTo: data.Email,
	}, nil
}

func PostReviewed(to string, data PostReviewedData) (Message, error) {
	html, err := render("post_reviewed", data)
	if err != nil {
		return Message{}, err
	}
	subject := SubjectPostRejected
	if data.Approved {
		subject = SubjectPostApproved
	}
	return Message{To: []string{to}, Subject: subject, HTML: html}, nil
}
