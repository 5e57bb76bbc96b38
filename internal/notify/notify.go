// Package notify renders and delivers registration and vote notifications.
package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/institution-ratings/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// ErrNoRecipient is returned when a message has nobody to deliver to.
var ErrNoRecipient = errors.New("notify: no recipient")

// Message is a rendered e-mail ready for a Sender.
type Message struct {
	From        string   `json:"from"`
	FromName    string   `json:"fromName,omitempty"`
	To          []string `json:"to"`
	Bcc         []string `json:"bcc,omitempty"`
	ReplyTo     string   `json:"replyTo,omitempty"`
	ReplyToName string   `json:"replyToName,omitempty"`
	Subject     string   `json:"subject"`
	HTML        string   `json:"html"`
}

// Sender delivers a rendered message over some transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Options configures a Mailer.
type Options struct {
	From     string
	FromName string
	// AdminAddress receives registration notices.
	AdminAddress string
	// VoteOverride, when set, receives vote notices instead of the institution.
	VoteOverride  string
	Bcc           []string
	Criteria      domain.CriteriaSet
	ScoreboardURL string
	Timeout       time.Duration
	Logger        *log.Logger
	Now           func() time.Time
}

// Mailer turns domain events into messages and hands them to a Sender.
type Mailer struct {
	sender Sender
	opts   Options
}

// NewMailer constructs a Mailer.
func NewMailer(sender Sender, opts Options) *Mailer {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if len(opts.Criteria) == 0 {
		opts.Criteria = domain.DefaultCriteria
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Mailer{sender: sender, opts: opts}
}

// InstitutionRegistered notifies the platform administrator.
func (m *Mailer) InstitutionRegistered(ctx context.Context, inst domain.Institution) error {
	msg, err := m.RegistrationMessage(inst)
	if err != nil {
		return err
	}
	return m.send(ctx, msg)
}

// VoteRecorded notifies the rated institution.
func (m *Mailer) VoteRecorded(ctx context.Context, receipt domain.VoteReceipt) error {
	msg, err := m.VoteMessage(receipt)
	if err != nil {
		return err
	}
	return m.send(ctx, msg)
}

// RegistrationMessage renders the administrator notice for a new institution.
func (m *Mailer) RegistrationMessage(inst domain.Institution) (Message, error) {
	body, err := render("registration.html", struct{ Institution domain.Institution }{inst})
	if err != nil {
		return Message{}, err
	}
	msg := m.base()
	if m.opts.AdminAddress != "" {
		msg.To = []string{m.opts.AdminAddress}
	}
	msg.ReplyTo = inst.Email
	msg.ReplyToName = inst.Name
	msg.Subject = "New institution added: " + inst.Name
	msg.HTML = body
	return msg, nil
}

type voteRow struct {
	Label string
	Value int
	Stars string
}

// VoteMessage renders the institution notice for a recorded vote.
func (m *Mailer) VoteMessage(receipt domain.VoteReceipt) (Message, error) {
	rows := make([]voteRow, 0, len(receipt.Ratings))
	for _, r := range receipt.Ratings {
		rows = append(rows, voteRow{Label: m.opts.Criteria.Label(r.Key), Value: r.Value, Stars: Stars(r.Value)})
	}
	var commentLines []string
	if receipt.Comment != nil {
		commentLines = strings.Split(*receipt.Comment, "\n")
	}

	data := struct {
		Institution   domain.Institution
		Score         string
		VoteCount     int64
		Rows          []voteRow
		Comment       bool
		CommentLines  []string
		ScoreboardURL string
		Year          int
	}{
		Institution:   receipt.Institution,
		Score:         FormatScore(receipt.Scores.AverageScore),
		VoteCount:     receipt.Scores.VoteCount,
		Rows:          rows,
		Comment:       receipt.Comment != nil,
		CommentLines:  commentLines,
		ScoreboardURL: m.opts.ScoreboardURL,
		Year:          m.opts.Now().Year(),
	}
	body, err := render("vote.html", data)
	if err != nil {
		return Message{}, err
	}

	msg := m.base()
	if m.opts.VoteOverride != "" {
		msg.To = []string{m.opts.VoteOverride}
	} else if receipt.Institution.Email != "" {
		msg.To = []string{receipt.Institution.Email}
	}
	msg.Subject = "New review for your institution"
	if receipt.Comment != nil {
		msg.Subject = "New review (with comment) for your institution"
	}
	msg.HTML = body
	return msg, nil
}

func (m *Mailer) base() Message {
	return Message{
		From:     m.opts.From,
		FromName: m.opts.FromName,
		Bcc:      append([]string(nil), m.opts.Bcc...),
	}
}

func (m *Mailer) send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipient
	}
	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %q: %w", msg.Subject, err)
	}
	m.opts.Logger.Printf("notify: sent %q to %s", msg.Subject, strings.Join(msg.To, ", "))
	return nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Stars renders a 1..5 rating as filled and empty stars.
func Stars(value int) string {
	if value < 0 {
		value = 0
	}
	if value > domain.MaxRating {
		value = domain.MaxRating
	}
	return strings.Repeat("⭐", value) + strings.Repeat("⚪", domain.MaxRating-value)
}

// FormatScore prints a 0..100 score with one decimal and a comma separator.
func FormatScore(score *float64) string {
	if score == nil {
		return "–"
	}
	return strings.Replace(decimal.NewFromFloat(*score).StringFixed(1), ".", ",", 1)
}
