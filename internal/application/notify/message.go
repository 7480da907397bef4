package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/garyjia/payment-approval/internal/application/port"
)

// TemplateData is the view a message template is rendered against
type TemplateData struct {
	InstanceID       string
	NodeID           string
	NodeLabel        string
	RequesterName    string
	OrganizationName string
	Amount           float64
	Currency         string
	Category         string
	Description      string
	Status           string
	Reason           string
	DecidedBy        string
	Comments         string
	Waiting          time.Duration
	Reminder         int
}

// Render executes tmpl against data. An empty or broken template yields fallback.
func Render(tmpl string, data TemplateData, fallback string) string {
	if tmpl == "" {
		return fallback
	}
	t, err := template.New("message").Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return fallback
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return fallback
	}
	return buf.String()
}

func summary(d TemplateData) string {
	return fmt.Sprintf("%s %.2f %s (%s) requested by %s", d.Category, d.Amount, d.Currency, d.Description, d.RequesterName)
}

// ApprovalRequest asks an approver to decide on a node
func ApprovalRequest(tmpl string, d TemplateData) port.Notification {
	return port.Notification{
		Intent:     port.IntentApprovalRequest,
		InstanceID: d.InstanceID,
		NodeID:     d.NodeID,
		Subject:    fmt.Sprintf("Approval required: %s", d.NodeLabel),
		Body:       Render(tmpl, d, fmt.Sprintf("Please review payment request: %s.", summary(d))),
	}
}

// Reminder re-sends an approval request with the time it has been waiting
func Reminder(tmpl string, d TemplateData) port.Notification {
	base := Render(tmpl, d, fmt.Sprintf("Please review payment request: %s.", summary(d)))
	return port.Notification{
		Intent:     port.IntentReminder,
		InstanceID: d.InstanceID,
		NodeID:     d.NodeID,
		Subject:    fmt.Sprintf("Reminder #%d: approval pending for %s", d.Reminder, d.NodeLabel),
		Body:       fmt.Sprintf("%s\nWaiting for a decision for %s.", base, d.Waiting.Round(time.Minute)),
	}
}

// StatusUpdate is the message of a notify node
func StatusUpdate(tmpl string, d TemplateData) port.Notification {
	return port.Notification{
		Intent:     port.IntentStatusUpdate,
		InstanceID: d.InstanceID,
		NodeID:     d.NodeID,
		Subject:    fmt.Sprintf("Payment request update: %s", d.NodeLabel),
		Body:       Render(tmpl, d, fmt.Sprintf("Payment request %s is in progress.", summary(d))),
	}
}

// FinalStatus announces that an instance has been processed, rejected or has failed
func FinalStatus(d TemplateData) port.Notification {
	body := fmt.Sprintf("Payment request %s has been %s.", summary(d), d.Status)
	if d.DecidedBy != "" {
		body += fmt.Sprintf(" Decided by %s.", d.DecidedBy)
	}
	if d.Comments != "" {
		body += fmt.Sprintf(" Comments: %s", d.Comments)
	}
	if d.Reason != "" {
		body += fmt.Sprintf(" Reason: %s", d.Reason)
	}
	return port.Notification{
		Intent:     port.IntentFinalStatus,
		InstanceID: d.InstanceID,
		NodeID:     d.NodeID,
		Subject:    fmt.Sprintf("Payment request %s", d.Status),
		Body:       body,
	}
}
