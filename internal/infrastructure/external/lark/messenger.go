package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// ErrNoAddress is returned when a recipient has neither a Lark open_id nor an email
var ErrNoAddress = errors.New("recipient has no lark open_id or email")

// MessageAPI is the part of the Lark client used by Messenger
type MessageAPI interface {
	SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)
}

// Messenger implements port.NotificationSender over Lark IM text messages.
// Recipients are addressed by open_id, falling back to email.
type Messenger struct {
	api    MessageAPI
	logger *zap.Logger
}

// NewMessenger creates a new Lark notification sender
func NewMessenger(api MessageAPI, logger *zap.Logger) *Messenger {
	return &Messenger{
		api:    api,
		logger: logger,
	}
}

var _ port.NotificationSender = (*Messenger)(nil)

// Send delivers n to recipient as a text message
func (m *Messenger) Send(ctx context.Context, recipient *entity.User, n port.Notification) error {
	if recipient == nil {
		return fmt.Errorf("recipient cannot be nil")
	}

	idType, id := address(recipient)
	if id == "" {
		return fmt.Errorf("%w: %s", ErrNoAddress, recipient.ID)
	}

	content, err := textContent(n)
	if err != nil {
		return err
	}

	messageID, err := m.api.SendMessage(ctx, idType, id, "text", content)
	if err != nil {
		return fmt.Errorf("failed to notify %s: %w", recipient.ID, err)
	}

	m.logger.Info("Lark notification sent",
		zap.String("instance_id", n.InstanceID),
		zap.String("intent", string(n.Intent)),
		zap.String("recipient_id", recipient.ID),
		zap.String("message_id", messageID))
	return nil
}

func address(u *entity.User) (string, string) {
	if u.LarkOpenID != "" {
		return "open_id", u.LarkOpenID
	}
	if u.Email != "" {
		return "email", u.Email
	}
	return "", ""
}

// textContent builds the content of a Lark text message
func textContent(n port.Notification) (string, error) {
	text := n.Body
	if n.Subject != "" {
		text = strings.TrimSpace(n.Subject + "\n\n" + n.Body)
	}
	if text == "" {
		return "", fmt.Errorf("notification has no content")
	}

	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message content: %w", err)
	}
	return string(data), nil
}

// LogSender implements port.NotificationSender by logging each message.
// It is used when Lark delivery is disabled.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a sender that only logs
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

var _ port.NotificationSender = (*LogSender)(nil)

// Send logs the notification and reports success
func (s *LogSender) Send(_ context.Context, recipient *entity.User, n port.Notification) error {
	if recipient == nil {
		return fmt.Errorf("recipient cannot be nil")
	}
	s.logger.Info("Notification",
		zap.String("instance_id", n.InstanceID),
		zap.String("node_id", n.NodeID),
		zap.String("intent", string(n.Intent)),
		zap.String("recipient_id", recipient.ID),
		zap.String("subject", n.Subject))
	return nil
}
