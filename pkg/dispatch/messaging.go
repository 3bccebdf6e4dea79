package dispatch

import (
	"context"
	"strings"

	"github.com/ignatij/seqflow/pkg/models"
)

type textPayload struct {
	ActionType string `json:"action_type"`
	Phone      string `json:"phone"`
	Message    string `json:"message"`
}

type emailPayload struct {
	ActionType string `json:"action_type"`
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Message    string `json:"message"`
}

type channelPayload struct {
	ActionType string `json:"action_type"`
	Channel    string `json:"channel"`
	Message    string `json:"message"`
}

// TextDispatcher sends SMS through the text relay.
type TextDispatcher struct {
	Endpoint string
	Relay    *Relay
}

func (d *TextDispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	cfg, err := configOf[models.TextConfig](req)
	if err != nil {
		return "", err
	}
	phone := NormalizePhone(cfg.Phone)
	if phone == "" {
		return "", configError("phone", "Phone number is required")
	}
	if d.Endpoint == "" {
		return "", configError("endpoint", "No text relay endpoint configured")
	}
	payload := textPayload{ActionType: "send_text", Phone: phone, Message: cfg.Message}
	if _, err := d.Relay.Post(ctx, "send_text", d.Endpoint, payload); err != nil {
		return "", err
	}
	return "Text sent to " + phone, nil
}

// EmailDispatcher sends email through the email relay.
type EmailDispatcher struct {
	Endpoint string
	Relay    *Relay
}

func (d *EmailDispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	cfg, err := configOf[models.EmailConfig](req)
	if err != nil {
		return "", err
	}
	to := strings.TrimSpace(cfg.To)
	if to == "" {
		return "", configError("to", "Recipient email is required")
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		return "", configError("subject", "Email subject is required")
	}
	if d.Endpoint == "" {
		return "", configError("endpoint", "No email relay endpoint configured")
	}
	payload := emailPayload{ActionType: "send_email", To: to, Subject: cfg.Subject, Message: cfg.Message}
	if _, err := d.Relay.Post(ctx, "send_email", d.Endpoint, payload); err != nil {
		return "", err
	}
	return "Email sent to " + to, nil
}

// SlackDispatcher posts to a Slack channel through the Slack relay.
type SlackDispatcher struct {
	Endpoint       string
	Relay          *Relay
	DefaultChannel string
}

func (d *SlackDispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	cfg, err := configOf[models.SlackConfig](req)
	if err != nil {
		return "", err
	}
	channel := firstNonEmpty(cfg.Channel, d.DefaultChannel)
	if channel == "" {
		return "", configError("channel", "Slack channel is required")
	}
	if d.Endpoint == "" {
		return "", configError("endpoint", "No Slack relay endpoint configured")
	}
	payload := channelPayload{ActionType: "slack_message", Channel: channel, Message: cfg.Message}
	if _, err := d.Relay.Post(ctx, "slack_message", d.Endpoint, payload); err != nil {
		return "", err
	}
	return "Slack message sent to " + channel, nil
}

// DiscordDispatcher posts to a Discord channel through the Discord relay.
type DiscordDispatcher struct {
	Endpoint       string
	Relay          *Relay
	DefaultChannel string
}

func (d *DiscordDispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	cfg, err := configOf[models.DiscordConfig](req)
	if err != nil {
		return "", err
	}
	channel := firstNonEmpty(cfg.Channel, d.DefaultChannel)
	if channel == "" {
		return "", configError("channel", "Discord channel is required")
	}
	if d.Endpoint == "" {
		return "", configError("endpoint", "No Discord relay endpoint configured")
	}
	payload := channelPayload{ActionType: "discord_message", Channel: channel, Message: cfg.Message}
	if _, err := d.Relay.Post(ctx, "discord_message", d.Endpoint, payload); err != nil {
		return "", err
	}
	return "Discord message sent to " + channel, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
