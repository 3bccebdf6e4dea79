package dispatch

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/ignatij/seqflow/pkg/models"
	"github.com/pkg/errors"
)

// DiscordSender is the part of *discordgo.Session used for delivery.
type DiscordSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// NewDiscordSession opens a bot session from a bot token.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "create discord session")
	}
	return session, nil
}

// DiscordBotDispatcher delivers Discord steps with a bot account instead of
// the relay. Channels are Discord channel ids.
type DiscordBotDispatcher struct {
	Sender         DiscordSender
	DefaultChannel string
}

func (d *DiscordBotDispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	cfg, err := configOf[models.DiscordConfig](req)
	if err != nil {
		return "", err
	}
	channel := firstNonEmpty(cfg.Channel, d.DefaultChannel)
	if channel == "" {
		return "", configError("channel", "Discord channel is required")
	}
	if _, err := d.Sender.ChannelMessageSend(channel, cfg.Message, discordgo.WithContext(ctx)); err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil {
			return "", &DispatchError{
				Action:     "discord_message",
				StatusCode: restErr.Response.StatusCode,
				Body:       string(restErr.ResponseBody),
				Err:        err,
			}
		}
		return "", &DispatchError{Action: "discord_message", Err: err}
	}
	return "Discord message sent to " + channel, nil
}
