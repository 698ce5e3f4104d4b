package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/kentyler/cogito-sub006/internal/notify"
)

const alertColor = 0xE67E22

// Notifier posts stuck-bot alerts to one channel over the REST API. It never
// opens a gateway connection.
type Notifier struct {
	session   *discordgo.Session
	channelID string
}

func NewNotifier(token, channelID string) (*Notifier, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &Notifier{session: s, channelID: channelID}, nil
}

func (n *Notifier) NotifyStuck(ctx context.Context, alert notify.StuckAlert) error {
	bot := alert.Bot
	meeting := bot.MeetingName
	if meeting == "" {
		meeting = bot.MeetingURL
	}
	_, err := n.session.ChannelMessageSendComplex(n.channelID, &discordgo.MessageSend{
		Content: fmt.Sprintf(":warning: **Bot stuck in %s**", meeting),
		Embeds: []*discordgo.MessageEmbed{
			{
				Title:     "Stuck meeting bot",
				Color:     alertColor,
				Timestamp: bot.LastTransitionAt.UTC().Format(time.RFC3339),
				Fields: []*discordgo.MessageEmbedField{
					{Name: "Bot ID", Value: bot.ID, Inline: true},
					{Name: "Provider bot ID", Value: valueOrDash(bot.ProviderBotID), Inline: true},
					{Name: "State", Value: string(bot.State), Inline: true},
					{Name: "Idle for", Value: alert.Idle.Round(time.Second).String(), Inline: true},
					{Name: "Threshold", Value: alert.Threshold.String(), Inline: true},
					{Name: "Meeting URL", Value: valueOrDash(bot.MeetingURL)},
				},
			},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		if isRESTStatus(err, http.StatusForbidden) || isRESTStatus(err, http.StatusNotFound) {
			return fmt.Errorf("alert channel %s is not writable: %w", n.channelID, err)
		}
		return err
	}
	return nil
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func isRESTStatus(err error, status int) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == status
}
