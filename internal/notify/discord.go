package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// discordSender is the slice of the discordgo session the sink needs
type discordSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink posts reminders to one Discord channel
type DiscordSink struct {
	session   discordSender
	channelID string
}

// NewDiscordSink creates a REST-only session; no gateway connection is opened
func NewDiscordSink(token, channelID string) (*DiscordSink, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("discord token and channel id are required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return &DiscordSink{session: session, channelID: channelID}, nil
}

func (s *DiscordSink) Name() string { return "discord" }

func (s *DiscordSink) Send(ctx context.Context, c Content) error {
	_, err := s.session.ChannelMessageSend(s.channelID, "**"+c.Title+"**\n"+c.Body, discordgo.WithContext(ctx))
	return err
}
