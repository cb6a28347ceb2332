package notify

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Discord posts protocol events to a moderation channel.
type Discord struct {
	session   *discordgo.Session
	channelID string
}

func NewDiscord(token, channelID string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	if err := session.Open(); err != nil {
		return nil, err
	}
	return &Discord{session: session, channelID: channelID}, nil
}

func (d *Discord) Notify(event string, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**", event)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}

	if _, err := d.session.ChannelMessageSend(d.channelID, b.String()); err != nil {
		log.Printf("notify: discord send failed: %v", err)
	}
}

func (d *Discord) Close() error {
	return d.session.Close()
}
