package delivery

import (
	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/tgrelay/internal/bus"
)

// Webhook payload limits enforced by the target platform.
const (
	MaxUsernameRunes    = 80
	MaxContentRunes     = 2000
	MaxEmbeds           = 10
	MaxDescriptionRunes = 4096
)

// Payload is the JSON body posted to a webhook endpoint.
type Payload struct {
	Username  string                    `json:"username"`
	AvatarURL string                    `json:"avatar_url,omitempty"`
	Content   string                    `json:"content,omitempty"`
	Embeds    []*discordgo.MessageEmbed `json:"embeds,omitempty"`
}

// BuildPayload assembles the outbound payload of one relayed message. When
// media is attached the text becomes the embed description and content is
// left empty.
func BuildPayload(displayName, avatarURL, text, mediaURL string) Payload {
	if displayName == "" {
		displayName = bus.UnknownUser
	}
	p := Payload{Username: displayName, AvatarURL: avatarURL}
	if mediaURL == "" {
		p.Content = text
		return p
	}
	p.Embeds = []*discordgo.MessageEmbed{{
		Image:       &discordgo.MessageEmbedImage{URL: mediaURL},
		Description: text,
	}}
	return p
}

// Empty reports whether the payload carries nothing to display.
func (p Payload) Empty() bool {
	return p.Content == "" && len(p.Embeds) == 0
}

// Clamp returns a copy of p truncated to the platform limits.
func (p Payload) Clamp() Payload {
	p.Username = truncateRunes(p.Username, MaxUsernameRunes)
	p.Content = truncateRunes(p.Content, MaxContentRunes)
	if len(p.Embeds) > MaxEmbeds {
		p.Embeds = p.Embeds[:MaxEmbeds]
	}
	if len(p.Embeds) > 0 {
		embeds := make([]*discordgo.MessageEmbed, 0, len(p.Embeds))
		for _, e := range p.Embeds {
			if e == nil {
				continue
			}
			c := *e
			c.Description = truncateRunes(c.Description, MaxDescriptionRunes)
			embeds = append(embeds, &c)
		}
		p.Embeds = embeds
	}
	return p
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
