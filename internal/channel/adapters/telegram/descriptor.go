// Package telegram implements the Telegram channel adapter on the Bot API.
package telegram

import "github.com/jvkabum/vue3-izing-sub001/internal/channel"

// Type is the registered channel type for Telegram.
const Type = channel.TypeTelegram

const maxTextLength = 4096

func descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Telegram",
		Capabilities: channel.Capabilities{
			Text:   true,
			Media:  true,
			Reply:  true,
			Unsend: true,
		},
		MaxTextLength: maxTextLength,
		// Bot API allows about 30 messages per second per bot.
		SendRate:  25,
		SendBurst: 30,
	}
}
