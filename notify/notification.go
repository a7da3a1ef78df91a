// Package notify holds the notification model and the single-flight queue
// that feeds display events to the overlay, one at a time.
package notify

import (
	"fmt"
	"time"
)

// Type tags the notification variant.
type Type int

const (
	TypeNone Type = iota
	TypeFollow
	TypeSubscription
	TypeSubscriptionExtended
	TypeSubscriptionGift
	TypeSubscriptionGiftReceived
	TypeBits
	TypeRaid
	TypeChannelPointRedemption
)

var typeNames = map[Type]string{
	TypeNone:                     "none",
	TypeFollow:                   "follow",
	TypeSubscription:             "subscription",
	TypeSubscriptionExtended:     "subscription_extended",
	TypeSubscriptionGift:         "subscription_gift",
	TypeSubscriptionGiftReceived: "subscription_gift_received",
	TypeBits:                     "bits",
	TypeRaid:                     "raid",
	TypeChannelPointRedemption:   "channel_point_redemption",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "unknown"
}

// Position is an x,y coordinate on the overlay.
type Position [2]int

// Size is a width,height pair.
type Size [2]int

// Notification is one display event. Immutable once enqueued; after playback
// it is retained in the queue's bounded history for diagnostics.
type Notification struct {
	Type Type `json:"type"`

	// ChatText, when set, is echoed to chat on dispatch.
	ChatText string `json:"chat_text,omitempty"`

	DisplayText string   `json:"display_text,omitempty"`
	DisplayPos  Position `json:"display_pos"`

	Sound       string  `json:"sound,omitempty"`
	SoundVolume float64 `json:"sound_volume,omitempty"`

	Video       string   `json:"video,omitempty"`
	VideoVolume float64  `json:"video_volume,omitempty"`
	VideoPos    Position `json:"video_pos"`
	VideoSize   Size     `json:"video_size"`

	QueuedAt time.Time `json:"queued_at"`
}

// NewFollow builds the follow notification.
func NewFollow(userName string) Notification {
	return Notification{
		Type:        TypeFollow,
		DisplayText: fmt.Sprintf("New follower %s!", userName),
		DisplayPos:  Position{100, 200},
		Sound:       "follow_sound",
		SoundVolume: 1.0,
		QueuedAt:    time.Now().UTC(),
	}
}

// NewSubscription builds the new-sub notification.
func NewSubscription(userName string) Notification {
	return Notification{
		Type:        TypeSubscription,
		ChatText:    fmt.Sprintf("Thank you %s for subscribing!", userName),
		DisplayText: fmt.Sprintf("%s subscribed!", userName),
		DisplayPos:  Position{100, 200},
		Sound:       "sub_sound",
		SoundVolume: 1.0,
		QueuedAt:    time.Now().UTC(),
	}
}

// NewSubscriptionExtended builds the resub notification.
func NewSubscriptionExtended(userName string, months int) Notification {
	return Notification{
		Type:        TypeSubscriptionExtended,
		DisplayText: fmt.Sprintf("%s resubscribed (%d months)!", userName, months),
		DisplayPos:  Position{100, 200},
		Sound:       "sub_sound",
		SoundVolume: 1.0,
		QueuedAt:    time.Now().UTC(),
	}
}

// NewSubscriptionGift builds the gifter-side notification.
func NewSubscriptionGift(userName string, count int) Notification {
	text := fmt.Sprintf("%s gifted a sub!", userName)
	if count > 1 {
		text = fmt.Sprintf("%s gifted %d subs!", userName, count)
	}
	return Notification{
		Type:        TypeSubscriptionGift,
		DisplayText: text,
		DisplayPos:  Position{100, 200},
		Sound:       "gift_sound",
		SoundVolume: 1.0,
		QueuedAt:    time.Now().UTC(),
	}
}

// NewSubscriptionGiftReceived builds the recipient-side notification.
func NewSubscriptionGiftReceived(userName string) Notification {
	return Notification{
		Type:        TypeSubscriptionGiftReceived,
		DisplayText: fmt.Sprintf("%s received a gift sub!", userName),
		DisplayPos:  Position{100, 200},
		Sound:       "gift_sound",
		SoundVolume: 1.0,
		QueuedAt:    time.Now().UTC(),
	}
}

// NewBits builds the cheer notification.
func NewBits(userName string, amount int) Notification {
	return Notification{
		Type:        TypeBits,
		DisplayText: fmt.Sprintf("%s cheered %d bits!", userName, amount),
		DisplayPos:  Position{100, 200},
		Sound:       "bits_sound",
		SoundVolume: 1.0,
		QueuedAt:    time.Now().UTC(),
	}
}

// NewRaid builds the raid notification.
func NewRaid(userName string, viewers int) Notification {
	return Notification{
		Type:        TypeRaid,
		ChatText:    fmt.Sprintf("Welcome raiders from %s!", userName),
		DisplayText: fmt.Sprintf("%s raided with %d viewers!", userName, viewers),
		DisplayPos:  Position{100, 200},
		Sound:       "raid_sound",
		SoundVolume: 1.0,
		QueuedAt:    time.Now().UTC(),
	}
}

// NewRedemption builds the channel-point redemption notification.
func NewRedemption(userName, reward string) Notification {
	return Notification{
		Type:        TypeChannelPointRedemption,
		DisplayText: fmt.Sprintf("%s redeemed %s!", userName, reward),
		DisplayPos:  Position{100, 200},
		Sound:       "redeem_sound",
		SoundVolume: 1.0,
		QueuedAt:    time.Now().UTC(),
	}
}
