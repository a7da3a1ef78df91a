package irc

import "strings"

// Badge is the coarse role of a chat participant, derived from the badges tag.
type Badge string

const (
	BadgeStreamer   Badge = "STREAMER"
	BadgeModerator  Badge = "MODERATOR"
	BadgeSubscriber Badge = "SUBSCRIBER"
	BadgeVIP        Badge = "VIP"
	BadgeNone       Badge = "NONE"
)

// badgePriority is checked in order; the first token found in the badges tag wins.
var badgePriority = []struct {
	token string
	badge Badge
}{
	{"broadcaster", BadgeStreamer},
	{"moderator", BadgeModerator},
	{"subscriber", BadgeSubscriber},
	{"vip", BadgeVIP},
}

// Tags is the key/value metadata parsed from a frame's tag header.
// Duplicate keys on the wire resolve to the first occurrence.
type Tags map[string]string

// ParseTags tokenizes a tag header on ';' and ' ' delimiters into key=value
// pairs. Tokens without '=' (such as the source prefix) are skipped, and
// unrecognized keys are carried but ignored downstream.
func ParseTags(header string) Tags {
	tags := make(Tags)
	header = strings.TrimPrefix(header, "@")
	for _, tok := range strings.FieldsFunc(header, func(r rune) bool { return r == ';' || r == ' ' }) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok || k == "" {
			continue
		}
		if _, exists := tags[k]; !exists {
			tags[k] = v
		}
	}
	return tags
}

// Metadata is the structured view of one frame's tags. Every field is
// recomputed from scratch per frame; absence yields the zero value, which is
// meaningful (empty Bits means "not a cheer").
type Metadata struct {
	Badge          Badge
	DisplayName    string
	UserID         string
	MessageID      string
	CustomRewardID string
	Bits           string
	SubEventID     string
}

// MetadataFrom derives Metadata from a tag map.
func MetadataFrom(tags Tags) Metadata {
	return Metadata{
		Badge:          badgeFrom(tags["badges"]),
		DisplayName:    tags["display-name"],
		UserID:         tags["user-id"],
		MessageID:      tags["id"],
		CustomRewardID: tags["custom-reward-id"],
		Bits:           tags["bits"],
		SubEventID:     tags["msg-id"],
	}
}

func badgeFrom(badges string) Badge {
	if badges == "" {
		return BadgeNone
	}
	for _, p := range badgePriority {
		if strings.Contains(badges, p.token) {
			return p.badge
		}
	}
	return BadgeNone
}
