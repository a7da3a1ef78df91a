package overlay

import "github.com/onnwee/stream-herald/notify"

// Payload is the JSON message rendered by overlay clients.
type Payload struct {
	Type                     int     `json:"type"`
	MessageDisplayed         string  `json:"message_displayed,omitempty"`
	MessageDisplayedPosition [2]int  `json:"message_displayed_position"`
	PlayedSound              string  `json:"played_sound,omitempty"`
	SoundVolume              float64 `json:"sound_volume,omitempty"`
	PlayedVideo              string  `json:"played_video,omitempty"`
	VideoVolume              float64 `json:"video_volume,omitempty"`
	VideoPosition            [2]int  `json:"video_position"`
	VideoSize                [2]int  `json:"video_size"`
}

// FromNotification maps a notification to its wire payload.
func FromNotification(n notify.Notification) Payload {
	return Payload{
		Type:                     int(n.Type),
		MessageDisplayed:         n.DisplayText,
		MessageDisplayedPosition: n.DisplayPos,
		PlayedSound:              n.Sound,
		SoundVolume:              n.SoundVolume,
		PlayedVideo:              n.Video,
		VideoVolume:              n.VideoVolume,
		VideoPosition:            n.VideoPos,
		VideoSize:                n.VideoSize,
	}
}
