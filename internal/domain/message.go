package domain

import "time"

// ChannelMessage is the normalized inbound message every adapter produces.
// It is a value type: adapters hand a copy to the inbox and keep nothing.
type ChannelMessage struct {
	ID          string    `json:"id"`
	ChannelName string    `json:"channelName"`
	SenderID    string    `json:"senderId"`
	ReplyTo     string    `json:"replyTo,omitempty"`
	Text        string    `json:"text"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// Recipient returns the identifier a reply should be sent to. Adapters set
// ReplyTo when the conversation (group chat, channel) differs from the sender.
func (m ChannelMessage) Recipient() string {
	if m.ReplyTo != "" {
		return m.ReplyTo
	}
	return m.SenderID
}
