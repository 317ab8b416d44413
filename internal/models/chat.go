// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package models defines the data structures shared across the relay service.
package models

import "time"

// Role attributes a conversation turn to its author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleOwner     Role = "owner"
)

// SourceMeta describes where a user turn came from. Every field is optional.
type SourceMeta struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	PageURL   string `json:"page_url,omitempty"`
}

// Turn is one immutable message in a conversation.
type Turn struct {
	ID        int64      `json:"id"`
	SessionID string     `json:"session_id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Source    SourceMeta `json:"source"`

	// Author is the display name an owner chose for a direct reply.
	Author string `json:"author,omitempty"`

	ForwardedEmail bool      `json:"forwarded_email"`
	ForwardedSMS   bool      `json:"forwarded_sms"`
	CreatedAt      time.Time `json:"created_at"`
}

// ForwardFlags annotates a session with the channels that carried a notification.
type ForwardFlags struct {
	Email bool
	SMS   bool
}

// Channel identifies the inbound path an owner reply arrived on.
type Channel string

const (
	ChannelSMS          Channel = "sms"
	ChannelEmailPush    Channel = "email-push"
	ChannelEmailPoll    Channel = "email-poll"
	ChannelEmailWebhook Channel = "email-webhook"
	ChannelDirect       Channel = "direct"
)

// IsEmail reports whether replies on c come from an email mailbox.
func (c Channel) IsEmail() bool {
	return c == ChannelEmailPush || c == ChannelEmailPoll || c == ChannelEmailWebhook
}

// SenderKind tells the authenticator how to compare an identity.
type SenderKind string

const (
	SenderPhone SenderKind = "phone"
	SenderEmail SenderKind = "email"
	SenderNone  SenderKind = "none"
)

// InboundReply is the channel-neutral form of an owner reply.
type InboundReply struct {
	Channel        Channel
	SenderIdentity string
	SenderKind     SenderKind
	RawBody        string
	ReceivedAt     time.Time

	// SessionHint is a session id the adapter already extracted from
	// subject or body markers. When set, RawBody is the reply text as-is.
	SessionHint string

	// DeferLast asks the router to reply into the most recent session.
	DeferLast bool

	// TransportID is the gateway's own id for the message (MessageSid,
	// Message-ID). Used to drop retries within one channel.
	TransportID string

	// Sender is an optional display name supplied by a direct reply.
	Sender string
}

// Attachment is a file carried by an outbound email.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// OutboundEmail is a notification email ready for a transport.
type OutboundEmail struct {
	To          []string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}
