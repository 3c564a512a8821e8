package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlaceholderAvatar is a transparent 1x1 gif used when a producer supplies
// no avatar URL.
const PlaceholderAvatar = "data:image/gif;base64,R0lGODlhAQABAAAAACH5BAEKAAEALAAAAAABAAEAAAICTAEAOw=="

// SentinelCurrency marks a message that carries no monetary amount.
const SentinelCurrency = "ZWL"

// EmojiSub is one token substitution: occurrences of Token in the message
// text are replaced by an image with ImageURL and Alt. On the wire it is a
// three element JSON array to stay compatible with existing producers.
type EmojiSub struct {
	Token    string
	ImageURL string
	Alt      string
}

func (e EmojiSub) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{e.Token, e.ImageURL, e.Alt})
}

func (e *EmojiSub) UnmarshalJSON(data []byte) error {
	var triple [3]string
	if err := json.Unmarshal(data, &triple); err != nil {
		return err
	}
	e.Token, e.ImageURL, e.Alt = triple[0], triple[1], triple[2]
	return nil
}

// Message is the canonical chat event flowing through the hub.
// Timestamps are unix milliseconds.
type Message struct {
	ID            string `json:"id"`
	Platform      string `json:"platform"`
	Channel       string `json:"channel,omitempty"`
	SentAt        int64  `json:"sent_at"`
	ReceivedAt    int64  `json:"received_at"`
	IsPlaceholder bool   `json:"is_placeholder"`

	Message string     `json:"message"`
	Emojis  []EmojiSub `json:"emojis"`

	Username string `json:"username"`
	Avatar   string `json:"avatar"`

	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Unconverted is set when the amount could not be converted to the
	// display currency (unknown currency code).
	Unconverted bool `json:"unconverted,omitempty"`

	IsVerified bool `json:"is_verified"`
	IsSub      bool `json:"is_sub"`
	IsMod      bool `json:"is_mod"`
	IsOwner    bool `json:"is_owner"`
	IsStaff    bool `json:"is_staff"`

	// HTML is the sanitized display markup produced by the renderer.
	HTML string `json:"html,omitempty"`
}

// NewMessage returns a message populated with defaults.
func NewMessage() Message {
	now := time.Now().UnixMilli()
	return Message{
		ID:         uuid.NewString(),
		Platform:   "NONE",
		SentAt:     now,
		ReceivedAt: now,
		Emojis:     []EmojiSub{},
		Avatar:     PlaceholderAvatar,
		Currency:   SentinelCurrency,
	}
}

// IsPaid reports whether the message carries a monetary amount.
func (m *Message) IsPaid() bool {
	return m.Amount > 0
}

// BadgeClasses returns the CSS class string for the message's role badges.
func (m *Message) BadgeClasses() string {
	var badges []string
	if m.IsVerified {
		badges = append(badges, "verified")
	}
	if m.IsSub {
		badges = append(badges, "sub")
	}
	if m.IsMod {
		badges = append(badges, "mod")
	}
	if m.IsOwner {
		badges = append(badges, "owner")
	}
	if m.IsStaff {
		badges = append(badges, "staff")
	}
	if len(badges) == 0 {
		return ""
	}
	return "msg--b-" + strings.Join(badges, " msg--b-")
}

// PaidTier buckets the paid amount into the display tiers used by the
// overlay styling (loosely following YouTube superchat tiers).
func (m *Message) PaidTier() int {
	switch {
	case m.Amount >= 99.0:
		return 100
	case m.Amount >= 49.0:
		return 50
	case m.Amount >= 19.0:
		return 20
	case m.Amount >= 9.0:
		return 10
	case m.Amount >= 4.75:
		return 5
	case m.Amount >= 1.9:
		return 2
	default:
		return 1
	}
}

// ConsoleString renders a single-line summary for logging.
func (m *Message) ConsoleString() string {
	if m.IsPaid() {
		return fmt.Sprintf("[%s] [%s %.2f] (%s): %s", m.Platform, m.Currency, m.Amount, m.Username, m.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", m.Platform, m.Username, m.Message)
}

// FlexString accepts either a JSON string or number. Some producers report
// channel identifiers numerically.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("channel must be a string or number")
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// LivestreamUpdate is the inbound producer envelope. Any combination of
// the three payload kinds may be populated.
type LivestreamUpdate struct {
	Platform string     `json:"platform"`
	Channel  FlexString `json:"channel,omitempty"`
	Messages []Message  `json:"messages,omitempty"`
	Removals []string   `json:"removals,omitempty"`
	Viewers  *int       `json:"viewers,omitempty"`
}

// Empty reports whether the update carries no payload at all.
func (u *LivestreamUpdate) Empty() bool {
	return len(u.Messages) == 0 && len(u.Removals) == 0 && u.Viewers == nil
}

// ChannelKey identifies a (platform, channel) pair, e.g. "Kick/abc".
func ChannelKey(platform, channel string) string {
	if channel == "" {
		return platform
	}
	return platform + "/" + channel
}

// FormatAmount renders a paid amount for display, e.g. "5.40 USD".
func FormatAmount(amount float64, currency string) string {
	return strconv.FormatFloat(amount, 'f', 2, 64) + " " + currency
}
