package chat

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Converter resolves a monetary amount into the display currency. The
// boolean result is false when the source currency is unknown and the
// amount passed through unconverted.
type Converter interface {
	Convert(amount float64, currency string) (float64, bool)
}

// RenderFunc turns a canonical message into sanitized display markup. The
// hub treats it as a black box.
type RenderFunc func(*Message) string

// ErrNoIdentity is returned for a message carrying no usable identity
// information at all.
var ErrNoIdentity = errors.New("chat: message has no identity")

// DisplayCurrency is the currency every paid amount is converted into.
const DisplayCurrency = "USD"

var messageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("chathub/message"))

// Normalizer canonicalizes inbound platform payloads. It is stateless and
// safe for use from a single goroutine (the hub).
type Normalizer struct {
	rates  Converter
	render RenderFunc
	now    func() time.Time
}

// NewNormalizer builds a normalizer. render may be nil, in which case the
// built-in minimal renderer is used.
func NewNormalizer(rates Converter, render RenderFunc) *Normalizer {
	if render == nil {
		render = DefaultRender
	}
	return &Normalizer{rates: rates, render: render, now: time.Now}
}

// Normalize canonicalizes one inbound message for the given producer
// context. The returned message is safe to hand to viewers.
func (n *Normalizer) Normalize(raw Message, platform, channel string) (Message, error) {
	msg := raw
	if msg.Username == "" && msg.Message == "" {
		return Message{}, ErrNoIdentity
	}

	if msg.Platform == "" {
		msg.Platform = platform
	}
	if msg.Channel == "" {
		msg.Channel = channel
	}

	now := n.now().UnixMilli()
	if msg.SentAt == 0 {
		msg.SentAt = now
	}
	if msg.ReceivedAt == 0 {
		msg.ReceivedAt = now
	}
	if msg.Avatar == "" {
		msg.Avatar = PlaceholderAvatar
	}
	if msg.Currency == "" {
		msg.Currency = SentinelCurrency
	}
	if msg.Emojis == nil {
		msg.Emojis = []EmojiSub{}
	}

	if _, err := uuid.Parse(msg.ID); err != nil {
		msg.ID = deriveID(&msg)
	}

	msg.Username = html.EscapeString(msg.Username)
	msg.Message = substituteEmojis(html.EscapeString(msg.Message), msg.Emojis)

	if msg.Amount > 0 && n.rates != nil {
		converted, ok := n.rates.Convert(msg.Amount, msg.Currency)
		if ok {
			msg.Amount = converted
			msg.Currency = DisplayCurrency
		} else {
			msg.Unconverted = true
		}
	}

	msg.HTML = n.render(&msg)
	return msg, nil
}

// deriveID produces a stable id from the message's natural key so that
// redelivery of the same underlying event after a reconnect maps to the
// same id.
func deriveID(m *Message) string {
	key := strings.Join([]string{
		m.Platform,
		m.Channel,
		m.Username,
		strconv.FormatInt(m.SentAt, 10),
		m.Message,
	}, "\x1f")
	return uuid.NewSHA1(messageNamespace, []byte(key)).String()
}

// substituteEmojis replaces every token occurrence with image markup in a
// single logical pass. Tokens are first swapped for opaque placeholders and
// the placeholders are then expanded, so replacement output is never
// re-scanned for further token matches.
func substituteEmojis(text string, emojis []EmojiSub) string {
	if len(emojis) == 0 {
		return text
	}

	// html.EscapeString passes NUL through, so strip it first to make
	// the placeholders collision-free.
	text = strings.ReplaceAll(text, "\x00", "")

	expansions := make(map[string]string, len(emojis))
	for i, e := range emojis {
		placeholder := "\x00" + strconv.Itoa(i) + "\x00"
		markup := fmt.Sprintf(`<img class="emoji" src="%s" data-emoji="%s" alt="%s" />`,
			html.EscapeString(e.ImageURL), html.EscapeString(e.Alt), html.EscapeString(e.Alt))
		text = strings.ReplaceAll(text, e.Token, placeholder)
		expansions[placeholder] = markup
	}
	for placeholder, markup := range expansions {
		text = strings.ReplaceAll(text, placeholder, markup)
	}
	return text
}

// DefaultRender is the built-in fallback renderer. Deployments inject
// their own RenderFunc for real overlay markup.
func DefaultRender(m *Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="msg msg--p-%s %s" data-id="%s">`, m.Platform, m.BadgeClasses(), m.ID)
	fmt.Fprintf(&b, `<span class="msg__username">%s</span>`, m.Username)
	if m.IsPaid() {
		fmt.Fprintf(&b, `<span class="msg__amount msg--ta-%d">%s</span>`, m.PaidTier(), FormatAmount(m.Amount, m.Currency))
	}
	fmt.Fprintf(&b, `<span class="msg__text">%s</span>`, m.Message)
	b.WriteString(`</div>`)
	return b.String()
}
