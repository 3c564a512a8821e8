package chat

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRates map[string]float64

func (r fixedRates) Convert(amount float64, currency string) (float64, bool) {
	rate, ok := r[currency]
	if !ok {
		return amount, false
	}
	return amount * rate, true
}

func TestNormalizeRequiresIdentity(t *testing.T) {
	n := NewNormalizer(nil, nil)

	_, err := n.Normalize(Message{}, "twitch", "c")
	require.ErrorIs(t, err, ErrNoIdentity)

	_, err = n.Normalize(Message{Username: "alice"}, "twitch", "c")
	require.NoError(t, err)
}

func TestNormalizeAppliesDefaults(t *testing.T) {
	n := NewNormalizer(nil, nil)

	msg, err := n.Normalize(Message{Username: "alice", Message: "hi"}, "twitch", "somechannel")
	require.NoError(t, err)

	assert.Equal(t, "twitch", msg.Platform)
	assert.Equal(t, "somechannel", msg.Channel)
	assert.Equal(t, PlaceholderAvatar, msg.Avatar)
	assert.Equal(t, SentinelCurrency, msg.Currency)
	assert.NotZero(t, msg.SentAt)
	assert.NotZero(t, msg.ReceivedAt)
	assert.NotEmpty(t, msg.HTML)
	_, err = uuid.Parse(msg.ID)
	assert.NoError(t, err, "derived id must be a uuid")
}

func TestNormalizeDerivedIDIsStable(t *testing.T) {
	n := NewNormalizer(nil, nil)
	raw := Message{Username: "alice", Message: "hi", SentAt: 1700000000000}

	first, err := n.Normalize(raw, "twitch", "c")
	require.NoError(t, err)
	second, err := n.Normalize(raw, "twitch", "c")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same event must map to the same id")

	raw.Message = "hi!"
	third, err := n.Normalize(raw, "twitch", "c")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestNormalizeKeepsProducerUUID(t *testing.T) {
	n := NewNormalizer(nil, nil)
	id := uuid.NewString()

	msg, err := n.Normalize(Message{ID: id, Username: "alice", Message: "hi"}, "twitch", "c")
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
}

func TestNormalizeEscapesMarkup(t *testing.T) {
	n := NewNormalizer(nil, nil)

	msg, err := n.Normalize(Message{
		Username: `small<i>print</i>`,
		Message:  `<script>alert("x")</script>`,
	}, "twitch", "c")
	require.NoError(t, err)

	assert.NotContains(t, msg.Username, "<i>")
	assert.NotContains(t, msg.Message, "<script>")
	assert.Contains(t, msg.Message, "&lt;script&gt;")
}

func TestEmojiSubstitutionDoesNotRescanReplacements(t *testing.T) {
	n := NewNormalizer(nil, nil)

	// The first emoji's alt text contains the second emoji's token; it
	// must survive as text, not get expanded again.
	msg, err := n.Normalize(Message{
		Username: "alice",
		Message:  "look :one: and :two:",
		Emojis: []EmojiSub{
			{Token: ":one:", ImageURL: "https://cdn.example/one.png", Alt: ":two:"},
			{Token: ":two:", ImageURL: "https://cdn.example/two.png", Alt: "two"},
		},
	}, "twitch", "c")
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(msg.Message, "<img"), "each token expands exactly once")
	assert.Contains(t, msg.Message, `alt=":two:"`)
}

func TestEmojiSubstitutionIgnoresNULBytesInText(t *testing.T) {
	n := NewNormalizer(nil, nil)

	// A message containing NUL-delimited digits must not be mistaken for
	// an internal substitution placeholder.
	msg, err := n.Normalize(Message{
		Username: "alice",
		Message:  "innocent \x000\x00 text",
		Emojis: []EmojiSub{
			{Token: ":x:", ImageURL: "https://cdn.example/x.png", Alt: "x"},
		},
	}, "twitch", "c")
	require.NoError(t, err)

	assert.NotContains(t, msg.Message, "<img", "no token matched, nothing may expand")
	assert.NotContains(t, msg.Message, "\x00")
	assert.Contains(t, msg.Message, "innocent")
	assert.Contains(t, msg.Message, "text")
}

func TestNormalizeConvertsPaidAmounts(t *testing.T) {
	n := NewNormalizer(fixedRates{"EUR": 1.08}, nil)

	msg, err := n.Normalize(Message{
		Username: "alice", Message: "tip", Amount: 10, Currency: "EUR",
	}, "twitch", "c")
	require.NoError(t, err)
	assert.InDelta(t, 10.8, msg.Amount, 1e-9)
	assert.Equal(t, DisplayCurrency, msg.Currency)
	assert.False(t, msg.Unconverted)
}

func TestNormalizeUnknownCurrencyPassesThrough(t *testing.T) {
	n := NewNormalizer(fixedRates{"EUR": 1.08}, nil)

	msg, err := n.Normalize(Message{
		Username: "alice", Message: "tip", Amount: 500, Currency: "XYZ",
	}, "twitch", "c")
	require.NoError(t, err)
	assert.Equal(t, 500.0, msg.Amount, "amount must not be zeroed or altered")
	assert.Equal(t, "XYZ", msg.Currency)
	assert.True(t, msg.Unconverted)
}
