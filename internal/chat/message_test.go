package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivestreamUpdateChannelToleratesNumbers(t *testing.T) {
	var u LivestreamUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"channel":123456,"viewers":10}`), &u))
	assert.Equal(t, "123456", u.Channel.String())

	require.NoError(t, json.Unmarshal([]byte(`{"channel":"somechannel"}`), &u))
	assert.Equal(t, "somechannel", u.Channel.String())
}

func TestEmojiSubWireShape(t *testing.T) {
	e := EmojiSub{Token: ":x:", ImageURL: "https://cdn.example/x.png", Alt: "x"}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `[":x:","https://cdn.example/x.png","x"]`, string(data))

	var back EmojiSub
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, e, back)
}

func TestPaidTierBoundaries(t *testing.T) {
	cases := []struct {
		amount float64
		tier   int
	}{
		{150, 100}, {99, 100}, {98.9, 50}, {49, 50},
		{20, 20}, {10, 10}, {5, 5}, {2, 2}, {0.5, 1},
	}
	for _, tc := range cases {
		m := Message{Amount: tc.amount}
		assert.Equal(t, tc.tier, m.PaidTier(), "amount %v", tc.amount)
	}
}

func TestIsPaid(t *testing.T) {
	free := Message{}
	paid := Message{Amount: 0.01}
	assert.False(t, free.IsPaid())
	assert.True(t, paid.IsPaid())
}
