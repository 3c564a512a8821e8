package hub

import (
	"time"

	"github.com/overlaykit/chathub/internal/chat"
	"github.com/overlaykit/chathub/internal/layout"
)

// hubCmd is the marker for commands delivered to the hub's single
// serializing goroutine. All shared state is mutated only there.
type hubCmd interface{ hubCmd() }

type cmdRegister struct{ client *Client }

func (cmdRegister) hubCmd() {}

type cmdUnregister struct{ client *Client }

func (cmdUnregister) hubCmd() {}

type cmdIngest struct {
	client *Client
	update chat.LivestreamUpdate
}

func (cmdIngest) hubCmd() {}

type cmdFeature struct {
	// id is nil to clear the featured message.
	id    *string
	reply chan *chat.Message
}

func (cmdFeature) hubCmd() {}

type cmdFeatured struct{ reply chan *chat.Message }

func (cmdFeatured) hubCmd() {}

type cmdRecentMessages struct {
	max   int
	reply chan []chat.Message
}

func (cmdRecentMessages) hubCmd() {}

type cmdViewerCounts struct{ reply chan map[string]int }

func (cmdViewerCounts) hubCmd() {}

type cmdClientCounts struct{ reply chan map[Role]int }

func (cmdClientCounts) hubCmd() {}

type cmdLayoutUpdate struct {
	from   *Client
	layout layout.Layout
}

func (cmdLayoutUpdate) hubCmd() {}

type cmdSwitchLayout struct {
	name  string
	reply chan error
}

func (cmdSwitchLayout) hubCmd() {}

type cmdSaveLayout struct {
	name   string
	layout layout.Layout
	reply  chan error
}

func (cmdSaveLayout) hubCmd() {}

type cmdDeleteLayout struct {
	name  string
	reply chan error
}

func (cmdDeleteLayout) hubCmd() {}

type cmdRequestLayout struct{ client *Client }

func (cmdRequestLayout) hubCmd() {}

type cmdRequestLayouts struct{ client *Client }

func (cmdRequestLayouts) hubCmd() {}

type cmdSubscribeLayout struct {
	client *Client
	name   string
}

func (cmdSubscribeLayout) hubCmd() {}

// persistOp is one unit of work for the background persister.
type persistOp struct {
	// upsert when deleteID is empty.
	msg      chat.Message
	deleteID string
	// enqueuedAt lets shutdown drain skip hopelessly stale retries.
	enqueuedAt time.Time
}
