package chat

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"linknet/models"
	"linknet/network"
)

// DefaultHistoryLimit caps the per-peer in-memory history length.
const DefaultHistoryLimit = 10000

// Sender abstracts the network manager operations the dispatcher needs.
type Sender interface {
	Send(peer models.PeerID, msg network.Message) bool
	Broadcast(msg network.Message)
	ConnectedPeers() []models.PeerInfo
}

// Callback observes inbound chat entries.
type Callback func(models.ChatInfo)

// Options configures a chat dispatcher.
type Options struct {
	// Network delivers outbound messages.
	Network Sender
	// LocalID identifies this node as the sender of its messages. Generated
	// when zero.
	LocalID models.PeerID
	// LocalName is the display name recorded in local history entries.
	LocalName string
	// HistoryLimit overrides the per-peer history cap.
	HistoryLimit int
}

// Dispatcher consumes inbound chat messages, keeps a bounded per-peer
// history in memory, and forwards every other message kind to the next
// handler in the chain. History is never persisted.
type Dispatcher struct {
	options Options

	mu      sync.Mutex
	history map[models.PeerID][]models.ChatInfo

	cbMu   sync.RWMutex
	onChat Callback
	next   network.Handler
}

// NewDispatcher creates a dispatcher with defaults applied.
func NewDispatcher(options Options) (*Dispatcher, error) {
	if options.Network == nil {
		return nil, errors.New("chat: network sender is required")
	}
	if options.LocalID.IsZero() {
		id, err := models.NewPeerID()
		if err != nil {
			return nil, err
		}
		options.LocalID = id
	}
	if options.LocalName == "" {
		options.LocalName = fmt.Sprintf("User-%s", options.LocalID.Short())
	}
	if options.HistoryLimit <= 0 {
		options.HistoryLimit = DefaultHistoryLimit
	}

	return &Dispatcher{
		options: options,
		history: make(map[models.PeerID][]models.ChatInfo),
	}, nil
}

// LocalID returns the identifier stamped on outbound chat messages.
func (d *Dispatcher) LocalID() models.PeerID {
	return d.options.LocalID
}

// LocalName returns the local display name.
func (d *Dispatcher) LocalName() string {
	return d.options.LocalName
}

// SetChatCallback registers the inbound chat callback; last registration wins.
func (d *Dispatcher) SetChatCallback(fn Callback) {
	d.cbMu.Lock()
	d.onChat = fn
	d.cbMu.Unlock()
}

// SetNextHandler registers where non-chat messages are forwarded.
func (d *Dispatcher) SetNextHandler(h network.Handler) {
	d.cbMu.Lock()
	d.next = h
	d.cbMu.Unlock()
}

// Send delivers one chat message to a peer. On success the entry is recorded
// in that peer's history.
func (d *Dispatcher) Send(peer models.PeerID, text string) bool {
	msg := network.NewChatMessage(d.options.LocalID, text)
	if !d.options.Network.Send(peer, msg) {
		return false
	}

	entry := models.ChatInfo{
		SenderID:   d.options.LocalID,
		SenderName: d.options.LocalName,
		Content:    text,
		Timestamp:  time.Unix(msg.Header().Timestamp, 0),
	}
	d.mu.Lock()
	d.appendLocked(peer, entry)
	d.mu.Unlock()
	return true
}

// Broadcast delivers one chat message to every connected peer and records an
// entry per peer.
func (d *Dispatcher) Broadcast(text string) {
	msg := network.NewChatMessage(d.options.LocalID, text)
	d.options.Network.Broadcast(msg)

	entry := models.ChatInfo{
		SenderID:   d.options.LocalID,
		SenderName: d.options.LocalName,
		Content:    text,
		Timestamp:  time.Unix(msg.Header().Timestamp, 0),
	}

	peers := d.options.Network.ConnectedPeers()
	d.mu.Lock()
	for _, peer := range peers {
		d.appendLocked(peer.ID, entry)
	}
	d.mu.Unlock()
}

// History returns the most recent max entries for one peer, oldest first.
func (d *Dispatcher) History(peer models.PeerID, max int) []models.ChatInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.history[peer]
	if max < 0 {
		max = 0
	}
	if len(entries) > max {
		entries = entries[len(entries)-max:]
	}
	return append([]models.ChatInfo(nil), entries...)
}

// AllHistory returns a global timeline sorted by timestamp ascending,
// truncated to the most recent max entries.
func (d *Dispatcher) AllHistory(max int) []models.ChatInfo {
	d.mu.Lock()
	all := make([]models.ChatInfo, 0)
	for _, entries := range d.history {
		all = append(all, entries...)
	}
	d.mu.Unlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})

	if max < 0 {
		max = 0
	}
	if len(all) > max {
		all = all[len(all)-max:]
	}
	return all
}

// HandleMessage consumes chat messages and forwards everything else.
func (d *Dispatcher) HandleMessage(msg network.Message) {
	chatMsg, ok := msg.(*network.ChatMessage)
	if !ok {
		d.cbMu.RLock()
		next := d.next
		d.cbMu.RUnlock()
		if next != nil {
			next.HandleMessage(msg)
		}
		return
	}

	sender := chatMsg.Header().Sender
	entry := models.ChatInfo{
		SenderID:   sender,
		SenderName: "Unknown",
		Content:    chatMsg.Content,
		Timestamp:  time.Unix(chatMsg.Header().Timestamp, 0),
	}

	d.mu.Lock()
	d.appendLocked(sender, entry)
	d.mu.Unlock()

	d.cbMu.RLock()
	onChat := d.onChat
	d.cbMu.RUnlock()
	if onChat != nil {
		onChat(entry)
	}
}

// appendLocked adds one entry, dropping the oldest once the cap is reached.
func (d *Dispatcher) appendLocked(peer models.PeerID, entry models.ChatInfo) {
	entries := append(d.history[peer], entry)
	if over := len(entries) - d.options.HistoryLimit; over > 0 {
		entries = append([]models.ChatInfo(nil), entries[over:]...)
	}
	d.history[peer] = entries
}
