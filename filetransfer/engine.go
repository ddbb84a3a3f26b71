package filetransfer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"linknet/models"
	"linknet/network"
	"linknet/storage"
)

const (
	// DefaultChunkSize is the fixed transfer chunk size. The final chunk of
	// a file may be shorter.
	DefaultChunkSize = 16 * 1024
	// DefaultDownloadsDir is where accepted incoming files are written.
	DefaultDownloadsDir = "./downloads"
)

var (
	// ErrNotFound indicates the source path does not exist.
	ErrNotFound = errors.New("filetransfer: file not found")
	// ErrNoPeer indicates there is no connected session for the peer.
	ErrNoPeer = errors.New("filetransfer: no connected session for peer")
	// ErrTransferActive indicates a transfer for the same peer and file is
	// already in flight.
	ErrTransferActive = errors.New("filetransfer: transfer already active")
)

// Sender abstracts the network manager operations the engine needs.
type Sender interface {
	Send(peer models.PeerID, msg network.Message) bool
}

// ProgressFunc observes transfer progress in [0, 1].
type ProgressFunc func(peer models.PeerID, path string, progress float64)

// CompletedFunc observes the final outcome of a transfer.
type CompletedFunc func(peer models.PeerID, path string, ok bool, errText string)

// RequestFunc decides whether to accept an announced incoming file. It may
// be invoked synchronously from the receive path and must be quick.
type RequestFunc func(peer models.PeerID, filename string, size uint64) bool

// Options configures a transfer engine.
type Options struct {
	// LocalID is stamped as the sender on every message the engine emits.
	LocalID models.PeerID
	// Network delivers outbound messages.
	Network Sender
	// DownloadsDir overrides where incoming files land.
	DownloadsDir string
	// ChunkSize overrides the transfer chunk size.
	ChunkSize int
	// Journal, when set, records transfer outcomes to SQLite.
	Journal *storage.Store
}

type transferKey struct {
	peer   models.PeerID
	fileID string
}

type outgoingTransfer struct {
	key       transferKey
	path      string
	size      uint64
	status    models.TransferStatus
	bytesSent uint64
	nextChunk uint32
	file      *os.File
	started   time.Time
	journalID string
}

type incomingTransfer struct {
	key          transferKey
	path         string
	size         uint64
	status       models.TransferStatus
	bytesWritten uint64
	file         *os.File
	received     map[uint32]bool
	started      time.Time
	journalID    string
}

// Engine drives one state machine per (peer, file) pair in each direction.
// It consumes the file-related message kinds and forwards everything else to
// the next handler in the chain.
type Engine struct {
	options Options

	mu       sync.Mutex
	outgoing map[transferKey]*outgoingTransfer
	incoming map[transferKey]*incomingTransfer

	cbMu        sync.RWMutex
	onProgress  ProgressFunc
	onCompleted CompletedFunc
	onRequest   RequestFunc
	next        network.Handler

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewEngine creates a transfer engine with defaults applied.
func NewEngine(options Options) (*Engine, error) {
	if options.Network == nil {
		return nil, errors.New("filetransfer: network sender is required")
	}
	if options.DownloadsDir == "" {
		options.DownloadsDir = DefaultDownloadsDir
	}
	if options.ChunkSize <= 0 {
		options.ChunkSize = DefaultChunkSize
	}

	return &Engine{
		options:  options,
		outgoing: make(map[transferKey]*outgoingTransfer),
		incoming: make(map[transferKey]*incomingTransfer),
		stopped:  make(chan struct{}),
	}, nil
}

// SetProgressCallback registers the progress callback; last registration wins.
func (e *Engine) SetProgressCallback(fn ProgressFunc) {
	e.cbMu.Lock()
	e.onProgress = fn
	e.cbMu.Unlock()
}

// SetCompletedCallback registers the completion callback.
func (e *Engine) SetCompletedCallback(fn CompletedFunc) {
	e.cbMu.Lock()
	e.onCompleted = fn
	e.cbMu.Unlock()
}

// SetRequestCallback registers the accept/reject decision callback. With no
// callback registered every request is accepted.
func (e *Engine) SetRequestCallback(fn RequestFunc) {
	e.cbMu.Lock()
	e.onRequest = fn
	e.cbMu.Unlock()
}

// SetNextHandler registers where non-file messages are forwarded.
func (e *Engine) SetNextHandler(h network.Handler) {
	e.cbMu.Lock()
	e.next = h
	e.cbMu.Unlock()
}

// SendFile starts an outbound transfer of path to peer. The file id carried
// on the wire is the base filename, which both sides use to key the
// transfer. The call returns once the request has been sent; progress and
// completion are observed through callbacks.
func (e *Engine) SendFile(peer models.PeerID, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("stat source file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("source path %q is a directory", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}

	fileID := filepath.Base(path)
	transfer := &outgoingTransfer{
		key:     transferKey{peer: peer, fileID: fileID},
		path:    path,
		size:    uint64(info.Size()),
		status:  models.TransferPending,
		file:    file,
		started: time.Now(),
	}

	e.mu.Lock()
	if _, exists := e.outgoing[transfer.key]; exists {
		e.mu.Unlock()
		_ = file.Close()
		return fmt.Errorf("%w: %s to %s", ErrTransferActive, fileID, peer.Short())
	}
	e.outgoing[transfer.key] = transfer
	e.mu.Unlock()

	journalID := e.journalStart(transfer.key, models.TransferSend, fileID, transfer.size, path)
	e.mu.Lock()
	transfer.journalID = journalID
	e.mu.Unlock()

	request := network.NewFileTransferRequest(e.options.LocalID, fileID, transfer.size)
	if !e.options.Network.Send(peer, request) {
		e.mu.Lock()
		delete(e.outgoing, transfer.key)
		e.mu.Unlock()
		_ = file.Close()
		e.journalFinish(journalID, models.TransferFailed)
		return fmt.Errorf("%w: %s", ErrNoPeer, peer.Short())
	}

	e.mu.Lock()
	if e.outgoing[transfer.key] == transfer {
		transfer.status = models.TransferInProgress
	}
	e.mu.Unlock()

	e.wg.Add(1)
	go e.pumpChunks(transfer)
	return nil
}

// Cancel aborts the transfer of path with peer in either direction. The
// remote is told via FileTransferComplete with success=false and reason
// "cancelled". Returns false when no such transfer exists.
func (e *Engine) Cancel(peer models.PeerID, path string) bool {
	key := transferKey{peer: peer, fileID: filepath.Base(path)}

	e.mu.Lock()
	if transfer, ok := e.outgoing[key]; ok {
		delete(e.outgoing, key)
		transfer.status = models.TransferFailed
		_ = transfer.file.Close()
		journalID := transfer.journalID
		e.mu.Unlock()

		e.options.Network.Send(peer, network.NewFileTransferComplete(e.options.LocalID, key.fileID, false, "cancelled"))
		e.journalFinish(journalID, models.TransferFailed)
		return true
	}
	if transfer, ok := e.incoming[key]; ok {
		delete(e.incoming, key)
		transfer.status = models.TransferFailed
		_ = transfer.file.Close()
		journalID := transfer.journalID
		e.mu.Unlock()

		e.options.Network.Send(peer, network.NewFileTransferComplete(e.options.LocalID, key.fileID, false, "cancelled"))
		e.journalFinish(journalID, models.TransferFailed)
		return true
	}
	e.mu.Unlock()
	return false
}

// Ongoing returns a snapshot of every active transfer in both directions.
func (e *Engine) Ongoing() []models.TransferInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.TransferInfo, 0, len(e.outgoing)+len(e.incoming))
	for _, t := range e.outgoing {
		out = append(out, models.TransferInfo{
			Peer:      t.key.peer,
			FileID:    t.key.fileID,
			Path:      t.path,
			Direction: models.TransferSend,
			Status:    t.status,
			Progress:  progressOf(t.bytesSent, t.size),
		})
	}
	for _, t := range e.incoming {
		out = append(out, models.TransferInfo{
			Peer:      t.key.peer,
			FileID:    t.key.fileID,
			Path:      t.path,
			Direction: models.TransferReceive,
			Status:    t.status,
			Progress:  progressOf(t.bytesWritten, t.size),
		})
	}
	return out
}

// Stop aborts every pump goroutine and closes open file handles.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopped)
		e.wg.Wait()

		e.mu.Lock()
		for key, t := range e.outgoing {
			_ = t.file.Close()
			delete(e.outgoing, key)
		}
		for key, t := range e.incoming {
			_ = t.file.Close()
			delete(e.incoming, key)
		}
		e.mu.Unlock()
	})
}

// HandlePeerDisconnected fails every active transfer with the peer in both
// directions. There is no resume; the application retries by sending again.
func (e *Engine) HandlePeerDisconnected(peer models.PeerID) {
	type dropped struct {
		path      string
		journalID string
	}
	var lost []dropped

	e.mu.Lock()
	for key, t := range e.outgoing {
		if key.peer != peer {
			continue
		}
		delete(e.outgoing, key)
		_ = t.file.Close()
		t.status = models.TransferFailed
		lost = append(lost, dropped{path: t.path, journalID: t.journalID})
	}
	for key, t := range e.incoming {
		if key.peer != peer {
			continue
		}
		delete(e.incoming, key)
		_ = t.file.Close()
		t.status = models.TransferFailed
		lost = append(lost, dropped{path: t.path, journalID: t.journalID})
	}
	e.mu.Unlock()

	for _, d := range lost {
		e.journalFinish(d.journalID, models.TransferFailed)
		e.fireCompleted(peer, d.path, false, "session lost mid-transfer")
	}
}

// HandleMessage consumes file-related messages and forwards the rest.
func (e *Engine) HandleMessage(msg network.Message) {
	switch m := msg.(type) {
	case *network.FileTransferRequest:
		e.handleRequest(m)
	case *network.FileChunk:
		e.handleChunk(m)
	case *network.FileTransferComplete:
		e.handleComplete(m)
	default:
		e.cbMu.RLock()
		next := e.next
		e.cbMu.RUnlock()
		if next != nil {
			next.HandleMessage(msg)
		}
	}
}

// pumpChunks emits the file sequentially as fixed-size chunks, then parks
// the transfer awaiting the receiver's completion message.
func (e *Engine) pumpChunks(t *outgoingTransfer) {
	defer e.wg.Done()

	chunkSize := e.options.ChunkSize
	buf := make([]byte, chunkSize)

	for {
		select {
		case <-e.stopped:
			return
		default:
		}

		e.mu.Lock()
		if e.outgoing[t.key] != t {
			// Completed, cancelled, or failed from another path.
			e.mu.Unlock()
			return
		}
		index := t.nextChunk
		e.mu.Unlock()

		offset := int64(index) * int64(chunkSize)
		if uint64(offset) >= t.size {
			break
		}

		n, err := t.file.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			e.failOutgoing(t, fmt.Sprintf("read source file: %v", err), true)
			return
		}
		if n == 0 {
			e.failOutgoing(t, "source file truncated mid-transfer", true)
			return
		}

		chunk := network.NewFileChunk(e.options.LocalID, t.key.fileID, index, buf[:n])
		if !e.options.Network.Send(t.key.peer, chunk) {
			e.failOutgoing(t, "session lost mid-transfer", false)
			return
		}

		// The receiver's completion can race the final chunk's send; the
		// chunk still counts toward progress either way.
		e.mu.Lock()
		t.nextChunk = index + 1
		t.bytesSent += uint64(n)
		progress := progressOf(t.bytesSent, t.size)
		active := e.outgoing[t.key] == t
		e.mu.Unlock()

		e.fireProgress(t.key.peer, t.path, progress)
		if !active {
			return
		}
	}

	e.mu.Lock()
	if e.outgoing[t.key] == t {
		t.status = models.TransferAwaitingAck
	}
	e.mu.Unlock()
}

func (e *Engine) handleRequest(m *network.FileTransferRequest) {
	peer := m.Header().Sender
	filename := filepath.Base(m.Filename)
	if filename == "." || filename == ".." || filename == string(filepath.Separator) || filename == "" {
		e.options.Network.Send(peer, network.NewFileTransferComplete(e.options.LocalID, m.Filename, false, "invalid filename"))
		return
	}

	accept := true
	e.cbMu.RLock()
	onRequest := e.onRequest
	e.cbMu.RUnlock()
	if onRequest != nil {
		accept = onRequest(peer, filename, m.FileSize)
	}
	if !accept {
		e.options.Network.Send(peer, network.NewFileTransferComplete(e.options.LocalID, filename, false, "rejected by receiver"))
		return
	}

	if err := os.MkdirAll(e.options.DownloadsDir, 0o755); err != nil {
		e.refuseIncoming(peer, filename, fmt.Sprintf("create downloads dir: %v", err))
		return
	}
	target := filepath.Join(e.options.DownloadsDir, filename)
	file, err := os.Create(target)
	if err != nil {
		e.refuseIncoming(peer, filename, fmt.Sprintf("open target file: %v", err))
		return
	}

	transfer := &incomingTransfer{
		key:      transferKey{peer: peer, fileID: filename},
		path:     target,
		size:     m.FileSize,
		status:   models.TransferInProgress,
		file:     file,
		received: make(map[uint32]bool),
		started:  time.Now(),
	}

	e.mu.Lock()
	if _, exists := e.incoming[transfer.key]; exists {
		e.mu.Unlock()
		_ = file.Close()
		e.options.Network.Send(peer, network.NewFileTransferComplete(e.options.LocalID, filename, false, "transfer already active"))
		return
	}
	e.incoming[transfer.key] = transfer
	e.mu.Unlock()
	transfer.journalID = e.journalStart(transfer.key, models.TransferReceive, filename, m.FileSize, target)

	// An empty file has nothing to wait for.
	if m.FileSize == 0 {
		e.finishIncoming(transfer)
	}
}

func (e *Engine) handleChunk(m *network.FileChunk) {
	key := transferKey{peer: m.Header().Sender, fileID: m.FileID}

	e.mu.Lock()
	t := e.incoming[key]
	if t == nil {
		e.mu.Unlock()
		return
	}
	if t.received[m.Index] {
		// Duplicate chunk: no write, no progress.
		e.mu.Unlock()
		return
	}

	offset := int64(m.Index) * int64(e.options.ChunkSize)
	if _, err := t.file.WriteAt(m.Data, offset); err != nil {
		delete(e.incoming, key)
		_ = t.file.Close()
		t.status = models.TransferFailed
		journalID := t.journalID
		path := t.path
		e.mu.Unlock()

		reason := fmt.Sprintf("write failed: %v", err)
		e.options.Network.Send(key.peer, network.NewFileTransferComplete(e.options.LocalID, key.fileID, false, reason))
		e.journalFinish(journalID, models.TransferFailed)
		e.fireCompleted(key.peer, path, false, reason)
		return
	}

	t.received[m.Index] = true
	t.bytesWritten += uint64(len(m.Data))
	if t.bytesWritten > t.size {
		delete(e.incoming, key)
		_ = t.file.Close()
		t.status = models.TransferFailed
		journalID := t.journalID
		path := t.path
		e.mu.Unlock()

		reason := "received more bytes than announced"
		e.options.Network.Send(key.peer, network.NewFileTransferComplete(e.options.LocalID, key.fileID, false, reason))
		e.journalFinish(journalID, models.TransferFailed)
		e.fireCompleted(key.peer, path, false, reason)
		return
	}

	progress := progressOf(t.bytesWritten, t.size)
	done := t.bytesWritten == t.size
	path := t.path
	e.mu.Unlock()

	e.fireProgress(key.peer, path, progress)
	if done {
		e.finishIncoming(t)
	}
}

func (e *Engine) handleComplete(m *network.FileTransferComplete) {
	key := transferKey{peer: m.Header().Sender, fileID: m.FileID}

	e.mu.Lock()
	if t, ok := e.outgoing[key]; ok {
		delete(e.outgoing, key)
		_ = t.file.Close()
		status := models.TransferFailed
		if m.Success {
			status = models.TransferCompleted
		}
		t.status = status
		journalID := t.journalID
		path := t.path
		e.mu.Unlock()

		e.journalFinish(journalID, status)
		e.fireCompleted(key.peer, path, m.Success, m.Error)
		return
	}
	if t, ok := e.incoming[key]; ok && !m.Success {
		// The sender cancelled or failed mid-transfer.
		delete(e.incoming, key)
		_ = t.file.Close()
		t.status = models.TransferFailed
		journalID := t.journalID
		path := t.path
		e.mu.Unlock()

		e.journalFinish(journalID, models.TransferFailed)
		reason := m.Error
		if reason == "" {
			reason = "aborted by sender"
		}
		e.fireCompleted(key.peer, path, false, reason)
		return
	}
	e.mu.Unlock()
}

// finishIncoming seals a fully written incoming transfer: the completion
// message is sent to the sender and only then is the transfer reported
// complete locally.
func (e *Engine) finishIncoming(t *incomingTransfer) {
	e.mu.Lock()
	if e.incoming[t.key] != t {
		e.mu.Unlock()
		return
	}
	delete(e.incoming, t.key)
	_ = t.file.Close()
	t.status = models.TransferCompleted
	journalID := t.journalID
	path := t.path
	e.mu.Unlock()

	e.options.Network.Send(t.key.peer, network.NewFileTransferComplete(e.options.LocalID, t.key.fileID, true, ""))
	e.journalFinish(journalID, models.TransferCompleted)
	e.fireCompleted(t.key.peer, path, true, "")
}

// failOutgoing drops an outgoing transfer, optionally telling the receiver.
func (e *Engine) failOutgoing(t *outgoingTransfer, reason string, notifyPeer bool) {
	e.mu.Lock()
	if e.outgoing[t.key] != t {
		e.mu.Unlock()
		return
	}
	delete(e.outgoing, t.key)
	_ = t.file.Close()
	t.status = models.TransferFailed
	journalID := t.journalID
	path := t.path
	e.mu.Unlock()

	if notifyPeer {
		e.options.Network.Send(t.key.peer, network.NewFileTransferComplete(e.options.LocalID, t.key.fileID, false, reason))
	}
	e.journalFinish(journalID, models.TransferFailed)
	e.fireCompleted(t.key.peer, path, false, reason)
}

func (e *Engine) refuseIncoming(peer models.PeerID, fileID, reason string) {
	e.options.Network.Send(peer, network.NewFileTransferComplete(e.options.LocalID, fileID, false, reason))
	e.fireCompleted(peer, filepath.Join(e.options.DownloadsDir, fileID), false, reason)
}

func (e *Engine) fireProgress(peer models.PeerID, path string, progress float64) {
	e.cbMu.RLock()
	onProgress := e.onProgress
	e.cbMu.RUnlock()
	if onProgress != nil {
		onProgress(peer, path, progress)
	}
}

func (e *Engine) fireCompleted(peer models.PeerID, path string, ok bool, errText string) {
	e.cbMu.RLock()
	onCompleted := e.onCompleted
	e.cbMu.RUnlock()
	if onCompleted != nil {
		onCompleted(peer, path, ok, errText)
	}
}

func (e *Engine) journalStart(key transferKey, direction models.TransferDirection, filename string, size uint64, path string) string {
	if e.options.Journal == nil {
		return ""
	}
	record := storage.TransferRecord{
		PeerID:    key.peer.String(),
		Direction: string(direction),
		Filename:  filename,
		Filesize:  int64(size),
		Path:      path,
		Status:    string(models.TransferInProgress),
	}
	id, err := e.options.Journal.RecordTransfer(record)
	if err != nil {
		return ""
	}
	return id
}

func (e *Engine) journalFinish(journalID string, status models.TransferStatus) {
	if e.options.Journal == nil || journalID == "" {
		return
	}
	_ = e.options.Journal.UpdateTransferStatus(journalID, string(status))
}

func progressOf(done, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total)
}
