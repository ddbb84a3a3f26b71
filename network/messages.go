package network

import (
	"encoding/binary"
	"fmt"
	"time"

	"linknet/models"
)

// Header is the common prefix carried by every message.
type Header struct {
	Sender    models.PeerID
	ID        models.MessageID
	Timestamp int64
}

// Message is one wire protocol variant. Concrete types are ChatMessage,
// FileTransferRequest, FileTransferResponse, FileChunk, FileTransferComplete,
// PeerDiscovery, Ping, Pong, and ConnectionNotification.
type Message interface {
	Kind() Kind
	Header() Header

	appendBody(dst []byte) []byte
	parseBody(body []byte) error
	setSender(id models.PeerID)
}

type header struct {
	hdr Header
}

func (h *header) Header() Header { return h.hdr }

func (h *header) setSender(id models.PeerID) { h.hdr.Sender = id }

func newHeader(sender models.PeerID) header {
	return header{hdr: Header{
		Sender:    sender,
		ID:        models.NewMessageID(),
		Timestamp: time.Now().Unix(),
	}}
}

// Marshal serializes a message into a frame body: the 57-byte header
// followed by the kind-specific body. The length prefix is added by
// WriteFrame.
func Marshal(m Message) []byte {
	h := m.Header()
	buf := make([]byte, 0, HeaderSize+64)
	buf = append(buf, byte(m.Kind()))
	buf = append(buf, h.Sender[:]...)
	buf = append(buf, h.ID[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(h.Timestamp))
	return m.appendBody(buf)
}

// ParseFrame decodes one frame body into its message variant. Frames shorter
// than the header, with an unknown kind, or with a length field overrunning
// the frame yield ErrMalformedFrame.
func ParseFrame(frame []byte) (Message, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrMalformedFrame, len(frame), HeaderSize)
	}

	var h Header
	copy(h.Sender[:], frame[1:33])
	copy(h.ID[:], frame[33:49])
	h.Timestamp = int64(binary.BigEndian.Uint64(frame[49:57]))

	var m Message
	switch Kind(frame[0]) {
	case KindChatMessage:
		m = &ChatMessage{header: header{hdr: h}}
	case KindFileTransferRequest:
		m = &FileTransferRequest{header: header{hdr: h}}
	case KindFileTransferResponse:
		m = &FileTransferResponse{header: header{hdr: h}}
	case KindFileChunk:
		m = &FileChunk{header: header{hdr: h}}
	case KindFileTransferComplete:
		m = &FileTransferComplete{header: header{hdr: h}}
	case KindPeerDiscovery:
		m = &PeerDiscovery{header: header{hdr: h}}
	case KindPing:
		m = &Ping{header: header{hdr: h}}
	case KindPong:
		m = &Pong{header: header{hdr: h}}
	case KindConnectionNotification:
		m = &ConnectionNotification{header: header{hdr: h}}
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedFrame, frame[0])
	}

	if err := m.parseBody(frame[HeaderSize:]); err != nil {
		return nil, err
	}
	return m, nil
}

// ChatMessage carries one UTF-8 chat payload.
type ChatMessage struct {
	header
	Content string
}

// NewChatMessage builds a chat message with a fresh message ID and the
// current timestamp.
func NewChatMessage(sender models.PeerID, content string) *ChatMessage {
	return &ChatMessage{header: newHeader(sender), Content: content}
}

func (*ChatMessage) Kind() Kind { return KindChatMessage }

func (m *ChatMessage) appendBody(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(m.Content)))
	return append(dst, m.Content...)
}

func (m *ChatMessage) parseBody(body []byte) error {
	content, _, err := readLengthPrefixed(body, "content")
	if err != nil {
		return err
	}
	m.Content = string(content)
	return nil
}

// FileTransferRequest announces an incoming file: its total size and name.
type FileTransferRequest struct {
	header
	FileSize uint64
	Filename string
}

// NewFileTransferRequest builds a transfer request for one file.
func NewFileTransferRequest(sender models.PeerID, filename string, size uint64) *FileTransferRequest {
	return &FileTransferRequest{header: newHeader(sender), FileSize: size, Filename: filename}
}

func (*FileTransferRequest) Kind() Kind { return KindFileTransferRequest }

func (m *FileTransferRequest) appendBody(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint64(dst, m.FileSize)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(m.Filename)))
	return append(dst, m.Filename...)
}

func (m *FileTransferRequest) parseBody(body []byte) error {
	if len(body) < 8 {
		return fmt.Errorf("%w: file size field truncated", ErrMalformedFrame)
	}
	m.FileSize = binary.BigEndian.Uint64(body)
	filename, _, err := readLengthPrefixed(body[8:], "filename")
	if err != nil {
		return err
	}
	m.Filename = string(filename)
	return nil
}

// FileTransferResponse is a reserved kind: declared by the protocol but never
// emitted; the effective protocol moves from the request straight to the
// first chunk.
type FileTransferResponse struct {
	header
}

func (*FileTransferResponse) Kind() Kind { return KindFileTransferResponse }

func (m *FileTransferResponse) appendBody(dst []byte) []byte { return dst }

func (m *FileTransferResponse) parseBody([]byte) error { return nil }

// FileChunk carries one slice of a file at an absolute chunk index.
type FileChunk struct {
	header
	FileID string
	Index  uint32
	Data   []byte
}

// NewFileChunk builds one chunk message.
func NewFileChunk(sender models.PeerID, fileID string, index uint32, data []byte) *FileChunk {
	return &FileChunk{header: newHeader(sender), FileID: fileID, Index: index, Data: data}
}

func (*FileChunk) Kind() Kind { return KindFileChunk }

func (m *FileChunk) appendBody(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(m.FileID)))
	dst = append(dst, m.FileID...)
	dst = binary.BigEndian.AppendUint32(dst, m.Index)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(m.Data)))
	return append(dst, m.Data...)
}

func (m *FileChunk) parseBody(body []byte) error {
	fileID, rest, err := readLengthPrefixed(body, "file id")
	if err != nil {
		return err
	}
	if len(rest) < 4 {
		return fmt.Errorf("%w: chunk index field truncated", ErrMalformedFrame)
	}
	index := binary.BigEndian.Uint32(rest)
	data, _, err := readLengthPrefixed(rest[4:], "chunk data")
	if err != nil {
		return err
	}

	m.FileID = string(fileID)
	m.Index = index
	m.Data = append([]byte(nil), data...)
	return nil
}

// FileTransferComplete reports the final outcome of a transfer. The receiver
// emits it with Success true once every byte has been written; either side
// emits it with Success false to reject, cancel, or fail a transfer.
type FileTransferComplete struct {
	header
	FileID  string
	Success bool
	Error   string
}

// NewFileTransferComplete builds a completion message.
func NewFileTransferComplete(sender models.PeerID, fileID string, success bool, errText string) *FileTransferComplete {
	return &FileTransferComplete{header: newHeader(sender), FileID: fileID, Success: success, Error: errText}
}

func (*FileTransferComplete) Kind() Kind { return KindFileTransferComplete }

func (m *FileTransferComplete) appendBody(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(m.FileID)))
	dst = append(dst, m.FileID...)
	if m.Success {
		dst = append(dst, 1)
	} else {
		dst = append(dst, 0)
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(m.Error)))
	return append(dst, m.Error...)
}

func (m *FileTransferComplete) parseBody(body []byte) error {
	fileID, rest, err := readLengthPrefixed(body, "file id")
	if err != nil {
		return err
	}
	if len(rest) < 1 {
		return fmt.Errorf("%w: success flag truncated", ErrMalformedFrame)
	}
	success := rest[0] != 0
	errText, _, err := readLengthPrefixed(rest[1:], "error text")
	if err != nil {
		return err
	}

	m.FileID = string(fileID)
	m.Success = success
	m.Error = string(errText)
	return nil
}

// PeerDiscovery is a reserved kind; LAN discovery runs over its own UDP
// multicast path instead.
type PeerDiscovery struct {
	header
}

func (*PeerDiscovery) Kind() Kind { return KindPeerDiscovery }

func (m *PeerDiscovery) appendBody(dst []byte) []byte { return dst }

func (m *PeerDiscovery) parseBody([]byte) error { return nil }

// Ping is an empty-body liveness probe.
type Ping struct {
	header
}

// NewPing builds a ping.
func NewPing(sender models.PeerID) *Ping {
	return &Ping{header: newHeader(sender)}
}

func (*Ping) Kind() Kind { return KindPing }

func (m *Ping) appendBody(dst []byte) []byte { return dst }

func (m *Ping) parseBody([]byte) error { return nil }

// Pong answers a Ping.
type Pong struct {
	header
}

// NewPong builds a pong.
func NewPong(sender models.PeerID) *Pong {
	return &Pong{header: newHeader(sender)}
}

func (*Pong) Kind() Kind { return KindPong }

func (m *Pong) appendBody(dst []byte) []byte { return dst }

func (m *Pong) parseBody([]byte) error { return nil }

// ConnectionNotification reports a connection status change to the remote.
type ConnectionNotification struct {
	header
	Status models.ConnectionStatus
}

// NewConnectionNotification builds a status notification.
func NewConnectionNotification(sender models.PeerID, status models.ConnectionStatus) *ConnectionNotification {
	return &ConnectionNotification{header: newHeader(sender), Status: status}
}

func (*ConnectionNotification) Kind() Kind { return KindConnectionNotification }

func (m *ConnectionNotification) appendBody(dst []byte) []byte {
	return append(dst, byte(m.Status))
}

func (m *ConnectionNotification) parseBody(body []byte) error {
	if len(body) < 1 {
		return fmt.Errorf("%w: status code truncated", ErrMalformedFrame)
	}
	if body[0] > byte(models.StatusErrored) {
		return fmt.Errorf("%w: invalid status code %d", ErrMalformedFrame, body[0])
	}
	m.Status = models.ConnectionStatus(body[0])
	return nil
}

// readLengthPrefixed consumes a 4-byte big-endian length followed by that
// many bytes, rejecting any field that would overrun the buffer.
func readLengthPrefixed(buf []byte, field string) (value, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("%w: %s length truncated", ErrMalformedFrame, field)
	}
	n := binary.BigEndian.Uint32(buf)
	if uint64(n) > uint64(len(buf)-4) {
		return nil, nil, fmt.Errorf("%w: %s length %d overruns frame", ErrMalformedFrame, field, n)
	}
	return buf[4 : 4+n], buf[4+n:], nil
}
