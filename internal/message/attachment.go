package message

import (
	"bytes"
	"io"
	"sync"

	"github.com/emersion/go-message/mail"
)

// Attachment is a non-body MIME part with decoded content. Content
// returns a fresh reader on every call; Size is computed once by
// draining such a reader.
type Attachment struct {
	name      string
	mediaType string
	data      []byte

	sizeOnce sync.Once
	size     int64
}

func newAttachment(n *partNode) *Attachment {
	a := &Attachment{
		mediaType: n.mediaType,
		data:      n.data,
	}

	hdr := mail.AttachmentHeader{Header: n.header}
	if name, err := hdr.Filename(); err == nil && name != "" {
		a.name = name
	} else {
		a.name = "unnamed"
	}

	if a.mediaType == "" {
		a.mediaType = "application/octet-stream"
	}
	return a
}

// Name returns the decoded attachment file name, or "unnamed" when the
// part declares none.
func (a *Attachment) Name() string { return a.name }

// MediaType returns the lower-cased MIME type without parameters.
func (a *Attachment) MediaType() string { return a.mediaType }

// Content returns a new reader over the decoded attachment bytes.
func (a *Attachment) Content() io.Reader {
	return bytes.NewReader(a.data)
}

// Size returns the decoded attachment size in bytes, computed lazily.
func (a *Attachment) Size() int64 {
	a.sizeOnce.Do(func() {
		a.size, _ = io.Copy(io.Discard, a.Content())
	})
	return a.size
}
