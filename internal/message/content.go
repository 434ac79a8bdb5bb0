package message

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
)

// parsedContent is the outcome of walking a message's MIME tree: one
// body plus the remaining parts as attachments.
type parsedContent struct {
	body     string
	bodyType string
	atts     []*Attachment
}

// partNode is a fully buffered MIME part. Leaves carry decoded content,
// containers carry children.
type partNode struct {
	mediaType string
	header    gomessage.Header
	data      []byte
	parts     []*partNode
}

// parseContent decodes a raw message and picks a single body part plus
// attachments. It never fails: undecodable input degrades to a plain
// text body or a placeholder.
func parseContent(raw []byte, contentType string) parsedContent {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && entity == nil {
		return parsedContent{body: string(raw), bodyType: "text/plain"}
	}

	root := buildNode(entity)

	p := &contentWalker{}
	p.walk(root)

	if !p.haveBody {
		ct := mediaType(contentType)
		if ct == "" {
			ct = root.mediaType
		}
		p.body = fmt.Sprintf("no content available for content type %q", ct)
		p.bodyType = "text/plain"
	}

	return parsedContent{body: p.body, bodyType: p.bodyType, atts: p.atts}
}

// buildNode buffers a MIME entity into a part tree. Malformed subparts
// are kept as far as the reader can decode them.
func buildNode(e *gomessage.Entity) *partNode {
	n := &partNode{header: e.Header}
	if ct, _, err := e.Header.ContentType(); err == nil {
		n.mediaType = ct
	}

	if mr := e.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF || part == nil {
				break
			}
			if err != nil {
				break
			}
			n.parts = append(n.parts, buildNode(part))
		}
		return n
	}

	n.data, _ = io.ReadAll(e.Body)
	return n
}

// contentWalker implements the body selection rules: the first textual
// part wins across the whole tree, everything else is an attachment.
type contentWalker struct {
	haveBody bool
	body     string
	bodyType string
	atts     []*Attachment
}

func (p *contentWalker) walk(n *partNode) {
	switch {
	case n.mediaType == "multipart/alternative":
		p.walkAlternative(n)
	case strings.HasPrefix(n.mediaType, "multipart/"):
		for _, child := range n.parts {
			if !p.haveBody && isBodyCandidate(child) {
				p.walk(child)
			} else {
				p.addAttachment(child)
			}
		}
	default:
		if !p.haveBody {
			p.setBody(n)
		}
	}
}

// walkAlternative searches alternatives backward so the richest
// rendition wins. When a body was already chosen elsewhere, the last
// alternative is kept as an attachment for archival.
func (p *contentWalker) walkAlternative(n *partNode) {
	if len(n.parts) == 0 {
		return
	}
	last := n.parts[len(n.parts)-1]

	if p.haveBody {
		p.addAttachment(last)
		return
	}

	for i := len(n.parts) - 1; i >= 0; i-- {
		child := n.parts[i]
		if !isBodyCandidate(child) {
			continue
		}
		p.walk(child)
		if p.haveBody {
			return
		}
	}

	p.addAttachment(last)
}

func (p *contentWalker) setBody(n *partNode) {
	p.haveBody = true
	p.body = string(n.data)
	p.bodyType = n.mediaType
	if p.bodyType == "" {
		p.bodyType = "text/plain"
	}
}

func (p *contentWalker) addAttachment(n *partNode) {
	for _, child := range n.parts {
		p.addAttachment(child)
	}
	if len(n.parts) > 0 {
		return
	}
	p.atts = append(p.atts, newAttachment(n))
}

// isBodyCandidate reports whether a part may carry the message body:
// textual leaves and nested containers qualify, binary leaves do not.
func isBodyCandidate(n *partNode) bool {
	if strings.HasPrefix(n.mediaType, "multipart/") {
		return true
	}
	return n.mediaType == "text/plain" || n.mediaType == "text/html"
}
