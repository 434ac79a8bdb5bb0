package message

import (
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/mailbridge/mailbridge/internal/mailbox"
)

// calendarContentClass is the vendor marker Exchange servers put on
// calendar messages.
const calendarContentClass = "urn:content-classes:calendarmessage"

// reportContentType is the delivery-status-notification convention.
const reportContentType = "multipart/report"

// Classify inspects a message's flags and headers and decides its
// category. It has no side effects and is safe to call repeatedly on an
// unchanged message.
func Classify(msg mailbox.Message) Category {
	if isMeeting(msg) {
		return CategoryMeeting
	}
	if mediaType(msg.ContentType()) == reportContentType {
		return CategoryReport
	}
	return CategoryMail
}

// isMeeting checks the vendor content-class header first, then falls
// back to the content-type prefix. Deleted messages are never
// classified as actionable meetings.
func isMeeting(msg mailbox.Message) bool {
	if msg.HasFlag(imap.FlagDeleted) {
		return false
	}

	if values := msg.Header("Content-Class"); len(values) > 0 {
		for _, v := range values {
			if strings.EqualFold(strings.TrimSpace(v), calendarContentClass) {
				return true
			}
		}
		// The header is authoritative when present.
		return false
	}

	return strings.HasPrefix(strings.ToLower(msg.ContentType()), "text/calendar")
}

// mediaType lower-cases a Content-Type header value and strips any
// parameters.
func mediaType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
