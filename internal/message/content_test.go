package message_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbridge/mailbridge/internal/message"
)

const mixedMail = "Content-Type: multipart/mixed; boundary=frontier\r\n" +
	"Subject: report\r\n" +
	"\r\n" +
	"--frontier\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"hello body\r\n" +
	"--frontier\r\n" +
	"Content-Type: image/png\r\n" +
	"Content-Disposition: attachment; filename=\"pic.png\"\r\n" +
	"\r\n" +
	"PNGDATA\r\n" +
	"--frontier--\r\n"

const alternativeMail = "Content-Type: multipart/alternative; boundary=alt\r\n" +
	"\r\n" +
	"--alt\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"plain rendition\r\n" +
	"--alt\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<b>html rendition</b>\r\n" +
	"--alt--\r\n"

func TestContentMixedBodyAndAttachment(t *testing.T) {
	ctx := context.Background()
	mail := message.NewMail(&fakeMessage{
		contentType: "multipart/mixed; boundary=frontier",
		raw:         []byte(mixedMail),
	})

	body, err := mail.Body(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello body", strings.TrimSpace(body))

	bodyType, err := mail.BodyContentType(ctx)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", bodyType)

	atts, err := mail.Attachments(ctx)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "pic.png", atts[0].Name())
	assert.Equal(t, "image/png", atts[0].MediaType())
	assert.Equal(t, int64(len("PNGDATA")), atts[0].Size())
}

func TestContentAlternativePrefersRichestRendition(t *testing.T) {
	ctx := context.Background()
	mail := message.NewMail(&fakeMessage{
		contentType: "multipart/alternative; boundary=alt",
		raw:         []byte(alternativeMail),
	})

	body, err := mail.Body(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<b>html rendition</b>", strings.TrimSpace(body))

	bodyType, err := mail.BodyContentType(ctx)
	require.NoError(t, err)
	assert.Equal(t, "text/html", bodyType)

	atts, err := mail.Attachments(ctx)
	require.NoError(t, err)
	assert.Empty(t, atts)
}

func TestContentSimpleTextMessage(t *testing.T) {
	ctx := context.Background()
	mail := message.NewMail(&fakeMessage{
		contentType: "text/plain",
		raw:         []byte("Subject: hi\r\nContent-Type: text/plain\r\n\r\nplain body text\r\n"),
	})

	body, err := mail.Body(ctx)
	require.NoError(t, err)
	assert.Equal(t, "plain body text", strings.TrimSpace(body))
}

func TestContentPlaceholderWhenNoTextualPart(t *testing.T) {
	raw := "Content-Type: multipart/mixed; boundary=bin\r\n" +
		"\r\n" +
		"--bin\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"Content-Disposition: attachment; filename=\"blob.bin\"\r\n" +
		"\r\n" +
		"\x01\x02\x03\r\n" +
		"--bin--\r\n"

	ctx := context.Background()
	mail := message.NewMail(&fakeMessage{
		contentType: "multipart/mixed; boundary=bin",
		raw:         []byte(raw),
	})

	body, err := mail.Body(ctx)
	require.NoError(t, err)
	assert.Contains(t, body, "no content available for content type")

	bodyType, err := mail.BodyContentType(ctx)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", bodyType)

	atts, err := mail.Attachments(ctx)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "blob.bin", atts[0].Name())
}

func TestContentUnnamedAttachmentFallback(t *testing.T) {
	raw := "Content-Type: multipart/mixed; boundary=x\r\n" +
		"\r\n" +
		"--x\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n" +
		"--x\r\n" +
		"Content-Type: application/pdf\r\n" +
		"\r\n" +
		"PDF\r\n" +
		"--x--\r\n"

	ctx := context.Background()
	mail := message.NewMail(&fakeMessage{
		contentType: "multipart/mixed; boundary=x",
		raw:         []byte(raw),
	})

	atts, err := mail.Attachments(ctx)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "unnamed", atts[0].Name())
}

func TestContentIsFetchedOnce(t *testing.T) {
	ctx := context.Background()
	fake := &fakeMessage{
		contentType: "multipart/mixed; boundary=frontier",
		raw:         []byte(mixedMail),
	}
	mail := message.NewMail(fake)

	_, err := mail.Body(ctx)
	require.NoError(t, err)
	_, err = mail.Attachments(ctx)
	require.NoError(t, err)
	_, err = mail.BodyContentType(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.rawCalls)
}

func TestAttachmentContentReturnsFreshReader(t *testing.T) {
	ctx := context.Background()
	mail := message.NewMail(&fakeMessage{
		contentType: "multipart/mixed; boundary=frontier",
		raw:         []byte(mixedMail),
	})

	atts, err := mail.Attachments(ctx)
	require.NoError(t, err)
	require.Len(t, atts, 1)

	first, err := io.ReadAll(atts[0].Content())
	require.NoError(t, err)
	second, err := io.ReadAll(atts[0].Content())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}
