package message_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailbridge/mailbridge/internal/message"
)

func calendarMail(payload string) []byte {
	return []byte("Content-Type: text/calendar; method=REQUEST\r\n" +
		"Content-Class: urn:content-classes:calendarmessage\r\n" +
		"\r\n" + payload)
}

func TestCalendarFoldedDatesParseAsDistinctProperties(t *testing.T) {
	props := message.ParseCalendar(calendarMail(
		"BEGIN:VCALENDAR\r\n" +
			"DTSTART:20240101T090000\r\n" +
			" DTEND:20240101T100000\r\n" +
			"END:VCALENDAR\r\n"))

	start, ok := props.Start()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), start)

	end, ok := props.End()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), end)
}

func TestCalendarBareBlockWithoutEnvelope(t *testing.T) {
	// Calendar text handed over without MIME headers must not be
	// swallowed by the envelope parse.
	props := message.ParseCalendar([]byte(
		"DTSTART:20240101T090000\n DTEND:20240101T100000\n"))

	start, ok := props.Start()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), start)

	end, ok := props.End()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), end)
}

func TestCalendarBareBlockParticipants(t *testing.T) {
	props := message.ParseCalendar([]byte("ATTENDEE:mailto:Alice@Example.com\n"))
	assert.Equal(t, []string{"alice@example.com"}, props.Participants())
}

func TestCalendarContinuationJoinsValue(t *testing.T) {
	// One space marks the fold; the second belongs to the value.
	props := message.ParseCalendar(calendarMail(
		"DESCRIPTION:part one\r\n" +
			"  and part two\r\n"))

	assert.Equal(t, "part one and part two", props.Description())
}

func TestCalendarDescriptionExpandsEscapedNewlines(t *testing.T) {
	props := message.ParseCalendar(calendarMail(
		`DESCRIPTION:line1\Nline2\nline3` + "\r\n"))

	assert.Equal(t, "line1\nline2\nline3", props.Description())
}

func TestCalendarTimezoneQualifiedDate(t *testing.T) {
	props := message.ParseCalendar(calendarMail(
		"TZID:Europe/Berlin\r\n" +
			"DTSTART;TZID=\"Europe/Berlin\":20240315T140000\r\n"))

	start, ok := props.Start()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC), start)
}

func TestCalendarMissingDate(t *testing.T) {
	props := message.ParseCalendar(calendarMail("LOCATION:Room 42\r\n"))

	_, ok := props.Start()
	assert.False(t, ok)
	assert.Equal(t, "Room 42", props.Location())
}

func TestCalendarUnparsableDate(t *testing.T) {
	props := message.ParseCalendar(calendarMail("DTSTART:next tuesday\r\n"))

	_, ok := props.Start()
	assert.False(t, ok)
}

func TestCalendarParticipants(t *testing.T) {
	props := message.ParseCalendar(calendarMail(
		"ORGANIZER:MAILTO:Carol@Example.com\r\n" +
			"ATTENDEE;ROLE=REQ-PARTICIPANT:mailto:Alice@Example.com\r\n" +
			"ATTENDEE:mailto:bob@example.com\r\n" +
			"ATTENDEE:mailto:alice@example.com\r\n"))

	assert.Equal(t, []string{
		"alice@example.com",
		"bob@example.com",
		"carol@example.com",
	}, props.Participants())
	assert.Equal(t, "carol@example.com", props.Organizer())
}

func TestCalendarStatus(t *testing.T) {
	props := message.ParseCalendar(calendarMail("STATUS:CONFIRMED\r\n"))
	assert.Equal(t, "CONFIRMED", props.Status())
}

func TestMeetingPropsAreParsedOnce(t *testing.T) {
	ctx := context.Background()
	fake := &fakeMessage{
		contentType: "text/calendar",
		raw: calendarMail("DTSTART:20240101T090000\r\n" +
			"LOCATION:Room 1\r\n"),
	}
	meeting := message.NewMeeting(fake, zap.NewNop())

	start, ok := meeting.Start(ctx)
	require.True(t, ok)
	assert.Equal(t, 2024, start.Year())
	assert.Equal(t, "Room 1", meeting.Location(ctx))

	_, err := meeting.Props(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.rawCalls)
}
