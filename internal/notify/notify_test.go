package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRendererConfirmation(t *testing.T) {
	r := NewRenderer("Asia/Kolkata")
	subject, body, err := r.Confirmation(Confirmation{
		UserName:   "Ada",
		MovieTitle: "Dune",
		ShowTime:   time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC),
		Seats:      []string{"A1", "A2"},
		BookingID:  "b1",
	})
	require.NoError(t, err)
	assert.Equal(t, `Payment Confirmation: "Dune" booked!`, subject)
	assert.Contains(t, body, "Hi Ada,")
	assert.Contains(t, body, "3/1/2025")
	assert.Contains(t, body, "6:00:00 PM")
	assert.Contains(t, body, "A1, A2")
}

func TestRendererEscapesHTML(t *testing.T) {
	_, body, err := NewRenderer("UTC").Reminder(Reminder{
		UserName:   "<script>x</script>",
		MovieTitle: "Tom & Jerry",
		ShowTime:   time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "Tom &amp; Jerry")
	assert.Contains(t, body, "8:00:00 PM")
}

func TestRendererNewShow(t *testing.T) {
	subject, body, err := NewRenderer("").NewShow(NewShow{UserName: "Ada", MovieTitle: "Dune"})
	require.NoError(t, err)
	assert.Equal(t, "New Show Added: Dune", subject)
	assert.Contains(t, body, "added a new show")
}

func TestUnknownZoneFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, NewRenderer("Mars/Olympus").Location)
}

func TestLogNotifier(t *testing.T) {
	var n Notifier = LogNotifier{}
	assert.NoError(t, n.Send(context.Background(), "ada@example.com", "hi", "<p>x</p>"))
	assert.ErrorIs(t, n.Send(context.Background(), " ", "hi", ""), ErrNoRecipient)
}

func TestSMTPNotifierBuildsMessage(t *testing.T) {
	_, err := NewSMTPNotifier(SMTPConfig{From: "a@b.c"})
	assert.Error(t, err)

	n, err := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: 2525, From: "no-reply@quickshow.local", FromName: "QuickShow"})
	require.NoError(t, err)
	msg, err := n.message("ada@example.com", "Subject", "<p>body</p>")
	require.NoError(t, err)
	assert.Equal(t, []string{"Subject"}, msg.GetGenHeader("Subject"))

	_, err = n.message("", "s", "b")
	assert.ErrorIs(t, err, ErrNoRecipient)
	_, err = n.message("not an address", "s", "b")
	assert.Error(t, err)
}
