package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/pixelvide/ownmailer/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const sesDelivery = `{"eventType":"Delivery","mail":{"timestamp":"2024-05-01T12:00:00.000Z","messageId":"ses-1"},"delivery":{"timestamp":"2024-05-01T12:00:05.000Z","smtpResponse":"250 OK"}}`

func snsNotification(t *testing.T, id, message string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"Type":      "Notification",
		"MessageId": id,
		"TopicArn":  "arn:aws:sns:eu-west-1:123456789012:ses-events",
		"Message":   message,
		"Timestamp": "2024-05-01T12:00:06.000Z",
	})
	require.NoError(t, err)
	return body
}

func sentEmail(t *testing.T, f *fixture, externalID string) *email.Email {
	t.Helper()
	f.sender.On("Send", mock.Anything, mock.Anything).Return(externalID, nil).Once()
	e, err := f.svc.SendEmail(context.Background(), body("bob@example.com"))
	require.NoError(t, err)
	return e
}

func TestHandleSNS_Notification(t *testing.T) {
	f := newFixture(t)
	sent := sentEmail(t, f, "ses-1")
	ctx := context.Background()

	msg := snsNotification(t, "sns-1", sesDelivery)
	require.NoError(t, f.svc.HandleSNS(ctx, msg))
	require.NoError(t, f.svc.HandleSNS(ctx, msg))

	e, err := f.svc.GetEmail(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, email.StatusDelivered, e.Status())
	assert.Len(t, e.Logs(), 2)
}

func TestHandleSNS_IgnoredTypes(t *testing.T) {
	f := newFixture(t)
	sentEmail(t, f, "ses-1")

	send := `{"eventType":"Send","mail":{"messageId":"ses-1"},"send":{}}`
	assert.NoError(t, f.svc.HandleSNS(context.Background(), snsNotification(t, "sns-2", send)))
	assert.NoError(t, f.svc.HandleSNS(context.Background(), []byte(`{"Type":"UnsubscribeConfirmation","MessageId":"x"}`)))
}

type recordingTransport struct {
	urls []string
}

func (rt *recordingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	rt.urls = append(rt.urls, r.URL.String())
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("")),
		Header:     make(http.Header),
		Request:    r,
	}, nil
}

func confirmation(t *testing.T, subscribeURL string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"Type":         "SubscriptionConfirmation",
		"MessageId":    "sns-confirm",
		"TopicArn":     "arn:aws:sns:eu-west-1:123456789012:ses-events",
		"SubscribeURL": subscribeURL,
		"Token":        "abc",
	})
	require.NoError(t, err)
	return body
}

func TestHandleSNS_SubscriptionConfirmation(t *testing.T) {
	f := newFixture(t)
	transport := &recordingTransport{}
	svc := New(f.store, nil, f.sender, Options{HTTPClient: &http.Client{Transport: transport}})

	target := "https://sns.eu-west-1.amazonaws.com/?Action=ConfirmSubscription&Token=abc"
	require.NoError(t, svc.HandleSNS(context.Background(), confirmation(t, target)))
	assert.Equal(t, []string{target}, transport.urls)
}

func TestHandleSNS_SubscriptionConfirmationForeignHost(t *testing.T) {
	f := newFixture(t)
	transport := &recordingTransport{}
	svc := New(f.store, nil, f.sender, Options{HTTPClient: &http.Client{Transport: transport}})

	err := svc.HandleSNS(context.Background(), confirmation(t, "http://127.0.0.1:8080/admin"))
	assert.True(t, email.IsValidation(err))
	assert.Empty(t, transport.urls)
}

func TestHandleSNS_Malformed(t *testing.T) {
	f := newFixture(t)
	err := f.svc.HandleSNS(context.Background(), []byte(`{`))
	assert.True(t, email.IsValidation(err))
}

func TestHandleResend(t *testing.T) {
	f := newFixture(t)
	sent := sentEmail(t, f, "re_1")
	ctx := context.Background()

	opened := []byte(`{"type":"email.opened","created_at":"2024-05-01T12:05:00Z","data":{"email_id":"re_1"}}`)
	require.NoError(t, f.svc.HandleResend(ctx, opened, "msg_1"))

	ignored := []byte(`{"type":"email.sent","created_at":"2024-05-01T12:00:00Z","data":{"email_id":"re_1"}}`)
	require.NoError(t, f.svc.HandleResend(ctx, ignored, "msg_2"))

	e, err := f.svc.GetEmail(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, email.StatusOpened, e.Status())
	assert.Len(t, e.Logs(), 2)
}

func TestRegisterJobs(t *testing.T) {
	f := newFixture(t)
	sent := sentEmail(t, f, "ses-1")
	f.svc.RegisterJobs()
	ctx := context.Background()

	ses, err := queue.GetHandler(queue.SourceSNS)
	require.NoError(t, err)

	// a bare SES event, as written by SQS raw message delivery
	raw, err := queue.DecodeEnvelope([]byte(sesDelivery))
	require.NoError(t, err)
	raw.UUID = "sqs-1"
	require.NoError(t, ses(ctx, &queue.Job{Envelope: raw}))

	// an SNS envelope, as written by a queued webhook
	wrapped := &queue.Envelope{UUID: "job-1", Source: queue.SourceSNS, Data: snsNotification(t, "sns-9", `{"eventType":"Open","mail":{"messageId":"ses-1"},"open":{"timestamp":"2024-05-01T12:10:00.000Z"}}`)}
	require.NoError(t, ses(ctx, &queue.Job{Envelope: wrapped}))

	resend, err := queue.GetHandler(SourceResend)
	require.NoError(t, err)
	data, err := json.Marshal(ResendDelivery{ID: "msg_1", Body: json.RawMessage(`{"type":"email.unknown","data":{"email_id":"ses-1"}}`)})
	require.NoError(t, err)
	err = resend(ctx, &queue.Job{Envelope: &queue.Envelope{Source: SourceResend, Data: data}})
	assert.True(t, email.IsValidation(err))

	e, err := f.svc.GetEmail(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, email.StatusOpened, e.Status())
	assert.Len(t, e.Logs(), 3)
}
