package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deliveryEvent = `{
  "eventType": "Delivery",
  "mail": {
    "timestamp": "2024-05-01T12:00:00.000Z",
    "source": "sender@example.com",
    "messageId": "0100018f-ses-id",
    "destination": ["to@example.com"]
  },
  "delivery": {
    "timestamp": "2024-05-01T12:00:05.000Z",
    "processingTimeMillis": 5000,
    "recipients": ["to@example.com"],
    "smtpResponse": "250 ok"
  }
}`

func snsEnvelope(t *testing.T, typ, message string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"Type":      typ,
		"MessageId": "sns-msg-1",
		"TopicArn":  "arn:aws:sns:eu-west-1:123456789012:ses-events",
		"Message":   message,
		"Timestamp": "2024-05-01T12:00:06.000Z",
	})
	require.NoError(t, err)
	return body
}

func TestDecodeSES(t *testing.T) {
	pe, err := DecodeSES([]byte(deliveryEvent), "evt-1")
	require.NoError(t, err)
	require.NotNil(t, pe)

	assert.Equal(t, "0100018f-ses-id", pe.ExternalID)
	assert.Equal(t, "Delivery", pe.Tag)
	assert.Equal(t, "evt-1", pe.EventID)
	require.NotNil(t, pe.Timestamp)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC).Unix(), *pe.Timestamp)
	assert.JSONEq(t, `{
		"timestamp": "2024-05-01T12:00:05.000Z",
		"processingTimeMillis": 5000,
		"recipients": ["to@example.com"],
		"smtpResponse": "250 ok"
	}`, string(pe.Payload))
}

func TestDecodeSES_LegacyNotificationType(t *testing.T) {
	body := `{
		"notificationType": "Bounce",
		"mail": {"messageId": "m-1", "timestamp": "2024-05-01T12:00:00Z"},
		"bounce": {"bounceType": "Permanent"}
	}`

	pe, err := DecodeSES([]byte(body), "")
	require.NoError(t, err)
	assert.Equal(t, "Bounce", pe.Tag)
	assert.JSONEq(t, `{"bounceType": "Permanent"}`, string(pe.Payload))
	// no bounce timestamp, so the send time is used
	require.NotNil(t, pe.Timestamp)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Unix(), *pe.Timestamp)
}

func TestDecodeSES_Ignored(t *testing.T) {
	pe, err := DecodeSES([]byte(`{"eventType": "Send", "mail": {"messageId": "m-1"}, "send": {}}`), "")
	require.NoError(t, err)
	assert.Nil(t, pe)
}

func TestDecodeSES_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":      `{`,
		"no type":       `{"mail": {"messageId": "m-1"}}`,
		"no message id": `{"eventType": "Delivery", "delivery": {}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSES([]byte(body), "")
			require.Error(t, err)
			assert.True(t, email.IsValidation(err))
		})
	}
}

func TestDecodeSES_MissingDetail(t *testing.T) {
	pe, err := DecodeSES([]byte(`{"eventType": "Open", "mail": {"messageId": "m-1"}}`), "")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(pe.Payload))
	assert.Nil(t, pe.Timestamp)
}

func TestDecodeSNS_Notification(t *testing.T) {
	decoded, err := DecodeSNS(snsEnvelope(t, TypeNotification, deliveryEvent))
	require.NoError(t, err)
	require.NotNil(t, decoded.Event)
	assert.Nil(t, decoded.Confirmation)
	assert.False(t, decoded.Ignored())
	assert.Equal(t, "sns-msg-1", decoded.Event.EventID)
	assert.Equal(t, "0100018f-ses-id", decoded.Event.ExternalID)
}

func TestDecodeSNS_EnvelopeTimestampFallback(t *testing.T) {
	decoded, err := DecodeSNS(snsEnvelope(t, TypeNotification, `{"eventType": "Open", "mail": {"messageId": "m-1"}}`))
	require.NoError(t, err)
	require.NotNil(t, decoded.Event.Timestamp)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 6, 0, time.UTC).Unix(), *decoded.Event.Timestamp)
}

func TestDecodeSNS_SubscriptionConfirmation(t *testing.T) {
	body, err := json.Marshal(map[string]string{
		"Type":         TypeSubscriptionConfirmation,
		"MessageId":    "sns-msg-2",
		"Token":        "tok",
		"SubscribeURL": "https://sns.eu-west-1.amazonaws.com/?Action=ConfirmSubscription",
		"Message":      "You have chosen to subscribe",
		"Timestamp":    "2024-05-01T12:00:06.000Z",
	})
	require.NoError(t, err)

	decoded, err := DecodeSNS(body)
	require.NoError(t, err)
	require.NotNil(t, decoded.Confirmation)
	assert.Nil(t, decoded.Event)
	assert.Equal(t, "tok", decoded.Confirmation.Token)
}

func TestDecodeSNS_Errors(t *testing.T) {
	_, err := DecodeSNS([]byte(`not json`))
	assert.True(t, email.IsValidation(err))

	_, err = DecodeSNS(snsEnvelope(t, "Mystery", "{}"))
	assert.True(t, email.IsValidation(err))

	_, err = DecodeSNS(snsEnvelope(t, TypeSubscriptionConfirmation, "{}"))
	assert.True(t, email.IsValidation(err))

	decoded, err := DecodeSNS(snsEnvelope(t, TypeUnsubscribeConfirmation, "{}"))
	require.NoError(t, err)
	assert.True(t, decoded.Ignored())
}

func TestDecodeResend(t *testing.T) {
	body := `{
		"type": "email.opened",
		"created_at": "2024-05-01T12:10:00.000Z",
		"data": {"email_id": "re-42", "to": ["to@example.com"]}
	}`

	pe, err := DecodeResend([]byte(body), "msg_2abc")
	require.NoError(t, err)
	require.NotNil(t, pe)
	assert.Equal(t, "re-42", pe.ExternalID)
	assert.Equal(t, "email.opened", pe.Tag)
	assert.Equal(t, "msg_2abc", pe.EventID)
	require.NotNil(t, pe.Timestamp)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 10, 0, 0, time.UTC).Unix(), *pe.Timestamp)
	assert.JSONEq(t, `{"email_id": "re-42", "to": ["to@example.com"]}`, string(pe.Payload))
}

func TestDecodeResend_IgnoredAndInvalid(t *testing.T) {
	pe, err := DecodeResend([]byte(`{"type": "email.sent", "data": {"email_id": "re-1"}}`), "")
	require.NoError(t, err)
	assert.Nil(t, pe)

	_, err = DecodeResend([]byte(`{"type": "email.delivered", "data": {}}`), "")
	assert.True(t, email.IsValidation(err))
}

// stubTransport answers every request with status and records the URLs.
type stubTransport struct {
	status int
	urls   []string
}

func (s *stubTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	s.urls = append(s.urls, r.URL.String())
	return &http.Response{
		StatusCode: s.status,
		Status:     http.StatusText(s.status),
		Body:       io.NopCloser(strings.NewReader("")),
		Header:     make(http.Header),
		Request:    r,
	}, nil
}

const subscribeURL = "https://sns.eu-west-1.amazonaws.com/?Action=ConfirmSubscription&Token=tok"

func TestConfirm(t *testing.T) {
	transport := &stubTransport{status: http.StatusOK}
	err := Confirm(context.Background(), &http.Client{Transport: transport}, &Envelope{SubscribeURL: subscribeURL})
	require.NoError(t, err)
	assert.Equal(t, []string{subscribeURL}, transport.urls)
}

func TestConfirm_Failure(t *testing.T) {
	transport := &stubTransport{status: http.StatusForbidden}
	err := Confirm(context.Background(), &http.Client{Transport: transport}, &Envelope{SubscribeURL: subscribeURL})
	require.Error(t, err)
	assert.True(t, email.IsProvider(err))
}

func TestConfirm_RejectsForeignURL(t *testing.T) {
	urls := []string{
		"http://sns.eu-west-1.amazonaws.com/?Action=ConfirmSubscription",
		"https://169.254.169.254/latest/meta-data/",
		"https://internal.example.com/",
		"https://sns.eu-west-1.amazonaws.com.evil.test/",
		"https://sns.eu-west-1.amazonaws.com:8443/",
		"https://user@sns.eu-west-1.amazonaws.com/",
	}
	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			transport := &stubTransport{status: http.StatusOK}
			err := Confirm(context.Background(), &http.Client{Transport: transport}, &Envelope{SubscribeURL: u})
			require.Error(t, err)
			assert.True(t, email.IsValidation(err))
			assert.Empty(t, transport.urls)
		})
	}

	assert.NoError(t, CheckSubscribeURL("https://sns.cn-north-1.amazonaws.com.cn/?Action=ConfirmSubscription"))
}

func TestDecodeSNS_ForeignSubscribeURL(t *testing.T) {
	body, err := json.Marshal(map[string]string{
		"Type":         TypeSubscriptionConfirmation,
		"MessageId":    "sns-msg-3",
		"SubscribeURL": "http://localhost:6379/",
	})
	require.NoError(t, err)

	_, err = DecodeSNS(body)
	assert.True(t, email.IsValidation(err))
}
