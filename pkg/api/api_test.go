package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pixelvide/ownmailer/pkg/cache"
	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/pixelvide/ownmailer/pkg/ingest"
	"github.com/pixelvide/ownmailer/pkg/request"
	"github.com/pixelvide/ownmailer/pkg/service"
	"github.com/pixelvide/ownmailer/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const apiKey = "test-key"

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, req request.SendRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Dispatch(ctx context.Context, queueName string, source string, data any) (string, error) {
	args := m.Called(ctx, queueName, source, data)
	return args.String(0), args.Error(1)
}

type testServer struct {
	*httptest.Server
	sender *MockSender
}

func newServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	s := store.NewMemoryStore()
	clock := func() time.Time { return now }
	sender := new(MockSender)
	svc := service.New(s, ingest.NewPipeline(s, cache.NewMemoryStore(), clock), sender, service.Options{Now: clock})

	opts.APIKey = apiKey
	srv := httptest.NewServer(NewRouter(NewHandler(svc, opts)))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, sender: sender}
}

func (s *testServer) do(t *testing.T, method, path string, body any, auth bool) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if auth {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func sendBody(to string) map[string]any {
	return map[string]any{
		"from":    "hello@acme.test",
		"to":      to,
		"subject": "Hi",
		"text":    "hello",
	}
}

func TestAuth(t *testing.T) {
	srv := newServer(t, Options{})

	resp, body := srv.do(t, http.MethodGet, "/api/emails", nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "UNAUTHORIZED")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/emails", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	wrong, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	wrong.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode)

	health, _ := srv.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestSendAndGet(t *testing.T) {
	srv := newServer(t, Options{})
	srv.sender.On("Send", mock.Anything, mock.Anything).Return("ses-1", nil).Once()

	resp, body := srv.do(t, http.MethodPost, "/api/emails", sendBody("bob@example.com"), true)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created map[string]any
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "sent", created["status"])
	assert.Equal(t, "ses-1", created["externalId"])
	id := created["id"].(string)

	resp, body = srv.do(t, http.MethodGet, "/api/emails/"+id, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"id":"`+id+`"`)

	resp, body = srv.do(t, http.MethodGet, "/api/emails?status=sent&limit=10", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Data    []map[string]any `json:"data"`
		HasMore bool             `json:"hasMore"`
	}
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Len(t, page.Data, 1)
	assert.False(t, page.HasMore)
}

func TestErrorMapping(t *testing.T) {
	srv := newServer(t, Options{})
	srv.sender.On("Send", mock.Anything, mock.Anything).Return("", email.NewProviderError("SES request failed", nil)).Once()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"malformed json", http.MethodPost, "/api/emails", []byte(`{`), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"invalid body", http.MethodPost, "/api/emails", map[string]any{"from": "x"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad limit", http.MethodGet, "/api/emails?limit=500", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown email", http.MethodGet, "/api/emails/nope", nil, http.StatusNotFound, "NOT_FOUND"},
		{"provider failure", http.MethodPost, "/api/emails", sendBody("bob@example.com"), http.StatusBadGateway, "PROVIDER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := srv.do(t, tt.method, tt.path, tt.body, true)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))
			var e errorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.Equal(t, tt.code, e.Error.Code)
		})
	}
}

func TestScheduleAndCancel(t *testing.T) {
	srv := newServer(t, Options{})
	b := sendBody("bob@example.com")
	b["scheduledAt"] = now.Add(time.Hour).Format(time.RFC3339)

	resp, body := srv.do(t, http.MethodPost, "/api/emails", b, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created map[string]any
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "scheduled", created["status"])
	id := created["id"].(string)

	resp, body = srv.do(t, http.MethodPost, "/api/emails/"+id+"/cancel", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"cancelled"`)

	resp, body = srv.do(t, http.MethodPost, "/api/emails/"+id+"/cancel", nil, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "CONFLICT")
	srv.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestSendBatch(t *testing.T) {
	srv := newServer(t, Options{})
	srv.sender.On("Send", mock.Anything, mock.Anything).Return("ses-1", nil).Once()
	srv.sender.On("Send", mock.Anything, mock.Anything).Return("", email.NewProviderError("SES sending rate limit exceeded", nil)).Once()

	batch := []any{sendBody("a@example.com"), sendBody("b@example.com"), sendBody("c@example.com")}
	resp, body := srv.do(t, http.MethodPost, "/api/emails/batch", batch, true)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode, string(body))

	var out batchErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 1, out.Index)
	assert.Len(t, out.Data, 1)
	assert.Equal(t, "PROVIDER_ERROR", out.Error.Code)

	resp, _ = srv.do(t, http.MethodPost, "/api/emails/batch", []any{}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIdentitiesWithoutLister(t *testing.T) {
	srv := newServer(t, Options{})
	resp, body := srv.do(t, http.MethodGet, "/api/identities", nil, true)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "PROVIDER_ERROR")
}

func TestSESWebhookInline(t *testing.T) {
	srv := newServer(t, Options{WebhookToken: "hook"})
	srv.sender.On("Send", mock.Anything, mock.Anything).Return("ses-1", nil).Once()
	resp, body := srv.do(t, http.MethodPost, "/api/emails", sendBody("bob@example.com"), true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]any
	require.NoError(t, json.Unmarshal(body, &created))

	message := `{"eventType":"Bounce","mail":{"messageId":"ses-1"},"bounce":{"bounceType":"Permanent","timestamp":"2024-05-01T12:01:00.000Z"}}`
	sns, err := json.Marshal(map[string]string{"Type": "Notification", "MessageId": "sns-1", "Message": message})
	require.NoError(t, err)

	resp, _ = srv.do(t, http.MethodPost, "/api/webhooks/ses", sns, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = srv.do(t, http.MethodPost, "/api/webhooks/ses?token=hook", sns, false)
	require.Equal(t, http.StatusNoContent, resp.StatusCode, string(body))

	resp, body = srv.do(t, http.MethodGet, "/api/emails/"+created["id"].(string), nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"bounced"`)

	resp, _ = srv.do(t, http.MethodPost, "/api/webhooks/ses?token=hook", []byte("not json"), false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhooksQueued(t *testing.T) {
	publisher := new(MockPublisher)
	srv := newServer(t, Options{Publisher: publisher, QueueName: "events"})

	sns := []byte(`{"Type":"Notification","MessageId":"sns-1","Message":"{}"}`)
	publisher.On("Dispatch", mock.Anything, "events", "ses", mock.MatchedBy(func(data any) bool {
		b, ok := data.([]byte)
		return ok && bytes.Equal(b, sns)
	})).Return("job-1", nil).Once()
	publisher.On("Dispatch", mock.Anything, "events", service.SourceResend, mock.MatchedBy(func(data any) bool {
		d, ok := data.(service.ResendDelivery)
		return ok && d.ID == "msg_1"
	})).Return("job-2", nil).Once()

	resp, _ := srv.do(t, http.MethodPost, "/api/webhooks/ses", sns, false)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/webhooks/resend", bytes.NewReader([]byte(`{"type":"email.opened","data":{"email_id":"re_1"}}`)))
	require.NoError(t, err)
	req.Header.Set("svix-id", "msg_1")
	r2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	r2.Body.Close()
	assert.Equal(t, http.StatusAccepted, r2.StatusCode)

	publisher.AssertExpectations(t)
}

func TestWebhookQueueFailure(t *testing.T) {
	publisher := new(MockPublisher)
	publisher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("redis down"))
	srv := newServer(t, Options{Publisher: publisher})

	resp, body := srv.do(t, http.MethodPost, "/api/webhooks/ses", []byte(`{"Type":"Notification"}`), false)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "STORE_ERROR")
}
