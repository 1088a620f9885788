package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWebhookClient_Deliver_Success(t *testing.T) {
	t.Parallel()

	type gotReq struct {
		Method      string
		ContentType string
		Signature   string
		Body        []byte
	}

	var captured gotReq

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.ContentType = r.Header.Get("Content-Type")
		captured.Signature = r.Header.Get(SignatureHeader)

		b, _ := ioReadAll(r)
		captured.Body = b

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"message":"Accepted","messageId":"abc-123"}`))
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msgID, err := c.Deliver(ctx, Payload{Recipient: "+361234567", Message: "hello"})
	if err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}
	if msgID != "abc-123" {
		t.Fatalf("expected messageId %q, got %q", "abc-123", msgID)
	}

	if captured.Method != http.MethodPost {
		t.Fatalf("expected method POST, got %q", captured.Method)
	}
	if captured.ContentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", captured.ContentType)
	}
	if captured.Signature != "" {
		t.Fatalf("expected no signature without secret, got %q", captured.Signature)
	}

	var req Payload
	if err := json.Unmarshal(captured.Body, &req); err != nil {
		t.Fatalf("failed to decode request json: %v body=%q", err, string(captured.Body))
	}
	if req.Recipient != "+361234567" {
		t.Fatalf("expected recipient %q, got %q", "+361234567", req.Recipient)
	}
	if req.Message != "hello" {
		t.Fatalf("expected message %q, got %q", "hello", req.Message)
	}
}

func TestWebhookClient_Deliver_SignsBodyWithSecret(t *testing.T) {
	t.Parallel()

	var (
		signature string
		body      []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get(SignatureHeader)
		body, _ = ioReadAll(r)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"messageId":"m-1"}`))
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, WithSecret("s3cret"))

	_, err := c.Deliver(context.Background(), Payload{
		Recipient:   "+36",
		Message:     "expires soon",
		MessageType: "expiry-warning",
		Template:    "subscription_expiry_v2",
	})
	if err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}

	if want := Sign([]byte("s3cret"), body); signature != want {
		t.Fatalf("expected signature %q, got %q", want, signature)
	}
	if !strings.HasPrefix(signature, "sha256=") {
		t.Fatalf("expected sha256= prefix, got %q", signature)
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if p.Template != "subscription_expiry_v2" || p.MessageType != "expiry-warning" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestWebhookClient_Deliver_UnexpectedStatus_ReturnsErrorWithBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL)

	_, err := c.Deliver(context.Background(), Payload{Recipient: "+361", Message: "hi"})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	msg := err.Error()
	if !strings.Contains(msg, "unexpected status code: 502") {
		t.Fatalf("expected error to mention status code, got: %v", err)
	}
	if !strings.Contains(msg, `body="upstream down"`) {
		t.Fatalf("expected error to include body, got: %v", err)
	}
}

func TestWebhookClient_Deliver_InvalidJSON_ReturnsErrorWithBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("THIS IS NOT JSON"))
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL)

	_, err := c.Deliver(context.Background(), Payload{Recipient: "+361", Message: "hi"})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	msg := err.Error()
	if !strings.Contains(msg, "failed to decode json") {
		t.Fatalf("expected decode error, got: %v", err)
	}
	if !strings.Contains(msg, `body="THIS IS NOT JSON"`) {
		t.Fatalf("expected error to include body, got: %v", err)
	}
}

func TestWebhookClient_Deliver_MissingMessageId_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"message":"Accepted"}`))
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL)

	_, err := c.Deliver(context.Background(), Payload{Recipient: "+361", Message: "hi"})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "missing messageId") {
		t.Fatalf("expected missing messageId error, got: %v", err)
	}
}

func TestWebhookClient_Deliver_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"message":"Accepted","messageId":"abc"}`))
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Deliver(ctx, Payload{Recipient: "+361", Message: "hi"})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	if !strings.Contains(strings.ToLower(err.Error()), "context") &&
		!strings.Contains(strings.ToLower(err.Error()), "deadline") {
		t.Fatalf("expected context/deadline error, got: %v", err)
	}
}

func ioReadAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
