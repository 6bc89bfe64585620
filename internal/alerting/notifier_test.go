package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testNote() Notification {
	return Notification{
		DeviceName:   "Hemma Pool",
		DeviceSerial: "POOL001",
		Metric:       "combined_chlorine",
		Value:        decimal.NewFromFloat(0.9),
		Threshold:    decimal.NewFromFloat(0.5),
		Unit:         "ppm",
		MeasuredAt:   time.Now(),
		Channels:     []string{"telegram"},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "combined_chlorine") {
		t.Fatalf("text should name the metric: %q", received["text"])
	}
	if !strings.Contains(received["text"], "POOL001") {
		t.Fatalf("text should name the device: %q", received["text"])
	}
}

func TestTelegramNotifierNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("ok=false should return an error")
	}
}

func TestTelegramNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("5xx should return an error")
	}
}
