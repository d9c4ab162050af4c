package apperr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnclassified},
		{"plain", errors.New("boom"), KindUnclassified},
		{"typed", New(KindProviderNotFound, "weather.fetch", nil), KindProviderNotFound},
		{"wrapped typed", fmt.Errorf("outer: %w", New(KindEngine, "agent.generate", errors.New("quota"))), KindEngine},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout},
		{"canceled", context.Canceled, KindUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestEveryKindHasStableMessage(t *testing.T) {
	t.Parallel()

	seen := make(map[string]Kind)
	for kind := KindUnclassified; kind <= KindEngine; kind++ {
		msg := kind.UserMessage()
		if msg == "" {
			t.Fatalf("kind %v has empty message", kind)
		}
		if msg != kind.UserMessage() {
			t.Fatalf("kind %v message is not stable", kind)
		}
		if other, dup := seen[msg]; dup {
			t.Fatalf("kinds %v and %v share message %q", kind, other, msg)
		}
		seen[msg] = kind
	}

	if KindProviderNotFound.UserMessage() != "Location not found." {
		t.Fatalf("unexpected not-found message %q", KindProviderNotFound.UserMessage())
	}
	if Kind(99).UserMessage() != MsgUnclassified {
		t.Fatal("unknown kind should fall back to unclassified message")
	}
}

func TestReportDoesNotLeakDetail(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	err := New(KindProviderTransport, "weather.fetch", errors.New("dial tcp 10.0.0.1:80: secret-host refused"))
	kind, msg := Report(logger, err, "session_id", "s1")

	if kind != KindProviderTransport {
		t.Fatalf("kind = %v", kind)
	}
	if strings.Contains(msg, "secret-host") {
		t.Fatalf("user message leaked internal detail: %q", msg)
	}
	if !strings.Contains(buf.String(), "secret-host") {
		t.Fatalf("expected internal detail in log, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "provider_transport_error") {
		t.Fatalf("expected kind in log, got %q", buf.String())
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrap: %w", New(KindTimeout, "dispatch.invoke", context.DeadlineExceeded))
	if !errors.Is(err, &Error{Kind: KindTimeout}) {
		t.Fatal("expected errors.Is to match on kind")
	}
	if errors.Is(err, &Error{Kind: KindEngine}) {
		t.Fatal("unexpected match on different kind")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected cause to remain reachable")
	}
}
