package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	log.Error(ctx, "boom", errors.New("boom"))

	for _, want := range []string{`"request_id":"req-123"`, `"error":"boom"`, `"stack"`, `"service":"test"`} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Fatalf("expected %s in entry=%s", want, buf.String())
		}
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	for _, withStack := range []bool{true, false} {
		buf := &bytes.Buffer{}
		log := New(Options{ServiceName: "test", Output: buf, WarnStack: withStack})
		log.Warn(context.Background(), "claim went stale")
		if got := bytes.Contains(buf.Bytes(), []byte(`"stack"`)); got != withStack {
			t.Fatalf("warnStack=%v but stack present=%v: %s", withStack, got, buf.String())
		}
	}
}

func TestParseLevelDefaults(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"invalid": zerolog.InfoLevel,
		" DEBUG ": zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: zerolog.WarnLevel, Output: buf})
	log.Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %s", buf.String())
	}
}

func TestLoggerOperatorAndOrderFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := log.WithOperator(context.Background(), "ops@shop", "admin")
	ctx = log.WithOrderID(ctx, "ORD-1")
	log.Info(ctx, "delivered")

	for _, want := range []string{`"operator":"ops@shop"`, `"operator_role":"admin"`, `"order_id":"ORD-1"`} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Fatalf("expected %s in entry=%s", want, buf.String())
		}
	}
}

func TestLoggerFieldsDoNotLeakAcrossContexts(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf, Format: FormatJSON})

	parent := context.Background()
	_ = log.WithOrderID(parent, "ORD-2")
	log.Info(parent, "sweep")
	if bytes.Contains(buf.Bytes(), []byte("ORD-2")) {
		t.Fatalf("child field leaked into parent context: %s", buf.String())
	}
	log.Info(nil, "nil context still logs")
	if !bytes.Contains(buf.Bytes(), []byte("nil context still logs")) {
		t.Fatalf("expected entry for nil context")
	}
}
