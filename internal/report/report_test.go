package report

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"
)

func TestLogSinkDeliver(t *testing.T) {
	var buf bytes.Buffer
	sink := &LogSink{Log: log.New(&buf, "", 0)}

	err := sink.Deliver(context.Background(), Report{
		Pkgbase: "foo",
		Subject: "build failed",
		Body:    "line one\nline two",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "foo") || !strings.Contains(buf.String(), "build failed") {
		t.Errorf("log output = %q", buf.String())
	}
	if strings.Contains(buf.String(), "line two") {
		t.Error("expected only the first line of the body in the log summary")
	}
}

func TestRuntimeError(t *testing.T) {
	r := RuntimeError(errTest{})
	if r.Pkgbase != "*" {
		t.Errorf("Pkgbase = %q, want *", r.Pkgbase)
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }
