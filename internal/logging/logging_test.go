package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/juju/loggo"
)

func TestConfigure(t *testing.T) {
	defer loggo.ResetLogging()

	var buf bytes.Buffer
	if err := Configure("INFO", &buf); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	logger := loggo.GetLogger("hytalectl.test")
	logger.Debugf("hidden")
	logger.Infof("backup %s created", "hytale_1.tar.gz")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at INFO: %q", out)
	}
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "test backup hytale_1.tar.gz created") {
		t.Errorf("output = %q", out)
	}

	buf.Reset()
	if err := Configure("debug", &buf); err != nil {
		t.Fatal(err)
	}
	logger.Debugf("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("debug line missing at DEBUG: %q", buf.String())
	}
}

func TestConfigureBadLevel(t *testing.T) {
	defer loggo.ResetLogging()
	if err := Configure("LOUD", &bytes.Buffer{}); err == nil {
		t.Error("Configure() error = nil, want unknown level")
	}
}
