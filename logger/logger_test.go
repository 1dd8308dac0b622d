package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestConfigureRejectsBadInput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	log := New()
	if err := log.Configure("loudest", "json", "stdout", 0); err == nil {
		t.Fatal("invalid level accepted")
	}
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatal("invalid format accepted")
	}
}

func TestConfigureLevels(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	log := New()
	if err := log.Configure("debug", "json", "stderr", 0); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level = %v, want debug", log.GetLevel())
	}
}

func TestEntryCarriesFields(t *testing.T) {
	log := New()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithComponent("reconciler").WithFields(Fields{"market": "BTC-USD"}).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if line["component"] != "reconciler" || line["market"] != "BTC-USD" {
		t.Fatalf("fields missing from line: %v", line)
	}
	if line["message"] != "hello" {
		t.Fatalf("message key remapping lost: %v", line)
	}
}
