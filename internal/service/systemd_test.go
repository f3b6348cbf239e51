package service

import (
	"os"
	"strings"
	"testing"
)

func TestWriteUnit(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path, err := WriteUnit(UnitParams{
		Binary: "/usr/local/bin/callsense",
		Config: "/etc/callsense.toml",
		Env:    map[string]string{"CALLSENSE_LOG_LEVEL": "debug", "CALLSENSE_LLM_URL": "http://gpu:11434/api/generate"},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	unit := string(b)
	for _, want := range []string{
		"ExecStart=/usr/local/bin/callsense serve --config /etc/callsense.toml",
		`Environment="CALLSENSE_LLM_URL=http://gpu:11434/api/generate"`,
		`Environment="CALLSENSE_LOG_LEVEL=debug"`,
	} {
		if !strings.Contains(unit, want) {
			t.Fatalf("unit missing %q:\n%s", want, unit)
		}
	}
	if strings.Index(unit, "CALLSENSE_LLM_URL") > strings.Index(unit, "CALLSENSE_LOG_LEVEL") {
		t.Fatalf("env not sorted")
	}
	if p, ok := Status(DefaultName); !ok || p != path {
		t.Fatalf("status %s %v", p, ok)
	}
}
