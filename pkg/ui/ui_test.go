package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrinterLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Skip("network already at %s", "192.168.100.101/24")
	p.Change("hostname set to %s", "master")
	p.Rollback("restored %s", "/etc/ssh/sshd_config")
	p.Fail("apply failed")

	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %q", len(lines), out)
	}
	for _, want := range []string{"192.168.100.101/24", "hostname set to master", "/etc/ssh/sshd_config", "apply failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestNilPrinter(t *testing.T) {
	var p *Printer
	p.Skip("nothing")
	p.Print("nothing")
}

func TestTable(t *testing.T) {
	out := Table([]string{"node", "outcome"}, [][]string{{"worker1", "succeeded"}})
	if !strings.Contains(out, "worker1") || !strings.Contains(out, "succeeded") {
		t.Errorf("table missing cells:\n%s", out)
	}
}
