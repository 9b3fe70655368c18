package config

import (
	"strings"
	"testing"
)

func TestParseClusterFile(t *testing.T) {
	input := "3\n" +
		"localhost 9000 9100 9200\n" +
		"localhost 9001 9101 9201\n" +
		"alice@worker2 9002 9102 9202\n"

	nodes, err := ParseClusterFile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseClusterFile: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(nodes))
	}

	if nodes[0].Host != "localhost" || nodes[0].Remote() {
		t.Errorf("node 0 = %+v, want local localhost", nodes[0])
	}
	if nodes[2].Host != "worker2" || nodes[2].User != "alice" || !nodes[2].Remote() {
		t.Errorf("node 2 = %+v, want remote alice@worker2", nodes[2])
	}
	if nodes[1].ClientPort != 9001 || nodes[1].PeerPort != 9101 || nodes[1].ControlPort != 9201 {
		t.Errorf("node 1 ports = %+v", nodes[1])
	}
}

func TestParseClusterFileRejectsFewerThanThreeNodes(t *testing.T) {
	input := "2\nlocalhost 1 2 3\nlocalhost 4 5 6\n"
	if _, err := ParseClusterFile(strings.NewReader(input)); err == nil {
		t.Error("expected error for N < 3")
	}
}

func TestParseClusterFileRejectsMalformedCount(t *testing.T) {
	if _, err := ParseClusterFile(strings.NewReader("not-a-number\n")); err == nil {
		t.Error("expected error for non-numeric count")
	}
}

func TestParseClusterFileRejectsShortLine(t *testing.T) {
	input := "3\nlocalhost 1 2 3\nlocalhost 4 5\nlocalhost 7 8 9\n"
	_, err := ParseClusterFile(strings.NewReader(input))
	if err == nil {
		t.Error("expected error for malformed node line")
	}
}

func TestParseClusterFileRejectsTruncatedFile(t *testing.T) {
	input := "3\nlocalhost 1 2 3\n"
	_, err := ParseClusterFile(strings.NewReader(input))
	if err == nil || !strings.Contains(err.Error(), "expected 3 node lines") {
		t.Errorf("err = %v, want truncated-file error", err)
	}
}
