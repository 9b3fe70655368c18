// Package config parses the cluster topology file the coordinator is
// pointed at with -C: a decimal node count followed by one line per
// node, "host client_port peer_port control_port".
package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// NodeConfig is one line of the cluster file, parsed and normalized.
// If Host contained a "user@host" form, User and Host are split so
// the spawn contract can tell local nodes from ssh-launched ones.
type NodeConfig struct {
	Host        string
	User        string // empty unless Host was given as "user@host"
	ClientPort  int
	PeerPort    int
	ControlPort int
}

// Remote reports whether this node must be launched over ssh.
func (n NodeConfig) Remote() bool { return n.User != "" }

// ParseClusterFile reads the cluster topology file format: a first
// line holding a decimal node count N >= 3, followed by exactly N
// lines of "host client_port peer_port control_port".
func ParseClusterFile(r io.Reader) ([]NodeConfig, error) {
	scanner := bufio.NewScanner(r)

	if !scanner.Scan() {
		return nil, fmt.Errorf("config: empty cluster file")
	}
	countLine := strings.TrimSpace(scanner.Text())
	n, err := strconv.Atoi(countLine)
	if err != nil {
		return nil, fmt.Errorf("config: invalid node count %q: %w", countLine, err)
	}
	if n < 3 {
		return nil, fmt.Errorf("config: node count %d below minimum of 3", n)
	}

	nodes := make([]NodeConfig, 0, n)
	for i := 0; i < n; i++ {
		if !scanner.Scan() {
			return nil, fmt.Errorf("config: expected %d node lines, found %d", n, len(nodes))
		}
		line := strings.TrimSpace(scanner.Text())
		nc, err := parseNodeLine(line)
		if err != nil {
			return nil, fmt.Errorf("config: line %d: %w", i+2, err)
		}
		nodes = append(nodes, nc)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading cluster file: %w", err)
	}
	return nodes, nil
}

func parseNodeLine(line string) (NodeConfig, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return NodeConfig{}, fmt.Errorf("expected 4 fields, got %d in %q", len(fields), line)
	}

	hostField := fields[0]
	var nc NodeConfig
	if at := strings.IndexByte(hostField, '@'); at >= 0 {
		nc.User = hostField[:at]
		nc.Host = hostField[at+1:]
	} else {
		nc.Host = hostField
	}
	if nc.Host == "" {
		return NodeConfig{}, fmt.Errorf("empty host in %q", line)
	}

	ports := [3]*int{&nc.ClientPort, &nc.PeerPort, &nc.ControlPort}
	for i, p := range ports {
		v, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return NodeConfig{}, fmt.Errorf("invalid port %q: %w", fields[i+1], err)
		}
		*p = v
	}
	return nc, nil
}
