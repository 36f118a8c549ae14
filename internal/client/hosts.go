package client

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/innernet-go/meshnet/internal/meshnet"
)

// HostsFile rewrites a single named, delimited block within a hosts file,
// leaving everything outside that block untouched. Grounded on
// original_source/client/src/main.rs::update_hosts_file (which delegates
// to the innernet project's own hostsfile crate); no library in the
// retrieval pack covers this narrow a concern, so the marker-delimited
// block rewrite is hand-rolled against the standard library rather than
// pulling in an unrelated third-party hosts-file package (see DESIGN.md).
type HostsFile struct {
	Tag string // identifies this block, e.g. "meshnet wg0"
}

func (h *HostsFile) beginMarker() string { return fmt.Sprintf("# %s BEGIN", h.Tag) }
func (h *HostsFile) endMarker() string   { return fmt.Sprintf("# %s END", h.Tag) }

// Write rewrites path's managed block with one hostname entry per peer,
// named "<peer-name>.<interface>.wg", and writes the file atomically,
// keeping the existing file's permissions (0644 for a new file).
func (h *HostsFile) Write(path string, peers []meshnet.Peer, interfaceName string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read hosts file %s: %w", path, err)
	}

	kept := stripManagedBlock(existing, h.beginMarker(), h.endMarker())

	var block bytes.Buffer
	block.WriteString(h.beginMarker() + "\n")
	for _, p := range peers {
		if p.IP == nil {
			continue
		}
		fmt.Fprintf(&block, "%s\t%s.%s.wg\n", p.IP.String(), p.Name, interfaceName)
	}
	block.WriteString(h.endMarker() + "\n")

	var out bytes.Buffer
	out.Write(kept)
	if len(kept) > 0 && kept[len(kept)-1] != '\n' {
		out.WriteByte('\n')
	}
	out.Write(block.Bytes())

	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out.Bytes(), mode); err != nil {
		return fmt.Errorf("write temp hosts file: %w", err)
	}
	if err := os.Chmod(tmp, mode); err != nil {
		return fmt.Errorf("set hosts file permissions: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename hosts file into place: %w", err)
	}
	return nil
}

// stripManagedBlock returns content with any existing begin/end delimited
// block removed, preserving everything else verbatim.
func stripManagedBlock(content []byte, begin, end string) []byte {
	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(content))
	inBlock := false
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.TrimSpace(line) == begin:
			inBlock = true
			continue
		case strings.TrimSpace(line) == end:
			inBlock = false
			continue
		case inBlock:
			continue
		default:
			out.WriteString(line)
			out.WriteByte('\n')
		}
	}
	return out.Bytes()
}
