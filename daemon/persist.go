package daemon

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/renameio"

	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/names"
)

// regStore persists the (name, dif, dif-type) tuple of every live IPCP to
// a flat file, one line per IPCP, so a restarted daemon can replay its
// bring-up via ReplayScript (spec.md §6 "persisted state"). Modeled on
// internal/rconfig's renameio-based atomic rewrite of the node UUID file.
type regStore struct {
	path string

	mu      sync.Mutex
	entries map[string]regEntry
}

type regEntry struct {
	name, dif, difType string
}

func newRegStore(path string) *regStore {
	s := &regStore{path: path, entries: make(map[string]regEntry)}
	s.load()
	return s
}

func (s *regStore) load() {
	if s.path == "" {
		return
	}
	f, err := os.Open(s.path)
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		s.entries[fields[0]] = regEntry{name: fields[0], dif: fields[1], difType: fields[2]}
	}
}

func (s *regStore) add(name, dif, difType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = regEntry{name: name, dif: dif, difType: difType}
	s.flush()
}

func (s *regStore) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
	s.flush()
}

func (s *regStore) list() []regEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]regEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// flush rewrites the whole file atomically; caller holds s.mu.
func (s *regStore) flush() {
	if s.path == "" {
		return
	}
	var b strings.Builder
	b.WriteString("# rlite daemon persisted ipcps: name\\tdif\\tdif-type\n")
	for _, e := range s.entries {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", e.name, e.dif, e.difType)
	}
	_ = renameio.WriteFile(s.path, []byte(b.String()), 0640)
}

// ReplayScript recreates every IPCP recorded in the server's regStore,
// the way a restarted daemon rebuilds its prior topology before accepting
// new requests. Binding a normal IPCP's RIB also restores its last
// checkpointed dft/lower-flow rows (see pkg/uipcp's ribStore), but it
// does not replay neighbor enrollment itself: an operator must re-run
// ipcp-enroll explicitly, since that handshake also re-establishes the
// lower flows it runs over.
func (s *Server) ReplayScript() error {
	for _, e := range s.store.list() {
		req := kernel.IPCPAddReq{Name: names.Parse(e.name), DIFType: e.difType, DIFName: e.dif}
		ipcp, err := s.reg.IPCPAdd(req)
		if err != nil {
			s.log.Warn("replay: ipcp-add failed")
			continue
		}
		if e.difType == "normal" {
			if _, err := s.uipcps.Bind(ipcp); err != nil {
				s.log.Warn("replay: uipcp bind failed")
			}
		}
	}
	return nil
}
