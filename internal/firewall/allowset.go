//go:build linux
// +build linux

package firewall

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/nftables"
)

// AllowSet manages membership of the TTL'd address set the allowlist
// rule matches against. The set itself is created by the installer;
// this type only fills and reads it.
type AllowSet struct {
	conn      NFTablesConn
	tableName string
	table     *nftables.Table
	set       *nftables.Set
	mu        sync.Mutex
}

// NewAllowSet creates an allow-set handle for the given table.
func NewAllowSet(conn NFTablesConn, tableName string) *AllowSet {
	return &AllowSet{conn: conn, tableName: tableName}
}

// getTable returns the table reference, finding it if needed.
func (s *AllowSet) getTable() (*nftables.Table, error) {
	if s.table != nil {
		return s.table, nil
	}

	tables, err := s.conn.ListTables()
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	for _, t := range tables {
		if t.Name == s.tableName && t.Family == nftables.TableFamilyINet {
			s.table = t
			return t, nil
		}
	}
	return nil, fmt.Errorf("table %s not found", s.tableName)
}

// get returns a cached set reference or finds it.
func (s *AllowSet) get() (*nftables.Set, error) {
	if s.set != nil {
		return s.set, nil
	}

	table, err := s.getTable()
	if err != nil {
		return nil, err
	}

	sets, err := s.conn.GetSets(table)
	if err != nil {
		return nil, fmt.Errorf("failed to get sets: %w", err)
	}
	for _, set := range sets {
		if set.Name == AllowSetName {
			s.set = set
			return set, nil
		}
	}
	return nil, fmt.Errorf("set %s not found in table %s", AllowSetName, s.tableName)
}

// Rebuild replaces the set contents with ips in a single commit, so
// rule evaluation never sees a partially built set. Each element
// carries the given expiry.
func (s *AllowSet) Rebuild(ips []net.IP, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.get()
	if err != nil {
		return err
	}

	s.conn.FlushSet(set)

	elements := make([]nftables.SetElement, 0, len(ips))
	for _, ip := range ips {
		ip4 := ip.To4()
		if ip4 == nil {
			continue
		}
		elements = append(elements, nftables.SetElement{
			Key:     ip4,
			Timeout: ttl,
		})
	}
	if len(elements) > 0 {
		if err := s.conn.SetAddElements(set, elements); err != nil {
			return fmt.Errorf("failed to add elements: %w", err)
		}
	}

	// Flush and refill commit together.
	return s.conn.Flush()
}

// Members returns the current membership, sorted for stable display.
func (s *AllowSet) Members() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.membersLocked()
}

func (s *AllowSet) membersLocked() ([]string, error) {
	set, err := s.get()
	if err != nil {
		return nil, err
	}

	elements, err := s.conn.GetSetElements(set)
	if err != nil {
		return nil, fmt.Errorf("failed to get elements: %w", err)
	}

	members := make([]string, 0, len(elements))
	for _, elem := range elements {
		if len(elem.Key) > 0 {
			members = append(members, net.IP(elem.Key).String())
		}
	}
	sort.Strings(members)
	return members, nil
}

// Contains reports whether addr is currently in the set.
func (s *AllowSet) Contains(addr net.IP) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, err := s.membersLocked()
	if err != nil {
		return false, err
	}
	want := addr.String()
	for _, m := range members {
		if m == want {
			return true, nil
		}
	}
	return false, nil
}
