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
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"github.com/cdaein/netfence/internal/brand"
	"github.com/cdaein/netfence/internal/config"
	"github.com/cdaein/netfence/internal/logging"
)

// Chain and set names inside the owned table.
const (
	EgressChain  = "egress"
	IngressChain = "ingress"
	AllowSetName = "allowed_v4"
)

// Log prefixes carried by denied packets into the nflog group.
const (
	DenyEgressPrefix  = "DENY_EGRESS: "
	DenyIngressPrefix = "DENY_INGRESS: "
)

// Rule tags stored in UserData so counters can be found again.
const (
	denyEgressTag  = "deny-egress"
	denyIngressTag = "deny-ingress"
)

// PrivateNetworks are the RFC 1918 ranges that stay reachable in both
// directions regardless of the allowlist.
var PrivateNetworks = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

// Options carries the kernel footprint settings for the installer.
type Options struct {
	Table    string
	Ports    []uint16
	LogGroup uint16
	TTL      time.Duration
}

// OptionsFromConfig extracts installer options from the loaded
// configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		Table:    cfg.Firewall.Table,
		LogGroup: uint16(cfg.Firewall.LogGroup),
		TTL:      cfg.SyncTTL(),
	}
	for _, p := range cfg.Firewall.AllowedPorts {
		opts.Ports = append(opts.Ports, uint16(p))
	}
	return opts
}

// Installer owns the netfence table: two base chains hooked into
// output and input, the TTL'd allow set, and the static rules. All of
// it is created by Setup and removed as one unit by Disable.
type Installer struct {
	conn   NFTablesConn
	opts   Options
	logger *logging.Logger
	mu     sync.Mutex
}

// NewInstaller creates an installer backed by a live nftables
// connection.
func NewInstaller(opts Options, logger *logging.Logger) (*Installer, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open nftables: %w", err)
	}
	return NewInstallerWithConn(NewRealNFTablesConn(conn), opts, logger), nil
}

// NewInstallerWithConn creates an installer with an injected
// connection.
func NewInstallerWithConn(conn NFTablesConn, opts Options, logger *logging.Logger) *Installer {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	if opts.Table == "" {
		opts.Table = brand.LowerName
	}
	if len(opts.Ports) == 0 {
		opts.Ports = []uint16{80, 443, 22}
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	return &Installer{
		conn:   conn,
		opts:   opts,
		logger: logger,
	}
}

// Conn exposes the underlying connection so collaborators (the allow
// set) can share one netlink socket.
func (i *Installer) Conn() NFTablesConn {
	return i.conn
}

// Table returns the name of the owned table.
func (i *Installer) Table() string {
	return i.opts.Table
}

// findTable locates the owned table. Absence is not an error.
func (i *Installer) findTable() (*nftables.Table, error) {
	tables, err := i.conn.ListTables()
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	for _, t := range tables {
		if t.Name == i.opts.Table && t.Family == nftables.TableFamilyINet {
			return t, nil
		}
	}
	return nil, nil
}

// Installed reports whether the owned table exists.
func (i *Installer) Installed() (bool, error) {
	t, err := i.findTable()
	if err != nil {
		return false, err
	}
	return t != nil, nil
}

// Setup tears down any prior installation and builds the full table:
// chains, allow set, and static rules, committed in one batch so
// repeated calls converge to an identical state.
func (i *Installer) Setup() (ApplyResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.setupLocked()
}

// EnsureInstalled builds the table only when it is absent.
func (i *Installer) EnsureInstalled() (ApplyResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	installed, err := i.Installed()
	if err != nil {
		return ResultFailed, err
	}
	if installed {
		return ResultUnchanged, nil
	}
	return i.setupLocked()
}

func (i *Installer) setupLocked() (ApplyResult, error) {
	// Tear down any previous install first so repeated setups
	// converge instead of accumulating rules.
	existing, err := i.findTable()
	if err != nil {
		return ResultFailed, err
	}
	if existing != nil {
		i.conn.DelTable(existing)
		if err := i.conn.Flush(); err != nil {
			return ResultFailed, fmt.Errorf("failed to remove previous table: %w", err)
		}
	}

	table := i.conn.AddTable(&nftables.Table{
		Name:   i.opts.Table,
		Family: nftables.TableFamilyINet,
	})

	// Hook slightly before the standard filter priority so these
	// chains evaluate ahead of any preexisting filter rules, without
	// touching their policies.
	prio := nftables.ChainPriorityRef(*nftables.ChainPriorityFilter - 10)

	egress := i.conn.AddChain(&nftables.Chain{
		Name:     EgressChain,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookOutput,
		Priority: prio,
	})

	ingress := i.conn.AddChain(&nftables.Chain{
		Name:     IngressChain,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookInput,
		Priority: prio,
	})

	allowSet := &nftables.Set{
		Name:       AllowSetName,
		Table:      table,
		KeyType:    nftables.TypeIPAddr,
		HasTimeout: true,
		Timeout:    i.opts.TTL,
	}
	if err := i.conn.AddSet(allowSet, nil); err != nil {
		return ResultFailed, fmt.Errorf("failed to create allow set: %w", err)
	}

	ports := &nftables.Set{
		Table:     table,
		Anonymous: true,
		Constant:  true,
		KeyType:   nftables.TypeInetService,
	}
	portElems := make([]nftables.SetElement, 0, len(i.opts.Ports))
	for _, p := range i.opts.Ports {
		portElems = append(portElems, nftables.SetElement{
			Key: binaryutil.BigEndian.PutUint16(p),
		})
	}
	if err := i.conn.AddSet(ports, portElems); err != nil {
		return ResultFailed, fmt.Errorf("failed to create port set: %w", err)
	}

	i.addEgressRules(table, egress, ports)
	i.addIngressRules(table, ingress, ports)

	if err := i.conn.Flush(); err != nil {
		return ResultFailed, fmt.Errorf("failed to install ruleset: %w", err)
	}

	i.logger.Info("Firewall installed",
		"table", i.opts.Table,
		"ports", i.opts.Ports,
		"log_group", i.opts.LogGroup)
	return ResultApplied, nil
}

func (i *Installer) addEgressRules(table *nftables.Table, chain *nftables.Chain, ports *nftables.Set) {
	i.addRule(table, chain, "loopback", join(matchIface("lo", true), accept()))
	i.addRule(table, chain, "established", join(matchCtEstablished(), accept()))
	i.addRule(table, chain, "dns-udp", join(matchPort(unix.IPPROTO_UDP, 53, false), accept()))
	i.addRule(table, chain, "dns-tcp", join(matchPort(unix.IPPROTO_TCP, 53, false), accept()))
	for _, cidr := range PrivateNetworks {
		i.addRule(table, chain, "private", join(matchCIDR(cidr, true), accept()))
	}
	i.addRule(table, chain, "allowlist", join(matchAddrSet(AllowSetName, true), matchTCPPortSet(ports, false), accept()))
	i.addRule(table, chain, denyEgressTag, logDrop(i.opts.LogGroup, DenyEgressPrefix))
}

func (i *Installer) addIngressRules(table *nftables.Table, chain *nftables.Chain, ports *nftables.Set) {
	i.addRule(table, chain, "loopback", join(matchIface("lo", false), accept()))
	i.addRule(table, chain, "established", join(matchCtEstablished(), accept()))
	i.addRule(table, chain, "dns-udp", join(matchPort(unix.IPPROTO_UDP, 53, true), accept()))
	i.addRule(table, chain, "dns-tcp", join(matchPort(unix.IPPROTO_TCP, 53, true), accept()))
	for _, cidr := range PrivateNetworks {
		i.addRule(table, chain, "private", join(matchCIDR(cidr, false), accept()))
	}
	// Replies from allowed services arrive with the set member as the
	// source and the allowed port as the source port.
	i.addRule(table, chain, "allowlist", join(matchAddrSet(AllowSetName, false), matchTCPPortSet(ports, true), accept()))
	i.addRule(table, chain, denyIngressTag, logDrop(i.opts.LogGroup, DenyIngressPrefix))
}

func (i *Installer) addRule(table *nftables.Table, chain *nftables.Chain, tag string, exprs []expr.Any) {
	i.conn.AddRule(&nftables.Rule{
		Table:    table,
		Chain:    chain,
		Exprs:    exprs,
		UserData: []byte(tag),
	})
}

// Disable removes the owned table and with it both chains and the
// allow set. A missing table is reported as unchanged, not an error.
func (i *Installer) Disable() (ApplyResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	table, err := i.findTable()
	if err != nil {
		return ResultFailed, err
	}
	if table == nil {
		return ResultUnchanged, nil
	}

	i.conn.DelTable(table)
	if err := i.conn.Flush(); err != nil {
		return ResultFailed, fmt.Errorf("failed to remove table: %w", err)
	}

	i.logger.Info("Firewall removed", "table", i.opts.Table)
	return ResultApplied, nil
}

// ChainStatus describes one chain of the owned table.
type ChainStatus struct {
	Name  string `json:"name" yaml:"name"`
	Rules int    `json:"rules" yaml:"rules"`
}

// DropStats reports the counters of a terminal deny rule.
type DropStats struct {
	Packets uint64 `json:"packets" yaml:"packets"`
	Bytes   uint64 `json:"bytes" yaml:"bytes"`
}

// Status is a point-in-time snapshot of the kernel state this tool
// owns.
type Status struct {
	Installed     bool          `json:"installed" yaml:"installed"`
	Table         string        `json:"table" yaml:"table"`
	Chains        []ChainStatus `json:"chains,omitempty" yaml:"chains,omitempty"`
	AllowedAddrs  []string      `json:"allowed_addresses,omitempty" yaml:"allowed_addresses,omitempty"`
	DeniedEgress  DropStats     `json:"denied_egress" yaml:"denied_egress"`
	DeniedIngress DropStats     `json:"denied_ingress" yaml:"denied_ingress"`
}

// Status reads back the owned table: chains, rule counts, allow-set
// membership, and the deny counters.
func (i *Installer) Status() (*Status, error) {
	st := &Status{Table: i.opts.Table}

	table, err := i.findTable()
	if err != nil {
		return nil, err
	}
	if table == nil {
		return st, nil
	}
	st.Installed = true

	chains, err := i.conn.ListChainsOfTableFamily(nftables.TableFamilyINet)
	if err != nil {
		return nil, fmt.Errorf("failed to list chains: %w", err)
	}
	for _, c := range chains {
		if c.Table.Name != i.opts.Table {
			continue
		}
		rules, err := i.conn.GetRules(table, c)
		if err != nil {
			continue
		}
		st.Chains = append(st.Chains, ChainStatus{Name: c.Name, Rules: len(rules)})

		for _, rule := range rules {
			tag := string(rule.UserData)
			if tag != denyEgressTag && tag != denyIngressTag {
				continue
			}
			for _, e := range rule.Exprs {
				counter, ok := e.(*expr.Counter)
				if !ok {
					continue
				}
				stats := DropStats{Packets: counter.Packets, Bytes: counter.Bytes}
				if tag == denyEgressTag {
					st.DeniedEgress = stats
				} else {
					st.DeniedIngress = stats
				}
				break
			}
		}
	}
	sort.Slice(st.Chains, func(a, b int) bool { return st.Chains[a].Name < st.Chains[b].Name })

	sets, err := i.conn.GetSets(table)
	if err != nil {
		return nil, fmt.Errorf("failed to get sets: %w", err)
	}
	for _, s := range sets {
		if s.Name != AllowSetName {
			continue
		}
		elements, err := i.conn.GetSetElements(s)
		if err != nil {
			return nil, fmt.Errorf("failed to get set elements: %w", err)
		}
		for _, elem := range elements {
			if len(elem.Key) > 0 {
				st.AllowedAddrs = append(st.AllowedAddrs, net.IP(elem.Key).String())
			}
		}
		sort.Strings(st.AllowedAddrs)
		break
	}

	return st, nil
}
