// Package store persists the declarative VPC model as one JSON document
// per VPC. Writes are atomic (write-to-temp-then-rename) so a reader never
// sees a torn record. The store is the source of truth across invocations.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
)

// SubnetType distinguishes NAT-ed subnets from purely internal ones.
const (
	SubnetPublic  = "public"
	SubnetPrivate = "private"
)

// Route is a route installed inside a subnet namespace.
type Route struct {
	// Destination is a CIDR, or "default".
	Destination string `json:"destination"`
	Via         string `json:"via"`
}

// Subnet is a CIDR-bounded segment of a VPC, realized as a namespace
// attached to the VPC bridge via a veth pair.
type Subnet struct {
	Name      string  `json:"name"`
	CIDR      string  `json:"cidr"`
	Type      string  `json:"type"`
	Gateway   string  `json:"gateway"`
	Endpoint  string  `json:"endpoint"`
	Namespace string  `json:"namespace"`
	VethHost  string  `json:"vethHost"`
	VethNs    string  `json:"vethNs"`
	Routes    []Route `json:"routes,omitempty"`
}

// Peering is one VPC's copy of a peering. The partner record holds the
// mirror image; the reconciler keeps both in sync within a single plan.
type Peering struct {
	Peer           string `json:"peer"`
	Block          string `json:"block"`
	LocalEndpoint  string `json:"localEndpoint"`
	RemoteEndpoint string `json:"remoteEndpoint"`
	VethLocal      string `json:"vethLocal"`
	VethRemote     string `json:"vethRemote"`
}

// Rule is a single firewall rule. Ingress rules require port and protocol;
// egress rules may omit them to match all traffic.
type Rule struct {
	Port     int    `json:"port,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Action   string `json:"action"`
}

// Policy is the applied firewall policy for one subnet.
type Policy struct {
	Subnet  string `json:"subnet"`
	Ingress []Rule `json:"ingress,omitempty"`
	Egress  []Rule `json:"egress,omitempty"`
}

// VPC is the full persisted record of one VPC.
type VPC struct {
	Name     string            `json:"name"`
	CIDR     string            `json:"cidr"`
	Gateway  string            `json:"gateway"`
	Bridge   string            `json:"bridge"`
	Subnets  []Subnet          `json:"subnets"`
	Peerings []Peering         `json:"peerings"`
	Policies map[string]Policy `json:"policies,omitempty"`
}

// Subnet returns the named subnet, or nil.
func (v *VPC) Subnet(name string) *Subnet {
	for i := range v.Subnets {
		if v.Subnets[i].Name == name {
			return &v.Subnets[i]
		}
	}
	return nil
}

// Peering returns this VPC's copy of the peering with peer, or nil.
func (v *VPC) Peering(peer string) *Peering {
	for i := range v.Peerings {
		if v.Peerings[i].Peer == peer {
			return &v.Peerings[i]
		}
	}
	return nil
}

// RemoveSubnet drops the named subnet from the record.
func (v *VPC) RemoveSubnet(name string) {
	for i := range v.Subnets {
		if v.Subnets[i].Name == name {
			v.Subnets = append(v.Subnets[:i], v.Subnets[i+1:]...)
			return
		}
	}
}

// RemovePeering drops the peering with peer from the record.
func (v *VPC) RemovePeering(peer string) {
	for i := range v.Peerings {
		if v.Peerings[i].Peer == peer {
			v.Peerings = append(v.Peerings[:i], v.Peerings[i+1:]...)
			return
		}
	}
}

// Store reads and writes per-VPC documents under a single directory.
type Store struct {
	dir string
}

// New creates a Store rooted at dir. The directory is created lazily on
// first save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Load reads the record for the named VPC.
func (s *Store) Load(name string) (*VPC, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errdefs.NotFound("VPC %q not found", name)
		}
		return nil, errdefs.IO(err, "read VPC record %q", name)
	}

	var record VPC
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errdefs.IO(err, "unmarshal VPC record %q", name)
	}
	return &record, nil
}

// Save atomically replaces the record for record.Name, creating the state
// directory if absent.
func (s *Store) Save(record *VPC) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errdefs.IO(err, "create state directory %s", s.dir)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errdefs.IO(err, "marshal VPC record %q", record.Name)
	}

	tmp, err := os.CreateTemp(s.dir, "."+record.Name+"-*.tmp")
	if err != nil {
		return errdefs.IO(err, "create temp file for %q", record.Name)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errdefs.IO(err, "write VPC record %q", record.Name)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errdefs.IO(err, "sync VPC record %q", record.Name)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errdefs.IO(err, "close VPC record %q", record.Name)
	}

	if err := os.Rename(tmpName, s.path(record.Name)); err != nil {
		os.Remove(tmpName)
		return errdefs.IO(err, "replace VPC record %q", record.Name)
	}

	slog.Debug("Persisted VPC record", "vpc", record.Name, "subnets", len(record.Subnets), "peerings", len(record.Peerings))
	return nil
}

// Delete removes the record for the named VPC. Absence is tolerated.
func (s *Store) Delete(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errdefs.IO(err, "delete VPC record %q", name)
	}
	return nil
}

// List loads every VPC record, sorted by name.
func (s *Store) List() ([]*VPC, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errdefs.IO(err, "read state directory %s", s.dir)
	}

	var records []*VPC
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		record, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			slog.Warn("Skipping unreadable VPC record", "file", name, "err", err)
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// ForEachPeered loads every VPC whose peerings reference the named VPC.
func (s *Store) ForEachPeered(vpc string) ([]*VPC, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	var peers []*VPC
	for _, record := range all {
		if record.Name == vpc {
			continue
		}
		if record.Peering(vpc) != nil {
			peers = append(peers, record)
		}
	}
	return peers, nil
}

// Exists reports whether a record for the named VPC is present.
func (s *Store) Exists(name string) (bool, error) {
	if _, err := os.Stat(s.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, errdefs.IO(err, "stat VPC record %q", name)
	}
	return true, nil
}

var _ fmt.Stringer = (*VPC)(nil)

// String renders a compact one-line summary, used in log lines.
func (v *VPC) String() string {
	return fmt.Sprintf("%s (%s, %d subnets, %d peerings)", v.Name, v.CIDR, len(v.Subnets), len(v.Peerings))
}
