package pool

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/willf/bitset"

	"argela.com/bpsim/datamodel"
	bpsimutil "argela.com/bpsim/util"
)

// Bounds of the VLAN id domain.
const (
	MinVlanID = 1
	MaxVlanID = 4094
)

// Bounds of the subnet prefix length.
const (
	MinMaskBits = 8
	MaxMaskBits = 30
)

// Address pool configuration. Each VLAN gets its own subnet of the size
// defined by MaskBits, carved sequentially from the base network.
type Settings struct {
	BaseNetwork        string
	MaskBits           int
	GatewayOffset      int
	PrimaryDNSOffset   int
	SecondaryDNSOffset int
	// Host offset of the first allocatable address.
	ReservedStart int
}

// Returns the default pool settings: 10.0.0.0 split into /24 subnets.
func DefaultSettings() Settings {
	return Settings{
		BaseNetwork:        "10.0.0.0",
		MaskBits:           24,
		GatewayOffset:      1,
		PrimaryDNSOffset:   2,
		SecondaryDNSOffset: 3,
		ReservedStart:      4,
	}
}

// Subnet derived for a VLAN.
type Subnet struct {
	VlanID       int
	Network      *net.IPNet
	Broadcast    net.IP
	Gateway      net.IP
	PrimaryDNS   net.IP
	SecondaryDNS net.IP
	// First usable host offset.
	ReservedStart int
	// Number of allocatable addresses.
	UsableCount int
}

// Returns the subnet mask in the dotted decimal form.
func (s *Subnet) SubnetMask() net.IP {
	return net.IP(s.Network.Mask).To4()
}

// Server identifier used in the VLAN. It is the gateway address.
func (s *Subnet) ServerIdentifier() net.IP {
	return s.Gateway
}

// Returns the index of the address in the allocation bitmap.
func (s *Subnet) index(ip net.IP) (uint, bool) {
	if ip == nil || !s.Network.Contains(ip) {
		return 0, false
	}
	value, _ := bpsimutil.IPv4ToUint32(ip)
	network, _ := bpsimutil.IPv4ToUint32(s.Network.IP)
	offset := int(value-network) - s.ReservedStart
	if offset < 0 || offset >= s.UsableCount {
		return 0, false
	}
	return uint(offset), true
}

// Returns the address for the bitmap index.
func (s *Subnet) address(index uint) (net.IP, error) {
	ip, err := cidr.Host(s.Network, s.ReservedStart+int(index))
	return ip.To4(), errors.WithStack(err)
}

// Network parameters handed out to the clients of a VLAN.
type NetworkConfiguration struct {
	Gateway          string
	DNSServers       []string
	ServerIdentifier string
	SubnetMask       string
	NetworkIP        string
	BroadcastIP      string
}

// Allocation state of a single VLAN.
type vlanPool struct {
	subnet *Subnet
	mutex  sync.Mutex
	leased *bitset.BitSet
}

// Collision-free IPv4 allocator scoped to VLANs. The bitmaps are created
// lazily on first use of a VLAN and each of them is guarded by its own
// mutex.
type Pool struct {
	settings   Settings
	base       uint32
	hostBits   int
	subnetSize uint64
	maxHosts   int
	usable     int
	maxVlans   int
	vlans      sync.Map
}

// Creates the pool and validates the settings.
func NewPool(settings Settings) (*Pool, error) {
	baseIP, err := bpsimutil.ParseIPv4(settings.BaseNetwork)
	if err != nil {
		return nil, datamodel.NewValidationError("base network", "%s", err)
	}
	if settings.MaskBits < MinMaskBits || settings.MaskBits > MaxMaskBits {
		return nil, datamodel.NewValidationError("mask bits", "must be in range %d..%d, got %d",
			MinMaskBits, MaxMaskBits, settings.MaskBits)
	}
	base, _ := bpsimutil.IPv4ToUint32(baseIP)
	hostBits := 32 - settings.MaskBits
	subnetSize := uint64(1) << hostBits
	if uint64(base)%subnetSize != 0 {
		return nil, datamodel.NewValidationError("base network", "%s is not aligned to /%d",
			settings.BaseNetwork, settings.MaskBits)
	}
	maxHosts := int(subnetSize) - 2
	for name, offset := range map[string]int{
		"gateway offset":       settings.GatewayOffset,
		"primary DNS offset":   settings.PrimaryDNSOffset,
		"secondary DNS offset": settings.SecondaryDNSOffset,
		"reserved start":       settings.ReservedStart,
	} {
		if offset < 1 || offset > maxHosts {
			return nil, datamodel.NewValidationError(name, "must be in range 1..%d, got %d", maxHosts, offset)
		}
	}
	// The infrastructure addresses must not be handed out to the clients.
	for name, offset := range map[string]int{
		"gateway offset":       settings.GatewayOffset,
		"primary DNS offset":   settings.PrimaryDNSOffset,
		"secondary DNS offset": settings.SecondaryDNSOffset,
	} {
		if offset >= settings.ReservedStart {
			return nil, datamodel.NewValidationError(name, "must be below the reserved start %d, got %d", settings.ReservedStart, offset)
		}
	}

	maxVlans := int((uint64(1)<<32 - uint64(base)) / subnetSize)
	maxVlans = min(maxVlans, MaxVlanID)

	return &Pool{
		settings:   settings,
		base:       base,
		hostBits:   hostBits,
		subnetSize: subnetSize,
		maxHosts:   maxHosts,
		usable:     maxHosts - settings.ReservedStart + 1,
		maxVlans:   maxVlans,
	}, nil
}

// Returns the number of VLANs the base network can accommodate.
func (p *Pool) MaxSupportedVlans() int {
	return p.maxVlans
}

// Returns the number of allocatable addresses in each VLAN.
func (p *Pool) UsableCount() int {
	return p.usable
}

// Checks that the VLAN id belongs to the domain and fits in the address
// space.
func (p *Pool) validateVlan(vlanID int) error {
	if vlanID < MinVlanID || vlanID > MaxVlanID {
		return errors.WithStack(datamodel.NewValidationError("VLAN", "must be in range %d..%d, got %d",
			MinVlanID, MaxVlanID, vlanID))
	}
	if vlanID > p.maxVlans {
		return errors.WithStack(datamodel.NewValidationError("VLAN",
			"%d exceeds the %d VLANs supported by %s/%d",
			vlanID, p.maxVlans, p.settings.BaseNetwork, p.settings.MaskBits))
	}
	return nil
}

// Computes the subnet of the VLAN.
func (p *Pool) Subnet(vlanID int) (*Subnet, error) {
	if err := p.validateVlan(vlanID); err != nil {
		return nil, err
	}
	network := uint64(p.base) + uint64(vlanID-1)*p.subnetSize
	broadcast := network + p.subnetSize - 1
	if network > 0xffffffff || broadcast > 0xffffffff {
		return nil, errors.WithStack(datamodel.NewValidationError("VLAN",
			"subnet of VLAN %d exceeds the IPv4 address space", vlanID))
	}

	ipNet := &net.IPNet{
		IP:   bpsimutil.Uint32ToIPv4(uint32(network)),
		Mask: net.CIDRMask(32-p.hostBits, 32),
	}
	_, last := cidr.AddressRange(ipNet)
	host := func(offset int) net.IP {
		ip, _ := cidr.Host(ipNet, offset)
		return ip.To4()
	}
	return &Subnet{
		VlanID:        vlanID,
		Network:       ipNet,
		Broadcast:     last.To4(),
		Gateway:       host(p.settings.GatewayOffset),
		PrimaryDNS:    host(p.settings.PrimaryDNSOffset),
		SecondaryDNS:  host(p.settings.SecondaryDNSOffset),
		ReservedStart: p.settings.ReservedStart,
		UsableCount:   p.usable,
	}, nil
}

// Returns the network parameters of the VLAN.
func (p *Pool) NetworkConfiguration(vlanID int) (*NetworkConfiguration, error) {
	subnet, err := p.Subnet(vlanID)
	if err != nil {
		return nil, err
	}
	return &NetworkConfiguration{
		Gateway:          subnet.Gateway.String(),
		DNSServers:       []string{subnet.PrimaryDNS.String(), subnet.SecondaryDNS.String()},
		ServerIdentifier: subnet.ServerIdentifier().String(),
		SubnetMask:       subnet.SubnetMask().String(),
		NetworkIP:        subnet.Network.IP.String(),
		BroadcastIP:      subnet.Broadcast.String(),
	}, nil
}

// Returns the allocation state of the VLAN, creating it on first use.
func (p *Pool) getOrCreate(vlanID int) (*vlanPool, error) {
	if existing, ok := p.vlans.Load(vlanID); ok {
		return existing.(*vlanPool), nil
	}
	subnet, err := p.Subnet(vlanID)
	if err != nil {
		return nil, err
	}
	created := &vlanPool{
		subnet: subnet,
		leased: bitset.New(uint(subnet.UsableCount)),
	}
	actual, _ := p.vlans.LoadOrStore(vlanID, created)
	return actual.(*vlanPool), nil
}

// Returns the allocation state of the VLAN if it exists.
func (p *Pool) get(vlanID int) *vlanPool {
	existing, ok := p.vlans.Load(vlanID)
	if !ok {
		return nil
	}
	return existing.(*vlanPool)
}

// Allocates the lowest free address in the VLAN subnet.
func (p *Pool) Allocate(vlanID int) (string, error) {
	vlan, err := p.getOrCreate(vlanID)
	if err != nil {
		return "", err
	}
	vlan.mutex.Lock()
	defer vlan.mutex.Unlock()

	index, ok := vlan.leased.NextClear(0)
	if !ok || index >= uint(vlan.subnet.UsableCount) {
		return "", errors.WithStack(&datamodel.ResourceExhaustedError{
			Resource: fmt.Sprintf("address pool of VLAN %d", vlanID),
			Limit:    vlan.subnet.UsableCount,
		})
	}
	ip, err := vlan.subnet.address(index)
	if err != nil {
		return "", err
	}
	vlan.leased.Set(index)
	return ip.String(), nil
}

// Marks the given address as allocated. It fails if the address is outside
// the usable range of the VLAN or it is already allocated.
func (p *Pool) Reserve(ip string, vlanID int) error {
	vlan, err := p.getOrCreate(vlanID)
	if err != nil {
		return err
	}
	parsed, err := bpsimutil.ParseIPv4(ip)
	if err != nil {
		return errors.WithStack(datamodel.NewValidationError("IP address", "%s", err))
	}
	index, ok := vlan.subnet.index(parsed)
	if !ok {
		return errors.WithStack(datamodel.NewValidationError("IP address",
			"%s is not allocatable in VLAN %d", ip, vlanID))
	}
	vlan.mutex.Lock()
	defer vlan.mutex.Unlock()
	if vlan.leased.Test(index) {
		return errors.WithStack(&datamodel.DuplicateIdentityError{Kind: "IP address", Value: ip})
	}
	vlan.leased.Set(index)
	return nil
}

// Returns the address to the pool. Unknown or free addresses are ignored.
func (p *Pool) Release(ip string, vlanID int) {
	vlan := p.get(vlanID)
	if vlan == nil {
		return
	}
	parsed, err := bpsimutil.ParseIPv4(ip)
	if err != nil {
		log.WithFields(log.Fields{
			"vlan": vlanID,
			"ip":   ip,
		}).Warn("Ignoring release of a malformed address")
		return
	}
	index, ok := vlan.subnet.index(parsed)
	if !ok {
		log.WithFields(log.Fields{
			"vlan": vlanID,
			"ip":   ip,
		}).Debug("Ignoring release of an address outside of the VLAN pool")
		return
	}
	vlan.mutex.Lock()
	defer vlan.mutex.Unlock()
	vlan.leased.Clear(index)
}

// Checks if the address is allocated in the VLAN.
func (p *Pool) InUse(ip string, vlanID int) bool {
	vlan := p.get(vlanID)
	if vlan == nil {
		return false
	}
	parsed, err := bpsimutil.ParseIPv4(ip)
	if err != nil {
		return false
	}
	index, ok := vlan.subnet.index(parsed)
	if !ok {
		return false
	}
	vlan.mutex.Lock()
	defer vlan.mutex.Unlock()
	return vlan.leased.Test(index)
}

// Returns the number of allocated addresses in the VLAN.
func (p *Pool) UsedCount(vlanID int) int {
	vlan := p.get(vlanID)
	if vlan == nil {
		return 0
	}
	vlan.mutex.Lock()
	defer vlan.mutex.Unlock()
	return int(vlan.leased.Count())
}

// Returns the number of free addresses in the VLAN.
func (p *Pool) AvailableCount(vlanID int) int {
	return p.usable - p.UsedCount(vlanID)
}

// Frees all addresses of the VLAN.
func (p *Pool) ClearVlan(vlanID int) error {
	if err := p.validateVlan(vlanID); err != nil {
		return err
	}
	p.vlans.Delete(vlanID)
	return nil
}

// Frees all addresses of all VLANs.
func (p *Pool) ClearAll() {
	p.vlans.Range(func(key, _ any) bool {
		p.vlans.Delete(key)
		return true
	})
}

// Allocation statistics of a VLAN.
type VlanStatistics struct {
	VlanID             int     `json:"vlanId"`
	NetworkIP          string  `json:"networkIp"`
	GatewayIP          string  `json:"gatewayIp"`
	DNSServerIP        string  `json:"dnsServerIp"`
	BroadcastIP        string  `json:"broadcastIp"`
	SubnetMask         string  `json:"subnetMask"`
	UsedIPs            int     `json:"usedIps"`
	AvailableIPs       int     `json:"availableIps"`
	UtilizationPercent float64 `json:"utilizationPercent"`
}

// Allocation statistics of all VLANs in use.
type Statistics struct {
	ActiveVlanCount   int               `json:"activeVlanCount"`
	TotalUsedIPs      int               `json:"totalUsedIps"`
	TotalAvailableIPs int               `json:"totalAvailableIps"`
	VlanStatistics    []*VlanStatistics `json:"vlanStatistics"`
}

// Collects the statistics of the VLANs which have been used. The VLANs are
// sorted by id.
func (p *Pool) Statistics() *Statistics {
	stats := &Statistics{VlanStatistics: []*VlanStatistics{}}
	p.vlans.Range(func(_, value any) bool {
		vlan := value.(*vlanPool)
		vlan.mutex.Lock()
		used := int(vlan.leased.Count())
		vlan.mutex.Unlock()

		subnet := vlan.subnet
		stats.VlanStatistics = append(stats.VlanStatistics, &VlanStatistics{
			VlanID:             subnet.VlanID,
			NetworkIP:          subnet.Network.IP.String(),
			GatewayIP:          subnet.Gateway.String(),
			DNSServerIP:        subnet.PrimaryDNS.String(),
			BroadcastIP:        subnet.Broadcast.String(),
			SubnetMask:         subnet.SubnetMask().String(),
			UsedIPs:            used,
			AvailableIPs:       subnet.UsableCount - used,
			UtilizationPercent: float64(used) * 100 / float64(subnet.UsableCount),
		})
		stats.TotalUsedIPs += used
		stats.TotalAvailableIPs += subnet.UsableCount - used
		return true
	})
	stats.ActiveVlanCount = len(stats.VlanStatistics)
	sort.Slice(stats.VlanStatistics, func(i, j int) bool {
		return stats.VlanStatistics[i].VlanID < stats.VlanStatistics[j].VlanID
	})
	return stats
}
