package function

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/funcfs/desc"
	"github.com/ardnew/funcfs/function/hal"
	"github.com/ardnew/funcfs/pkg"
)

// Allocator hands out composite-level identifiers during binding.
type Allocator interface {
	// InterfaceID reserves the next free interface number in the
	// composite configuration.
	InterfaceID() (uint8, error)

	// StringIDs reserves count consecutive string descriptor IDs and
	// returns the first. A string keeps the same ID in every
	// language.
	StringIDs(count int) (uint8, error)
}

// SimpleAllocator hands out sequential interface and string IDs. It
// suits a single-function configuration; a composite device brings
// its own allocator.
type SimpleAllocator struct {
	mu   sync.Mutex
	intf uint8
	str  uint8
}

// InterfaceID returns the next interface number, starting at 0.
func (a *SimpleAllocator) InterfaceID() (uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.intf
	a.intf++
	return id, nil
}

// StringIDs reserves count IDs and returns the first, starting at 1.
func (a *SimpleAllocator) StringIDs(count int) (uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	first := a.str + 1
	a.str += uint8(count)
	return first, nil
}

// Function is one active binding of a session to a transport. Binding
// claims hardware endpoints, rewrites the session's descriptor bytes
// with real addresses and composite identifiers, and afterwards
// relays host activity into the session's event queue.
type Function struct {
	s         *Session
	transport hal.Transport

	// descs is the function's private rewritten copy of the blob
	// descriptor bytes; tiers slices it per speed.
	descs []byte
	tiers [desc.TierCount][]byte

	eps       []*boundEP
	ifaceNums []int16

	// revmap maps a real endpoint number to the 1-based declared
	// index; 0 marks an unused slot.
	revmap [16]int

	// osDescs keys the blob's OS descriptor records by assigned
	// interface number.
	osDescs map[uint8][]desc.OSDescRecord

	// ep0req is the single reusable control data-stage request.
	ep0req *hal.Request

	unbound atomic.Bool
}

// Bind attaches an active session to a transport. On success the
// session queues a bind event and its endpoint files start serving
// I/O once the function is enabled.
func Bind(s *Session, t hal.Transport, alloc Allocator) (*Function, error) {
	if s.State() != StateActive {
		return nil, pkg.ErrInvalidState
	}
	if !s.bound.CompareAndSwap(false, true) {
		return nil, pkg.ErrAlreadyBound
	}

	fn := &Function{
		s:         s,
		transport: t,
		ep0req:    hal.NewRequest(nil),
	}
	if err := fn.bind(alloc); err != nil {
		fn.releaseEndpoints()
		if s.strings != nil {
			s.strings.ClearIDs()
		}
		s.bound.Store(false)
		pkg.LogWarn(pkg.ComponentBind, "bind failed",
			"name", s.name, "error", err)
		return nil, err
	}

	s.epMu.Lock()
	s.fn = fn
	s.epMu.Unlock()

	pkg.LogInfo(pkg.ComponentBind, "function bound",
		"name", s.name, "endpoints", len(fn.eps))
	s.enqueueEvent(desc.EventBind)
	return fn, nil
}

func (fn *Function) bind(alloc Allocator) error {
	s := fn.s
	blob := s.blob

	if s.strings != nil && s.strings.Count() > 0 {
		first, err := alloc.StringIDs(s.strings.Count())
		if err != nil {
			return err
		}
		s.strings.AssignIDs(first)
	}

	fn.eps = make([]*boundEP, blob.EndpointCount)
	for i := range fn.eps {
		fn.eps[i] = &boundEP{num: i + 1}
	}
	fn.ifaceNums = make([]int16, blob.InterfaceCount)
	for i := range fn.ifaceNums {
		fn.ifaceNums[i] = -1
	}

	fn.descs = make([]byte, len(blob.Descriptors))
	copy(fn.descs, blob.Descriptors)
	off := 0
	for t := 0; t < desc.TierCount; t++ {
		n := len(blob.Tier(t))
		fn.tiers[t] = fn.descs[off : off+n]
		off += n
	}

	// First pass claims hardware endpoints and settles addresses;
	// the second rewrites interface and string references, which may
	// span descriptors the first pass never touches.
	for t := range fn.tiers {
		if len(fn.tiers[t]) == 0 {
			continue
		}
		if _, err := desc.Walk(fn.tiers[t], int(blob.Counts[t]), fn.claimEndpoints(t)); err != nil {
			return err
		}
	}
	for t := range fn.tiers {
		if len(fn.tiers[t]) == 0 {
			continue
		}
		if _, err := desc.Walk(fn.tiers[t], int(blob.Counts[t]), fn.assignNumbers(alloc)); err != nil {
			return err
		}
	}
	return fn.bindOSDescs()
}

// bindOSDescs keys the blob's OS descriptor records by the interface
// numbers settled in the second pass.
func (fn *Function) bindOSDescs() error {
	blob := fn.s.blob
	if blob.OSDescCount == 0 {
		return nil
	}
	fn.osDescs = make(map[uint8][]desc.OSDescRecord)
	return desc.WalkOSDescs(blob.OSDescriptors, blob.OSDescCount,
		func(rec desc.OSDescRecord) error {
			slot := int(rec.Header.Interface)
			if slot >= len(fn.ifaceNums) || fn.ifaceNums[slot] < 0 {
				return fmt.Errorf("os descriptor interface %d: %w",
					slot, pkg.ErrNoMapping)
			}
			id := uint8(fn.ifaceNums[slot])
			fn.osDescs[id] = append(fn.osDescs[id], rec)
			return nil
		})
}

// OSDescTable returns the OS descriptor records keyed by assigned
// interface number, or nil when the blob declared none.
func (fn *Function) OSDescTable() map[uint8][]desc.OSDescRecord {
	if fn.osDescs == nil {
		return nil
	}
	table := make(map[uint8][]desc.OSDescRecord, len(fn.osDescs))
	for id, recs := range fn.osDescs {
		table[id] = recs
	}
	return table
}

// claimEndpoints returns the first-pass walker for one tier. The tier
// that first mentions an endpoint claims a transport endpoint for it;
// later tiers inherit its settled address and packet size.
func (fn *Function) claimEndpoints(tier int) desc.EntityFunc {
	return func(kind desc.EntityKind, value *byte, d []byte) error {
		if kind != desc.KindDescriptor || len(d) < 2 || d[1] != desc.TypeEndpoint {
			return nil
		}
		ed := desc.EndpointDesc(d)
		idx := fn.s.blob.IndexOfAddress(ed.Address())
		if idx < 1 {
			return pkg.ErrNoMapping
		}
		slot := fn.eps[idx-1]
		if slot.descs[tier] != nil {
			return fmt.Errorf("endpoint %d declared twice in tier %d: %w",
				idx, tier, pkg.ErrMalformed)
		}
		slot.descs[tier] = d

		if slot.hw != nil {
			primary := desc.EndpointDesc(slot.primary)
			ed.SetAddress(primary.Address())
			if ed.MaxPacketSize() == 0 {
				ed.SetMaxPacketSize(primary.MaxPacketSize())
			}
			return nil
		}

		declared := ed.Address()
		hw, err := fn.transport.AllocEndpoint(d)
		if err != nil {
			return err
		}
		slot.hw = hw
		slot.primary = d
		fn.revmap[hw.Address()&desc.EndpointNumberMask] = idx
		// The transport wrote the real address; with virtual
		// addressing the host keeps seeing the declared one.
		if fn.s.blob.VirtualAddr() {
			ed.SetAddress(declared)
		}
		pkg.LogDebug(pkg.ComponentBind, "endpoint claimed",
			"name", fn.s.name, "index", idx,
			"declared", fmt.Sprintf("%#02x", declared),
			"real", fmt.Sprintf("%#02x", hw.Address()))
		return nil
	}
}

// assignNumbers returns the second-pass walker rewriting interface
// numbers and string indices to their composite values.
func (fn *Function) assignNumbers(alloc Allocator) desc.EntityFunc {
	return func(kind desc.EntityKind, value *byte, d []byte) error {
		switch kind {
		case desc.KindInterface:
			i := int(*value)
			if i >= len(fn.ifaceNums) {
				return pkg.ErrMalformed
			}
			if fn.ifaceNums[i] < 0 {
				id, err := alloc.InterfaceID()
				if err != nil {
					return err
				}
				fn.ifaceNums[i] = int16(id)
			}
			*value = uint8(fn.ifaceNums[i])

		case desc.KindString:
			*value = fn.s.strings.ID(int(*value))

		case desc.KindEndpoint:
			// Endpoint addresses settled in the claim pass.
		}
		return nil
	}
}

// Descriptors returns the rewritten descriptor bytes for one speed
// tier, as presented to the host.
func (fn *Function) Descriptors(tier int) []byte {
	if tier < 0 || tier >= desc.TierCount {
		return nil
	}
	return fn.tiers[tier]
}

// Enable activates the function's endpoints for the transport's
// current speed, as when the host selects the configuration or an
// alternate setting. Previously enabled endpoints are disabled first.
func (fn *Function) Enable() error {
	s := fn.s

	s.epMu.Lock()
	fn.disableLocked()
	s.epMu.Unlock()

	if s.State() == StateDeactivated {
		s.setState(StateClosing)
		go s.reset()
		return pkg.ErrNoDevice
	}
	if s.State() != StateActive {
		return pkg.ErrNoDevice
	}

	tier := tierForSpeed(fn.transport.Speed())
	s.epMu.Lock()
	err := fn.enableLocked(tier)
	s.epMu.Unlock()
	if err != nil {
		pkg.LogWarn(pkg.ComponentBind, "enable failed",
			"name", s.name, "error", err)
		return err
	}
	s.enqueueEvent(desc.EventEnable)
	return nil
}

func (fn *Function) enableLocked(tier int) error {
	s := fn.s
	for i, slot := range fn.eps {
		ds := slot.chooseDesc(tier)
		if ds == nil {
			return fmt.Errorf("endpoint %d has no descriptor at or below tier %d: %w",
				slot.num, tier, pkg.ErrNotSupported)
		}
		if err := slot.hw.Enable(ds); err != nil {
			return err
		}
		ed := desc.EndpointDesc(ds)
		slot.chosen = ds
		slot.in = ed.IsIn()
		slot.isoc = ed.IsIsochronous()
		if i < len(s.epfiles) {
			s.epfiles[i].ep = slot
		}
	}
	s.broadcastEndpointsLocked()
	return nil
}

// Disable deactivates the function's endpoints, as when the host
// deselects the configuration.
func (fn *Function) Disable() error {
	s := fn.s

	s.epMu.Lock()
	fn.disableLocked()
	s.epMu.Unlock()

	if s.State() == StateDeactivated {
		s.setState(StateClosing)
		go s.reset()
		return pkg.ErrNoDevice
	}
	if s.State() != StateActive {
		return pkg.ErrNoDevice
	}
	s.enqueueEvent(desc.EventDisable)
	return nil
}

// disableLocked tears down the live endpoint slots; pending transfers
// complete with a shutdown status. Callers hold epMu.
func (fn *Function) disableLocked() {
	s := fn.s
	enabled := false
	for _, slot := range fn.eps {
		if slot.chosen == nil {
			continue
		}
		enabled = true
		if slot.hw != nil {
			slot.hw.Disable()
		}
		slot.chosen = nil
	}
	if !enabled {
		return
	}
	for _, f := range s.epfiles {
		f.errFlag.Store(true)
		f.ep = nil
	}
	s.broadcastEndpointsLocked()
}

// HandleSetup routes a host setup request addressed to one of the
// function's interfaces or endpoints: the wIndex field is rewritten
// to the descriptor-local numbering and the request is queued for the
// controlling process to answer.
func (fn *Function) HandleSetup(pkt desc.SetupPacket) error {
	s := fn.s
	if s.State() != StateActive {
		return pkg.ErrNoDevice
	}

	var index int
	switch {
	case pkt.IsInterfaceRecipient():
		i, err := fn.revmapInterface(uint8(pkt.Index))
		if err != nil {
			return err
		}
		index = i
	case pkt.IsEndpointRecipient():
		i, err := fn.revmapEndpoint(uint8(pkt.Index))
		if err != nil {
			return err
		}
		index = i
		if s.blob.VirtualAddr() {
			index = int(s.blob.Address(i))
		}
	default:
		return pkg.ErrNotSupported
	}

	s.evMu.Lock()
	pkt.Index = uint16(index)
	s.setupPkt = pkt
	s.enqueueEventLocked(desc.EventSetup)
	s.evMu.Unlock()
	return nil
}

// Suspend queues a suspend event for the controlling process.
func (fn *Function) Suspend() {
	fn.s.enqueueEvent(desc.EventSuspend)
}

// Resume queues a resume event for the controlling process.
func (fn *Function) Resume() {
	fn.s.enqueueEvent(desc.EventResume)
}

// Unbind detaches the function from its transport, releasing claimed
// endpoints and the composite string IDs. Safe to call once; later
// calls are no-ops.
func (fn *Function) Unbind() {
	if !fn.unbound.CompareAndSwap(false, true) {
		return
	}
	s := fn.s

	s.epMu.Lock()
	fn.disableLocked()
	if s.fn == fn {
		s.fn = nil
	}
	s.epMu.Unlock()

	fn.releaseEndpoints()
	if s.strings != nil {
		s.strings.ClearIDs()
	}
	s.bound.Store(false)

	pkg.LogInfo(pkg.ComponentBind, "function unbound", "name", s.name)
	s.enqueueEvent(desc.EventUnbind)
}

func (fn *Function) releaseEndpoints() {
	for _, slot := range fn.eps {
		if slot != nil && slot.hw != nil {
			slot.hw.Close()
			slot.hw = nil
		}
	}
}

// revmapInterface translates a composite interface number back to the
// descriptor-declared index.
func (fn *Function) revmapInterface(intf uint8) (int, error) {
	for i, num := range fn.ifaceNums {
		if num >= 0 && uint8(num) == intf {
			return i, nil
		}
	}
	return 0, pkg.ErrNoMapping
}

// revmapEndpoint translates a real endpoint address back to the
// 1-based declared index.
func (fn *Function) revmapEndpoint(addr uint8) (int, error) {
	if n := fn.revmap[addr&desc.EndpointNumberMask]; n != 0 {
		return n, nil
	}
	return 0, pkg.ErrNoMapping
}
