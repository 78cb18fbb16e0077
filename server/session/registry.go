package session

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"argela.com/bpsim/datamodel"
	"argela.com/bpsim/server/pool"
)

// Default limit of the live sessions.
const DefaultMaxSessions = 10000

// Upper bound of the randomly chosen initial transaction id.
const initialXIDRange = 1000000

// Address pool operations used by the registry.
type AddressPool interface {
	Release(ip string, vlanID int)
	ClearAll()
	Statistics() *pool.Statistics
}

// Receives the sessions changed in the registry.
type Publisher interface {
	AddSessionEvent(session *datamodel.Session, removed bool)
}

// Criteria of the session listing. Nil fields are not used.
type Filter struct {
	VlanID  *int
	PonPort *uint32
	OnuID   *uint32
	UniID   *uint32
	GemPort *uint32
	State   *datamodel.State
	Text    string
}

// Checks if the session matches all criteria.
func (f *Filter) matches(s *datamodel.Session) bool {
	if f == nil {
		return true
	}
	switch {
	case f.VlanID != nil && *f.VlanID != s.VlanID,
		f.PonPort != nil && *f.PonPort != s.PonPort,
		f.OnuID != nil && *f.OnuID != s.OnuID,
		f.UniID != nil && *f.UniID != s.UniID,
		f.GemPort != nil && *f.GemPort != s.GemPort,
		f.State != nil && *f.State != s.State:
		return false
	}
	return s.MatchesText(f.Text)
}

// Session counters.
type Statistics struct {
	TotalSessions      int                     `json:"totalDevices"`
	StateCount         map[datamodel.State]int `json:"stateCount"`
	VlanSessionCount   map[int]int             `json:"vlanDeviceCount"`
	UsedMACAddresses   int                     `json:"usedMacAddresses"`
	NextSessionID      int                     `json:"nextDeviceId"`
	VlanPoolStatistics *pool.Statistics        `json:"vlanPoolStatistics"`
}

// Concurrent store of the simulated sessions indexed by id, transaction
// id and hardware address. A single lock guards all indices and the
// identifier counters so they are always mutually consistent. The
// sessions returned to the callers are copies.
type Registry struct {
	mutex       sync.RWMutex
	maxSessions int
	pool        AddressPool
	publisher   Publisher
	byID        map[int]*datamodel.Session
	byXID       map[uint32]*datamodel.Session
	byMAC       map[string]*datamodel.Session
	nextID      int
	xidCounter  uint32
	random      *rand.Rand
}

// Creates the registry. The publisher may be nil.
func NewRegistry(maxSessions int, addressPool AddressPool, publisher Publisher) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	random := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec
	return &Registry{
		maxSessions: maxSessions,
		pool:        addressPool,
		publisher:   publisher,
		byID:        make(map[int]*datamodel.Session),
		byXID:       make(map[uint32]*datamodel.Session),
		byMAC:       make(map[string]*datamodel.Session),
		xidCounter:  uint32(random.IntN(initialXIDRange)),
		random:      random,
	}
}

// Returns the configured session limit.
func (r *Registry) MaxSessions() int {
	return r.maxSessions
}

// Sends the session to the publisher.
func (r *Registry) publish(session *datamodel.Session, removed bool) {
	if r.publisher != nil {
		r.publisher.AddSessionEvent(session, removed)
	}
}

// Returns the next free transaction id. It must be called with the lock
// held.
func (r *Registry) generateXID() uint32 {
	for {
		r.xidCounter++
		if r.xidCounter == 0 {
			r.xidCounter = 1
		}
		if _, ok := r.byXID[r.xidCounter]; !ok {
			return r.xidCounter
		}
	}
}

// Returns a random unused unicast, globally administered MAC address. It
// must be called with the lock held.
func (r *Registry) generateMAC() string {
	for {
		value := r.random.Uint64()
		mac := fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
			byte(value>>40)&0xfc, byte(value>>32), byte(value>>24),
			byte(value>>16), byte(value>>8), byte(value))
		if _, ok := r.byMAC[mac]; !ok {
			return mac
		}
	}
}

// Adds the session to the registry. A missing hardware address or
// transaction id is generated. The session gets the next id. On success
// the session passed by the caller is updated with the assigned
// identifiers.
func (r *Registry) Add(session *datamodel.Session) error {
	r.mutex.Lock()

	if len(r.byID) >= r.maxSessions {
		r.mutex.Unlock()
		return errors.WithStack(&datamodel.ResourceExhaustedError{
			Resource: "session registry",
			Limit:    r.maxSessions,
		})
	}

	stored := session.Clone()
	if stored.ClientMAC == "" {
		stored.ClientMAC = r.generateMAC()
	}
	if _, ok := r.byMAC[stored.ClientMAC]; ok {
		r.mutex.Unlock()
		return errors.WithStack(&datamodel.DuplicateIdentityError{Kind: "MAC address", Value: stored.ClientMAC})
	}
	// The MAC address is reserved only when the transaction id is unique
	// too, so a collision leaves the indices untouched.
	if stored.XID == 0 {
		stored.XID = r.generateXID()
	}
	if _, ok := r.byXID[stored.XID]; ok {
		r.mutex.Unlock()
		return errors.WithStack(&datamodel.DuplicateIdentityError{Kind: "transaction id", Value: fmt.Sprint(stored.XID)})
	}

	stored.ID = r.nextID
	r.nextID++
	r.byID[stored.ID] = stored
	r.byXID[stored.XID] = stored
	r.byMAC[stored.ClientMAC] = stored
	snapshot := stored.Clone()
	r.mutex.Unlock()

	session.ID = snapshot.ID
	session.ClientMAC = snapshot.ClientMAC
	session.XID = snapshot.XID

	log.WithFields(log.Fields{
		"id":   snapshot.ID,
		"mac":  snapshot.ClientMAC,
		"xid":  snapshot.XID,
		"vlan": snapshot.VlanID,
	}).Debug("Session added")
	r.publish(snapshot, false)
	return nil
}

// Replaces the stored session, keeping the indices consistent. The
// previous address is returned to the pool when it changed. It must be
// called with the lock held.
func (r *Registry) replace(existing, session *datamodel.Session) (*datamodel.Session, error) {
	if session.ClientMAC != existing.ClientMAC {
		if _, ok := r.byMAC[session.ClientMAC]; ok {
			return nil, errors.WithStack(&datamodel.DuplicateIdentityError{Kind: "MAC address", Value: session.ClientMAC})
		}
	}
	if session.XID != existing.XID {
		if _, ok := r.byXID[session.XID]; ok {
			return nil, errors.WithStack(&datamodel.DuplicateIdentityError{Kind: "transaction id", Value: fmt.Sprint(session.XID)})
		}
	}
	if existing.IPAddress != "" && existing.IPAddress != session.IPAddress {
		r.pool.Release(existing.IPAddress, existing.VlanID)
	}

	delete(r.byMAC, existing.ClientMAC)
	delete(r.byXID, existing.XID)
	stored := session.Clone()
	r.byID[stored.ID] = stored
	r.byXID[stored.XID] = stored
	r.byMAC[stored.ClientMAC] = stored
	return stored.Clone(), nil
}

// Replaces the stored session with the same id. The previous address is
// returned to the pool when the address changed.
func (r *Registry) Update(session *datamodel.Session) error {
	r.mutex.Lock()
	existing, ok := r.byID[session.ID]
	if !ok {
		r.mutex.Unlock()
		return errors.Errorf("session %d not found", session.ID)
	}
	snapshot, err := r.replace(existing, session)
	r.mutex.Unlock()
	if err != nil {
		return err
	}
	r.publish(snapshot, false)
	return nil
}

// Atomically applies the modification to the session with the given
// transaction id. The function receives a copy of the session; if it
// returns an error the registry is not changed. Transitions of a single
// session are serialized by this function.
func (r *Registry) Modify(xid uint32, modify func(*datamodel.Session) error) (*datamodel.Session, error) {
	r.mutex.Lock()
	existing, ok := r.byXID[xid]
	if !ok {
		r.mutex.Unlock()
		return nil, errors.WithStack(&datamodel.UnknownSessionError{XID: xid})
	}
	modified := existing.Clone()
	if err := modify(modified); err != nil {
		r.mutex.Unlock()
		return nil, err
	}
	modified.ID = existing.ID
	snapshot, err := r.replace(existing, modified)
	r.mutex.Unlock()
	if err != nil {
		return nil, err
	}
	r.publish(snapshot, false)
	return snapshot.Clone(), nil
}

// Atomically claims the idle session registered at the coordinates with
// the lowest id. When the MAC address is given it must match too. The
// claim function receives a copy of the session and must move it out of
// the idle state; if it returns an error the registry is not changed.
// It returns nil when no idle session matches.
func (r *Registry) ClaimIdle(coordinates datamodel.Coordinates, mac string, claim func(*datamodel.Session) error) (*datamodel.Session, error) {
	idle := datamodel.StateIdle
	filter := &Filter{
		VlanID:  &coordinates.VlanID,
		PonPort: &coordinates.PonPort,
		OnuID:   &coordinates.OnuID,
		UniID:   &coordinates.UniID,
		GemPort: &coordinates.GemPort,
		State:   &idle,
	}

	r.mutex.Lock()
	var existing *datamodel.Session
	for _, candidate := range r.byID {
		if !filter.matches(candidate) || (mac != "" && candidate.ClientMAC != mac) {
			continue
		}
		if existing == nil || candidate.ID < existing.ID {
			existing = candidate
		}
	}
	if existing == nil {
		r.mutex.Unlock()
		return nil, nil
	}
	claimed := existing.Clone()
	if err := claim(claimed); err != nil {
		r.mutex.Unlock()
		return nil, err
	}
	if claimed.State == datamodel.StateIdle {
		r.mutex.Unlock()
		return nil, errors.Errorf("session %d was not moved out of the idle state", existing.ID)
	}
	claimed.ID = existing.ID
	snapshot, err := r.replace(existing, claimed)
	r.mutex.Unlock()
	if err != nil {
		return nil, err
	}
	r.publish(snapshot, false)
	return snapshot.Clone(), nil
}

// Removes the session and releases its hardware address, transaction id
// and IP address. It must be called with the lock held.
func (r *Registry) removeLocked(id int) *datamodel.Session {
	session, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	delete(r.byXID, session.XID)
	delete(r.byMAC, session.ClientMAC)
	if session.IPAddress != "" {
		r.pool.Release(session.IPAddress, session.VlanID)
	}
	return session
}

// Removes the session. It returns false if the session does not exist.
func (r *Registry) Remove(id int) bool {
	r.mutex.Lock()
	removed := r.removeLocked(id)
	r.mutex.Unlock()
	if removed == nil {
		return false
	}
	log.WithFields(log.Fields{
		"id":   id,
		"vlan": removed.VlanID,
	}).Info("Session removed")
	r.publish(removed, true)
	return true
}

// Returns the session with the given transaction id.
func (r *Registry) FindByXID(xid uint32) *datamodel.Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.byXID[xid].Clone()
}

// Returns the session with the given id.
func (r *Registry) FindByID(id int) *datamodel.Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.byID[id].Clone()
}

// Returns the session with the given hardware address.
func (r *Registry) FindByMAC(mac string) *datamodel.Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.byMAC[mac].Clone()
}

// Checks if the hardware address is used by a live session.
func (r *Registry) MACInUse(mac string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.byMAC[mac]
	return ok
}

// Returns the sessions matching the filter sorted by id.
func (r *Registry) List(filter *Filter) []*datamodel.Session {
	r.mutex.RLock()
	sessions := []*datamodel.Session{}
	for _, session := range r.byID {
		if filter.matches(session) {
			sessions = append(sessions, session.Clone())
		}
	}
	r.mutex.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ID < sessions[j].ID
	})
	return sessions
}

// Returns the sessions in the given state.
func (r *Registry) ByState(state datamodel.State) []*datamodel.Session {
	return r.List(&Filter{State: &state})
}

// Returns the sessions in the given VLAN.
func (r *Registry) ByVlan(vlanID int) []*datamodel.Session {
	return r.List(&Filter{VlanID: &vlanID})
}

// Returns the number of live sessions.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.byID)
}

// Removes the sessions whose lease elapsed at the given time. It returns
// the removed sessions.
func (r *Registry) SweepExpiredLeases(now time.Time) []*datamodel.Session {
	r.mutex.Lock()
	var removed []*datamodel.Session
	for id, session := range r.byID {
		if session.LeaseExpired(now) {
			removed = append(removed, r.removeLocked(id))
		}
	}
	r.mutex.Unlock()

	for _, session := range removed {
		log.WithFields(log.Fields{
			"id":   session.ID,
			"vlan": session.VlanID,
			"ip":   session.IPAddress,
		}).Info("Removed session with expired lease")
		r.publish(session, true)
	}
	return removed
}

// Releases all addresses, empties the indices and restarts the id
// numbering.
func (r *Registry) ClearAll() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, session := range r.byID {
		if session.IPAddress != "" {
			r.pool.Release(session.IPAddress, session.VlanID)
		}
	}
	r.byID = make(map[int]*datamodel.Session)
	r.byXID = make(map[uint32]*datamodel.Session)
	r.byMAC = make(map[string]*datamodel.Session)
	r.nextID = 0
	r.pool.ClearAll()
}

// Returns the session counters.
func (r *Registry) Statistics() *Statistics {
	r.mutex.RLock()
	stats := &Statistics{
		TotalSessions:    len(r.byID),
		StateCount:       make(map[datamodel.State]int),
		VlanSessionCount: make(map[int]int),
		UsedMACAddresses: len(r.byMAC),
		NextSessionID:    r.nextID,
	}
	for _, session := range r.byID {
		stats.StateCount[session.State]++
		stats.VlanSessionCount[session.VlanID]++
	}
	r.mutex.RUnlock()
	stats.VlanPoolStatistics = r.pool.Statistics()
	return stats
}
