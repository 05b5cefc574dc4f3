package streamsync

import (
	"cmp"
	"slices"

	"github.com/randalmurphal/streamsync/pkg/streamsync/provenance"
)

// Session is the transactional handle a Processor uses during one invocation.
//
// A processor only ever sees relationship names: Get pulls from the
// connections wired to an input relationship, Transfer stages a FlowFile for
// the connections wired to an output relationship. Nothing is visible
// downstream until the scheduler commits the session after OnTrigger returns
// nil. If OnTrigger fails the session is rolled back: every pulled FlowFile
// returns to the head of its source connection in its original order and no
// staged transfer is applied.
//
// A Session is not safe for concurrent use and must not be retained after
// OnTrigger returns.
type Session struct {
	processor string
	node      *node
	wiring    wiring
	rr        map[Relationship]int

	pulled    []pulledFlowFile
	owned     map[string]*FlowFile
	disposed  map[string]bool
	transfers []stagedTransfer
	removed   []*FlowFile
	created   []*FlowFile
	cloned    []*FlowFile
	pending   map[*Connection]load
	credit    map[*Connection]load
	onCommit  []func()

	closed bool
	events []provenance.Event
	stats  sessionStats
}

type pulledFlowFile struct {
	ff   *FlowFile
	conn *Connection
}

type stagedTransfer struct {
	ff  *FlowFile
	rel Relationship
}

type load struct {
	count int
	bytes int64
}

// sessionStats summarizes a finished session for logging and metrics.
type sessionStats struct {
	received    int
	routed      map[Relationship]int
	dropped     int
	rolledBack  int
	transferred int
}

func newSession(n *node, w wiring) *Session {
	return &Session{
		processor: n.name(),
		node:      n,
		wiring:    w,
		rr:        make(map[Relationship]int),
		owned:     make(map[string]*FlowFile),
		disposed:  make(map[string]bool),
		pending:   make(map[*Connection]load),
		credit:    make(map[*Connection]load),
	}
}

// Get pulls the next FlowFile from an input relationship.
// When several connections feed the relationship they are visited round-robin.
// Returns false when nothing is queued or the relationship is not declared.
func (s *Session) Get(rel Relationship) (*FlowFile, bool) {
	conns := s.wiring.inputs[rel]
	if s.closed || len(conns) == 0 {
		return nil, false
	}
	start := s.rr[rel]
	for i := range conns {
		idx := (start + i) % len(conns)
		c := conns[idx]
		ff, ok := c.claim()
		if !ok {
			continue
		}
		s.rr[rel] = (idx + 1) % len(conns)
		s.pulled = append(s.pulled, pulledFlowFile{ff: ff, conn: c})
		s.owned[ff.id] = ff
		cr := s.credit[c]
		cr.count++
		cr.bytes += ff.Size()
		s.credit[c] = cr
		return ff, true
	}
	return nil, false
}

// GetBatch pulls up to limit FlowFiles from an input relationship.
func (s *Session) GetBatch(rel Relationship, limit int) []*FlowFile {
	var out []*FlowFile
	for len(out) < limit {
		ff, ok := s.Get(rel)
		if !ok {
			break
		}
		out = append(out, ff)
	}
	return out
}

// Available returns how many FlowFiles are queued on an input relationship.
func (s *Session) Available(rel Relationship) int {
	total := 0
	for _, c := range s.wiring.inputs[rel] {
		total += c.Len()
	}
	return total
}

// Create makes a new FlowFile owned by this session.
// It must be transferred or removed; otherwise it is dropped at commit.
func (s *Session) Create(content []byte, attributes map[string]string) *FlowFile {
	ff := NewFlowFile(content, attributes)
	ff.setOwner(ownerSession)
	s.owned[ff.id] = ff
	s.created = append(s.created, ff)
	return ff
}

// Clone makes a sibling of an owned FlowFile with a new identifier.
func (s *Session) Clone(ff *FlowFile) (*FlowFile, error) {
	if err := s.checkOwned(ff); err != nil {
		return nil, err
	}
	c := ff.clone()
	c.setOwner(ownerSession)
	s.owned[c.id] = c
	s.cloned = append(s.cloned, c)
	return c, nil
}

// Transfer stages an owned FlowFile, or a transformed version of it, for an
// output relationship.
//
// Capacity of every connection on the relationship is checked up front,
// counting transfers already staged by this session and crediting FlowFiles
// this session pulled from the same connection. On *BackpressureError the
// FlowFile stays owned and may be routed elsewhere. A declared relationship
// with no connection accepts the FlowFile and auto-terminates it at commit.
func (s *Session) Transfer(ff *FlowFile, rel Relationship) error {
	if err := s.checkOwned(ff); err != nil {
		return err
	}
	if !s.node.declaresOutput(rel) {
		return &WiringError{Op: "transfer", Processor: s.processor, Relationship: rel, Err: ErrUnknownRelationship}
	}
	if ff.ownerState() != ownerSession {
		return ErrAlreadyOwned
	}

	conns := s.wiring.outputs[rel]
	for _, c := range conns {
		p, cr := s.pending[c], s.credit[c]
		c.mu.Lock()
		err := c.admitLocked(ff, p.count-cr.count, p.bytes-cr.bytes)
		c.mu.Unlock()
		if err != nil {
			c.rejected.Add(1)
			return err
		}
	}
	for _, c := range conns {
		p := s.pending[c]
		p.count++
		p.bytes += ff.Size()
		s.pending[c] = p
	}

	s.disposed[ff.id] = true
	s.transfers = append(s.transfers, stagedTransfer{ff: ff, rel: rel})
	return nil
}

// OnCommit registers fn to run after the session commits successfully.
// Registered functions are discarded on rollback.
func (s *Session) OnCommit(fn func()) {
	if s.closed || fn == nil {
		return
	}
	s.onCommit = append(s.onCommit, fn)
}

// Remove drops an owned FlowFile. It is recorded as a terminal disposition.
func (s *Session) Remove(ff *FlowFile) error {
	if err := s.checkOwned(ff); err != nil {
		return err
	}
	s.disposed[ff.id] = true
	s.removed = append(s.removed, ff)
	return nil
}

func (s *Session) checkOwned(ff *FlowFile) error {
	if ff == nil {
		return ErrNotOwned
	}
	if s.disposed[ff.id] {
		return ErrAlreadyTransferred
	}
	if _, ok := s.owned[ff.id]; !ok {
		return ErrNotOwned
	}
	return nil
}

// commit applies all staged transfers atomically and releases pulled FlowFiles.
//
// Every affected connection is locked in handle order, capacity is verified
// for the whole batch, and only then are FlowFiles appended. On
// *BackpressureError nothing has changed and the caller must roll back.
func (s *Session) commit() error {
	if s.closed {
		return nil
	}

	targets := make(map[*Connection]load)
	for _, t := range s.transfers {
		for _, c := range s.wiring.outputs[t.rel] {
			l := targets[c]
			l.count++
			l.bytes += t.ff.Size()
			targets[c] = l
		}
	}

	locked := s.lockAll(targets)
	for c, l := range targets {
		cr := s.credit[c]
		if err := c.fitsLocked(l.count-cr.count, l.bytes-cr.bytes); err != nil {
			unlockAll(locked)
			c.rejected.Add(1)
			return err
		}
	}

	for _, p := range s.pulled {
		s.record(provenance.EventReceive, p.ff, "", p.conn.input, p.conn.id, "")
	}
	for _, ff := range s.created {
		s.record(provenance.EventCreate, ff, "", "", 0, "")
	}
	for _, ff := range s.cloned {
		parent, _ := ff.Attribute(AttrParentUUID)
		s.record(provenance.EventClone, ff, parent, "", 0, "")
	}

	s.stats.routed = make(map[Relationship]int)
	for _, t := range s.transfers {
		conns := s.wiring.outputs[t.rel]
		if len(conns) == 0 {
			s.recordDrop(t.ff, t.rel, "auto-terminated: no connection for relationship")
			continue
		}
		for i, c := range conns {
			ff := t.ff
			if i > 0 {
				ff = t.ff.clone()
				s.record(provenance.EventClone, ff, t.ff.id, t.rel, 0, "fan-out")
			}
			c.pushLocked(ff)
			s.record(provenance.EventRoute, ff, "", t.rel, c.id, "")
			s.stats.transferred++
		}
		s.stats.routed[t.rel]++
	}

	for _, p := range s.pulled {
		p.conn.releaseLocked(1, p.ff.Size())
	}
	unlockAll(locked)

	for _, ff := range s.removed {
		s.recordDrop(ff, "", "removed")
	}
	for _, p := range s.pulled {
		if !s.disposed[p.ff.id] {
			s.recordDrop(p.ff, "", "consumed")
		}
	}
	for _, ff := range slices.Concat(s.created, s.cloned) {
		if !s.disposed[ff.id] {
			s.recordDrop(ff, "", "not transferred")
		}
	}

	s.stats.received = len(s.pulled)
	hooks := s.onCommit
	s.close()
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// rollback restores pulled FlowFiles to the head of their source connections
// in original order and discards all staged work.
func (s *Session) rollback() {
	if s.closed {
		return
	}

	byConn := make(map[*Connection][]*FlowFile)
	var order []*Connection
	for _, p := range s.pulled {
		if _, seen := byConn[p.conn]; !seen {
			order = append(order, p.conn)
		}
		byConn[p.conn] = append(byConn[p.conn], p.ff)
	}
	for _, c := range order {
		c.restore(byConn[c])
	}
	for _, p := range s.pulled {
		s.record(provenance.EventRollback, p.ff, "", p.conn.input, p.conn.id, "")
	}
	for _, ff := range slices.Concat(s.created, s.cloned) {
		ff.setOwner(ownerFree)
	}

	s.stats.rolledBack = len(s.pulled)
	s.close()
}

func (s *Session) close() {
	s.closed = true
	s.pulled = nil
	s.owned = nil
	s.transfers = nil
	s.removed = nil
	s.created = nil
	s.cloned = nil
	s.pending = nil
	s.credit = nil
	s.disposed = nil
	s.onCommit = nil
}

// lockAll locks every target connection plus every source connection in
// ascending handle order.
func (s *Session) lockAll(targets map[*Connection]load) []*Connection {
	set := make(map[*Connection]bool, len(targets)+len(s.pulled))
	for c := range targets {
		set[c] = true
	}
	for _, p := range s.pulled {
		set[p.conn] = true
	}
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	slices.SortFunc(conns, func(a, b *Connection) int {
		return cmp.Compare(a.id, b.id)
	})
	for _, c := range conns {
		c.mu.Lock()
	}
	return conns
}

func unlockAll(conns []*Connection) {
	for i := len(conns) - 1; i >= 0; i-- {
		conns[i].mu.Unlock()
	}
}

func (s *Session) recordDrop(ff *FlowFile, rel Relationship, reason string) {
	ff.setOwner(ownerFree)
	s.record(provenance.EventDrop, ff, "", rel, 0, reason)
	s.stats.dropped++
}

func (s *Session) record(typ provenance.EventType, ff *FlowFile, parent string, rel Relationship, conn ConnectionHandle, details string) {
	s.events = append(s.events, provenance.Event{
		Type:         typ,
		FlowFileID:   ff.id,
		ParentID:     parent,
		Processor:    s.processor,
		Relationship: string(rel),
		Connection:   int(conn),
		Generation:   ff.generation,
		Size:         ff.Size(),
		Attributes:   ff.Attributes(),
		Details:      details,
	})
}
