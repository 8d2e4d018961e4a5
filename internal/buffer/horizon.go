package buffer

// NextXID returns a fresh transaction id. Ids grow across restarts.
func (m *Manager) NextXID() uint64 {
	return m.xid.Add(1)
}

// Snapshot registers an active reader or writer. Pages deleted after the
// snapshot was taken stay unrecyclable until release is called.
func (m *Manager) Snapshot() (xid uint64, release func()) {
	m.snapMu.Lock()
	xid = m.xid.Add(1)
	m.snaps[xid]++
	m.snapMu.Unlock()

	return xid, func() {
		m.snapMu.Lock()
		defer m.snapMu.Unlock()
		if m.snaps[xid]--; m.snaps[xid] <= 0 {
			delete(m.snaps, xid)
		}
	}
}

// Horizon returns the oldest xid any active snapshot may still observe.
func (m *Manager) Horizon() uint64 {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()

	h := m.xid.Load() + 1
	for xid := range m.snaps {
		if xid < h {
			h = xid
		}
	}
	return h
}

// Recyclable reports whether a page deleted at deleteXID can be reused.
func (m *Manager) Recyclable(deleteXID uint64) bool {
	return deleteXID < m.Horizon()
}
