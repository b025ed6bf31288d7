package collection

import (
	"fmt"

	"github.com/dreamware/vtrt/internal/location"
	"github.com/dreamware/vtrt/internal/rt"
	"github.com/dreamware/vtrt/pkg/wire"
)

type migrateMsg struct {
	CollID uint64
	Lin    int64
	State  []byte
}

// RegisterRebuilder installs the decode half of c's element serialization,
// used on whatever node ends up receiving a migrated-in instance. Every
// node that constructs c must call this once, since a migration target is
// chosen at migrate-call time, not at construction.
func (m *Manager) RegisterRebuilder(c *Coll, rebuild func([]byte) any) {
	m.mu.Lock()
	m.rebuilders[c.id] = rebuild
	m.mu.Unlock()
}

// Migrate moves idx's element from this node to target: serialize local
// state, ship it, replace the local record with a forward pointer via the
// location manager, and notify the home. target must have already called
// RegisterRebuilder for c.
func (m *Manager) Migrate(c *Coll, idx Index, target rt.NodeType) {
	lin := LinearizeColMajor(idx, c.rng)

	c.mu.Lock()
	ent, ok := c.entries[lin]
	if ok {
		delete(c.entries, lin)
	}
	c.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("vtrt/collection: migrate of non-local index %v", idx))
	}

	state, err := wire.Marshal(ent.elem)
	if err != nil {
		panic(fmt.Sprintf("vtrt/collection: migrate serialize: %v", err))
	}

	msg := migrateMsg{CollID: c.id, Lin: lin, State: state}
	payload, err := wire.Marshal(msg)
	if err != nil {
		panic(err)
	}
	if _, err := m.eng.Send(target, m.hMigrateIn, payload); err != nil {
		panic(err)
	}

	home := c.mapFn(idx, c.rng, c.numNodes)
	id := location.Make(true, ent.migratable, home, proxyIdentifier(c.id, lin))
	m.loc.Migrate(id, target)
}

func (m *Manager) onMigrateIn(msg []byte, from rt.NodeType) {
	var in migrateMsg
	if err := wire.Unmarshal(msg, &in); err != nil {
		panic(err)
	}

	m.mu.RLock()
	c, okC := m.colls[in.CollID]
	rebuild, okR := m.rebuilders[in.CollID]
	m.mu.RUnlock()
	if !okC || !okR {
		panic("vtrt/collection: migrate-in for collection with no registered rebuilder")
	}

	elem := rebuild(in.State)
	c.mu.Lock()
	c.entries[in.Lin] = &entry{idx: DelinearizeColMajor(in.Lin, c.rng), elem: elem, migratable: true}
	c.mu.Unlock()

	home := c.mapFn(DelinearizeColMajor(in.Lin, c.rng), c.rng, c.numNodes)
	m.loc.AdoptLocal(location.Make(true, true, home, proxyIdentifier(in.CollID, in.Lin)))
}
