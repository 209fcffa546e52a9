package capacity

import (
	"slices"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/warp/capacity-engine/generic"
)

// lockTable hands out one mutex per engineer. Holding an engineer's mutex
// across validate + write means two requests for the same engineer cannot
// both pass the capacity check against the same state.
//
// Entries are never removed; the table grows with the number of engineers.
type lockTable struct {
	locks *xsync.Map[generic.UserID, *sync.Mutex]
}

func newLockTable() *lockTable {
	return &lockTable{locks: xsync.NewMap[generic.UserID, *sync.Mutex]()}
}

// lock acquires the mutexes of every given engineer in ID order and
// returns the matching unlock. Blank and repeated IDs are ignored.
func (t *lockTable) lock(ids ...generic.UserID) (unlock func()) {
	ordered := make([]generic.UserID, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			ordered = append(ordered, id)
		}
	}
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	held := make([]*sync.Mutex, 0, len(ordered))
	for _, id := range ordered {
		mu, _ := t.locks.LoadOrStore(id, &sync.Mutex{})
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
