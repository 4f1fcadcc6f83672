package core

import (
	"sort"
	"sync"

	"github.com/dkeye/collab/internal/domain"
	"github.com/rs/zerolog/log"
)

// Directory maps room ids to their member sets. Operations on the same
// room are serialized by that room's critical section; different rooms
// never contend beyond the short map lookup.
type Directory struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*Room
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[domain.RoomID]*Room)}
}

// Do runs fn inside the critical section of room id. With create set an
// absent room is created first; otherwise Do reports false and fn is not
// called. A room left empty by fn is removed before the section ends, so
// the next Do for the same id starts fresh.
func (d *Directory) Do(id domain.RoomID, create bool, fn func(r *Room)) bool {
	r := d.acquire(id, create)
	if r == nil {
		return false
	}
	defer r.mu.Unlock()

	fn(r)

	if r.MemberCount() == 0 {
		r.dead = true
		d.mu.Lock()
		if d.rooms[id] == r {
			delete(d.rooms, id)
		}
		d.mu.Unlock()
		log.Info().Str("module", "core.directory").Str("room", string(id)).Msg("room closed (empty)")
	}
	return true
}

// acquire returns the locked room. A room marked dead was removed after we
// looked it up; retry against the map.
func (d *Directory) acquire(id domain.RoomID, create bool) *Room {
	for {
		d.mu.Lock()
		r, ok := d.rooms[id]
		if !ok {
			if !create {
				d.mu.Unlock()
				return nil
			}
			r = newRoom(id)
			d.rooms[id] = r
		}
		d.mu.Unlock()

		r.mu.Lock()
		if !r.dead {
			return r
		}
		r.mu.Unlock()
	}
}

// Join adds ms to room id, creating the room if needed, and returns the
// members after the add.
func (d *Directory) Join(id domain.RoomID, ms MemberSession) []MemberDTO {
	var out []MemberDTO
	d.Do(id, true, func(r *Room) {
		r.Add(ms)
		out = r.MembersSnapshot()
	})
	return out
}

// Leave removes sid and returns the remaining members. An unknown sid is
// treated as already absent.
func (d *Directory) Leave(id domain.RoomID, sid SessionID) []MemberDTO {
	out := []MemberDTO{}
	d.Do(id, false, func(r *Room) {
		r.Remove(sid)
		out = r.MembersSnapshot()
	})
	return out
}

func (d *Directory) Snapshot(id domain.RoomID) []MemberDTO {
	out := []MemberDTO{}
	d.Do(id, false, func(r *Room) {
		out = r.MembersSnapshot()
	})
	return out
}

func (d *Directory) Exists(id domain.RoomID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.rooms[id]
	return ok
}

func (d *Directory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

// List returns live rooms sorted by id.
func (d *Directory) List() []RoomInfo {
	d.mu.Lock()
	ids := make([]domain.RoomID, 0, len(d.rooms))
	for id := range d.rooms {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]RoomInfo, 0, len(ids))
	for _, id := range ids {
		d.Do(id, false, func(r *Room) {
			out = append(out, RoomInfo{ID: id, MemberCount: r.MemberCount()})
		})
	}
	return out
}
