package repository

import (
	"context"
	"sort"
	"sync"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
)

// MemoryStore keeps session rows in process memory. Stations sharing one
// MemoryStore behave like stations sharing a database.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memSession
	watchers map[string][]chan int64
	closed   bool
}

type memSession struct {
	info     model.SessionInfo
	revision int64
	players  map[string]model.SessionPlayer
	matches  map[string]model.Match
	groups   map[string]model.ReservedGroup
	retired  map[string]struct{}
	pairs    map[[2]string]int
}

func newMemSession(id string) *memSession {
	s := &memSession{info: model.SessionInfo{ID: id}}
	s.clear()
	return s
}

func (s *memSession) clear() {
	s.players = make(map[string]model.SessionPlayer)
	s.matches = make(map[string]model.Match)
	s.groups = make(map[string]model.ReservedGroup)
	s.retired = make(map[string]struct{})
	s.pairs = make(map[[2]string]int)
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memSession),
		watchers: make(map[string][]chan int64),
	}
}

// Apply implements Store.
func (m *MemoryStore) Apply(ctx context.Context, sessionID string, d *model.Delta) (int64, error) {
	if err := checkApply(ctx, sessionID, d); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStoreClosed
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		s = newMemSession(sessionID)
		m.sessions[sessionID] = s
	}
	if d.Reset {
		s.clear()
	}
	if d.Session != nil {
		s.info = *d.Session
		s.info.ID = sessionID
	}
	for _, p := range d.Players {
		s.players[p.ID] = p
	}
	for _, id := range d.RemovedPlayers {
		delete(s.players, id)
	}
	if d.Match != nil {
		s.matches[d.Match.ID] = *d.Match
	}
	for _, g := range d.Groups {
		s.groups[g.ID] = model.ReservedGroup{
			ID:        g.ID,
			MemberIDs: append([]string{}, g.MemberIDs...),
			ReadyIDs:  append([]string{}, g.ReadyIDs...),
		}
	}
	for _, id := range d.RemovedGroups {
		delete(s.groups, id)
		s.retired[id] = struct{}{}
	}
	for _, row := range d.Pairs {
		a, b := model.OrderedPair(row.PlayerA, row.PlayerB)
		s.pairs[[2]string{a, b}] = row.Count
	}
	s.revision++
	for _, ch := range m.watchers[sessionID] {
		offer(ch, s.revision)
	}
	return s.revision, nil
}

// Snapshot implements Store.
func (m *MemoryStore) Snapshot(ctx context.Context, sessionID string) (*model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	snap := &model.Snapshot{
		Session:       s.info,
		Players:       make([]model.SessionPlayer, 0, len(s.players)),
		ActiveMatches: make([]model.Match, 0),
		PairHistory:   make([]model.PairRow, 0, len(s.pairs)),
		Groups:        make([]model.ReservedGroup, 0, len(s.groups)),
		Revision:      s.revision,
	}
	for _, p := range s.players {
		snap.Players = append(snap.Players, p)
	}
	sortPlayers(snap.Players)
	var completed []model.Match
	for _, mt := range s.matches {
		if mt.Completed() {
			completed = append(completed, mt)
			continue
		}
		snap.ActiveMatches = append(snap.ActiveMatches, mt)
	}
	sortMatches(snap.ActiveMatches)
	snap.CompletedCount = len(completed)
	snap.LastMixed = latestMixed(completed)
	snap.CompletedMatchIDs = matchIDs(completed)
	for id := range s.retired {
		snap.RetiredGroupIDs = append(snap.RetiredGroupIDs, id)
	}
	sort.Strings(snap.RetiredGroupIDs)
	for k, n := range s.pairs {
		snap.PairHistory = append(snap.PairHistory, model.PairRow{PlayerA: k[0], PlayerB: k[1], Count: n})
	}
	sortPairs(snap.PairHistory)
	for _, g := range s.groups {
		snap.Groups = append(snap.Groups, model.ReservedGroup{
			ID:        g.ID,
			MemberIDs: append([]string{}, g.MemberIDs...),
			ReadyIDs:  append([]string{}, g.ReadyIDs...),
		})
	}
	sort.Slice(snap.Groups, func(i, j int) bool { return snap.Groups[i].ID < snap.Groups[j].ID })
	return snap, nil
}

// Watch implements Store.
func (m *MemoryStore) Watch(ctx context.Context, sessionID string) (<-chan int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	ch := make(chan int64, 1)
	m.watchers[sessionID] = append(m.watchers[sessionID], ch)
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.watchers[sessionID]
		for i, w := range list {
			if w == ch {
				m.watchers[sessionID] = append(list[:i], list[i+1:]...)
				close(ch)
				break
			}
		}
	}()
	return ch, nil
}

// Close implements Store. Open watchers are closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for sid, list := range m.watchers {
		for _, ch := range list {
			close(ch)
		}
		delete(m.watchers, sid)
	}
	return nil
}

func checkApply(ctx context.Context, sessionID string, d *model.Delta) error {
	if d == nil {
		return ErrNilDelta
	}
	if sessionID == "" {
		return ErrEmptySession
	}
	return ctx.Err()
}

// latestMixed picks the completed mixed match that ended last.
func latestMixed(completed []model.Match) *model.Match {
	var last *model.Match
	for i := range completed {
		mt := completed[i]
		if mt.GameType != model.GameMixed {
			continue
		}
		if last == nil || mt.EndedAt.After(last.EndedAt) ||
			(mt.EndedAt.Equal(last.EndedAt) && mt.ID > last.ID) {
			last = &mt
		}
	}
	return last
}

func sortPlayers(players []model.SessionPlayer) {
	sort.Slice(players, func(i, j int) bool { return model.WaitsBefore(&players[i], &players[j]) })
}

func sortMatches(matches []model.Match) {
	sort.Slice(matches, func(i, j int) bool { return matches[i].CourtID < matches[j].CourtID })
}

func sortPairs(rows []model.PairRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PlayerA != rows[j].PlayerA {
			return rows[i].PlayerA < rows[j].PlayerA
		}
		return rows[i].PlayerB < rows[j].PlayerB
	})
}

// matchIDs returns the ids of matches in order, or nil when there are none.
func matchIDs(matches []model.Match) []string {
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.ID)
	}
	sort.Strings(out)
	return out
}
