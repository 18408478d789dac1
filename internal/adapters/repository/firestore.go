package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rotisserie/eris"
	"golang.org/x/xerrors"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/metrics"
)

// Firestore layout: sessions/{id} holds the header and revision; rows live in
// the players, matches, pairs and groups subcollections of that document.
const (
	colSessions = "sessions"
	colPlayers  = "players"
	colMatches  = "matches"
	colPairs    = "pairs"
	colGroups   = "groups"
)

type sessionDoc struct {
	Active           bool      `firestore:"active"`
	CourtCount       int       `firestore:"court_count"`
	AllowSingleWoman bool      `firestore:"allow_single_woman"`
	StartedAt        time.Time `firestore:"started_at"`
	EndedAt          time.Time `firestore:"ended_at"`
	Revision         int64     `firestore:"revision"`
}

type playerDoc struct {
	Name             string            `firestore:"name"`
	Gender           string            `firestore:"gender"`
	Skills           map[string]string `firestore:"skills"`
	Status           string            `firestore:"status"`
	ForceMixed       bool              `firestore:"force_mixed"`
	AllowMixedSingle bool              `firestore:"allow_mixed_single"`
	GameCount        int               `firestore:"game_count"`
	MixedCount       int               `firestore:"mixed_count"`
	WaitSince        time.Time         `firestore:"wait_since"`
	JoinSeq          int64             `firestore:"join_seq"`
}

type matchDoc struct {
	CourtID   int       `firestore:"court_id"`
	GameType  string    `firestore:"game_type"`
	TeamA     []string  `firestore:"team_a"`
	TeamB     []string  `firestore:"team_b"`
	GroupID   string    `firestore:"group_id"`
	Status    string    `firestore:"status"`
	StartedAt time.Time `firestore:"started_at"`
	EndedAt   time.Time `firestore:"ended_at"`
}

type pairDoc struct {
	PlayerA string `firestore:"player_a"`
	PlayerB string `firestore:"player_b"`
	Count   int    `firestore:"count"`
}

type groupDoc struct {
	MemberIDs []string `firestore:"member_ids"`
	ReadyIDs  []string `firestore:"ready_ids"`
	// Retired marks a consumed or disbanded group kept as a tombstone.
	Retired bool `firestore:"retired"`
}

// FirestoreStore persists sessions in Cloud Firestore. The change feed is a
// snapshot listener on the session document.
type FirestoreStore struct {
	client *firestore.Client
	cfg    settings
}

// NewFirestoreStore connects to projectID. credentialsFile is optional; the
// FIRESTORE_EMULATOR_HOST variable is honoured by the client.
func NewFirestoreStore(ctx context.Context, projectID, credentialsFile string, opts ...Option) (*FirestoreStore, error) {
	var clientOpts []option.ClientOption
	if credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create firestore client")
	}
	return NewFirestoreStoreWithClient(client, opts...), nil
}

// NewFirestoreStoreWithClient wraps an existing client.
func NewFirestoreStoreWithClient(client *firestore.Client, opts ...Option) *FirestoreStore {
	return &FirestoreStore{client: client, cfg: newSettings("store.firestore", opts)}
}

func (s *FirestoreStore) sessionRef(id string) *firestore.DocumentRef {
	return s.client.Collection(colSessions).Doc(id)
}

// Apply implements Store. Reads precede writes inside the transaction.
func (s *FirestoreStore) Apply(ctx context.Context, sessionID string, d *model.Delta) (rev int64, err error) {
	if err := checkApply(ctx, sessionID, d); err != nil {
		return 0, err
	}
	start := time.Now()
	defer func() { metrics.RecordStoreOperation(DriverFirestore, "apply", time.Since(start), err) }()

	ref := s.sessionRef(sessionID)
	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current int64
		doc, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if v, err := doc.DataAt("revision"); err == nil {
				if n, ok := v.(int64); ok {
					current = n
				}
			}
		}

		var stale []*firestore.DocumentRef
		if d.Reset {
			for _, col := range []string{colPlayers, colMatches, colPairs, colGroups} {
				docs, err := tx.Documents(ref.Collection(col)).GetAll()
				if err != nil {
					return err
				}
				for _, ds := range docs {
					stale = append(stale, ds.Ref)
				}
			}
		}

		for _, dr := range stale {
			if err := tx.Delete(dr); err != nil {
				return err
			}
		}
		for i := range d.Players {
			p := &d.Players[i]
			if err := tx.Set(ref.Collection(colPlayers).Doc(p.ID), toPlayerDoc(p)); err != nil {
				return err
			}
		}
		for _, id := range d.RemovedPlayers {
			if err := tx.Delete(ref.Collection(colPlayers).Doc(id)); err != nil {
				return err
			}
		}
		if d.Match != nil {
			if err := tx.Set(ref.Collection(colMatches).Doc(d.Match.ID), toMatchDoc(d.Match)); err != nil {
				return err
			}
		}
		for _, g := range d.Groups {
			if err := tx.Set(ref.Collection(colGroups).Doc(g.ID), groupDoc{MemberIDs: g.MemberIDs, ReadyIDs: g.ReadyIDs}); err != nil {
				return err
			}
		}
		for _, id := range d.RemovedGroups {
			if err := tx.Set(ref.Collection(colGroups).Doc(id), groupDoc{Retired: true}); err != nil {
				return err
			}
		}
		for _, row := range d.Pairs {
			a, b := model.OrderedPair(row.PlayerA, row.PlayerB)
			if err := tx.Set(ref.Collection(colPairs).Doc(a+"__"+b), pairDoc{PlayerA: a, PlayerB: b, Count: row.Count}); err != nil {
				return err
			}
		}

		rev = current + 1
		header := map[string]interface{}{"revision": rev}
		if d.Session != nil {
			header["active"] = d.Session.Active
			header["court_count"] = d.Session.CourtCount
			header["allow_single_woman"] = d.Session.AllowSingleWoman
			header["started_at"] = d.Session.StartedAt
			header["ended_at"] = d.Session.EndedAt
		}
		return tx.Set(ref, header, firestore.MergeAll)
	})
	if err != nil {
		return 0, eris.Wrap(err, "firestore transaction failed")
	}
	return rev, nil
}

// Snapshot implements Store.
func (s *FirestoreStore) Snapshot(ctx context.Context, sessionID string) (snap *model.Snapshot, err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation(DriverFirestore, "snapshot", time.Since(start), err) }()

	ref := s.sessionRef(sessionID)
	doc, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "failed to read session")
	}
	var header sessionDoc
	if err := doc.DataTo(&header); err != nil {
		return nil, consistencyError(doc, err)
	}
	snap = &model.Snapshot{
		Session: model.SessionInfo{
			ID:           sessionID,
			Active:       header.Active,
			CourtCount:   header.CourtCount,
			StartedAt:    header.StartedAt,
			EndedAt:      header.EndedAt,
			SessionFlags: model.SessionFlags{AllowSingleWoman: header.AllowSingleWoman},
		},
		Players:       []model.SessionPlayer{},
		ActiveMatches: []model.Match{},
		PairHistory:   []model.PairRow{},
		Groups:        []model.ReservedGroup{},
		Revision:      header.Revision,
	}

	players, err := ref.Collection(colPlayers).Documents(ctx).GetAll()
	if err != nil {
		return nil, eris.Wrap(err, "failed to read players")
	}
	for _, ds := range players {
		var pd playerDoc
		if err := ds.DataTo(&pd); err != nil {
			return nil, consistencyError(ds, err)
		}
		snap.Players = append(snap.Players, fromPlayerDoc(ds.Ref.ID, &pd))
	}
	sortPlayers(snap.Players)

	matches, err := ref.Collection(colMatches).Documents(ctx).GetAll()
	if err != nil {
		return nil, eris.Wrap(err, "failed to read matches")
	}
	var completed []model.Match
	for _, ds := range matches {
		var md matchDoc
		if err := ds.DataTo(&md); err != nil {
			return nil, consistencyError(ds, err)
		}
		m, err := fromMatchDoc(ds.Ref.ID, &md)
		if err != nil {
			return nil, err
		}
		if md.Status == matchStatusCompleted {
			completed = append(completed, m)
			continue
		}
		snap.ActiveMatches = append(snap.ActiveMatches, m)
	}
	sortMatches(snap.ActiveMatches)
	snap.CompletedCount = len(completed)
	snap.LastMixed = latestMixed(completed)
	snap.CompletedMatchIDs = matchIDs(completed)

	pairs, err := ref.Collection(colPairs).Documents(ctx).GetAll()
	if err != nil {
		return nil, eris.Wrap(err, "failed to read pair history")
	}
	for _, ds := range pairs {
		var pd pairDoc
		if err := ds.DataTo(&pd); err != nil {
			return nil, consistencyError(ds, err)
		}
		snap.PairHistory = append(snap.PairHistory, model.PairRow{PlayerA: pd.PlayerA, PlayerB: pd.PlayerB, Count: pd.Count})
	}
	sortPairs(snap.PairHistory)

	groups, err := ref.Collection(colGroups).Documents(ctx).GetAll()
	if err != nil {
		return nil, eris.Wrap(err, "failed to read groups")
	}
	for _, ds := range groups {
		var gd groupDoc
		if err := ds.DataTo(&gd); err != nil {
			return nil, consistencyError(ds, err)
		}
		if gd.Retired {
			snap.RetiredGroupIDs = append(snap.RetiredGroupIDs, ds.Ref.ID)
			continue
		}
		g := model.ReservedGroup{ID: ds.Ref.ID, MemberIDs: gd.MemberIDs, ReadyIDs: gd.ReadyIDs}
		if g.ReadyIDs == nil {
			g.ReadyIDs = []string{}
		}
		snap.Groups = append(snap.Groups, g)
	}
	return snap, nil
}

// Watch implements Store with a snapshot listener on the session document.
func (s *FirestoreStore) Watch(ctx context.Context, sessionID string) (<-chan int64, error) {
	ch := make(chan int64, 1)
	it := s.sessionRef(sessionID).Snapshots(ctx)
	go func() {
		defer close(ch)
		defer it.Stop()
		for {
			doc, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					s.cfg.log.Warn(ctx, "session listener stopped",
						logger.String("session", sessionID),
						logger.Error(err),
					)
				}
				return
			}
			if !doc.Exists() {
				continue
			}
			var header sessionDoc
			if err := doc.DataTo(&header); err != nil {
				s.cfg.log.Warn(ctx, "undecodable session document",
					logger.String("session", sessionID),
					logger.Error(consistencyError(doc, err)),
				)
				continue
			}
			offer(ch, header.Revision)
		}
	}()
	return ch, nil
}

// Close implements Store.
func (s *FirestoreStore) Close() error {
	return eris.Wrap(s.client.Close(), "failed to close firestore client")
}

func consistencyError(doc *firestore.DocumentSnapshot, err error) error {
	return xerrors.Errorf("consistency error. Converting %s to internal struct failed: %v: %w",
		doc.Ref.Path, err, ErrInconsistency)
}

func toPlayerDoc(p *model.SessionPlayer) playerDoc {
	skills := make(map[string]string, len(p.Skills))
	for k, v := range p.Skills {
		skills[k] = string(v)
	}
	return playerDoc{
		Name:             p.Name,
		Gender:           string(p.Gender),
		Skills:           skills,
		Status:           string(p.Status),
		ForceMixed:       p.ForceMixed,
		AllowMixedSingle: p.AllowMixedSingle,
		GameCount:        p.GameCount,
		MixedCount:       p.MixedCount,
		WaitSince:        p.WaitSince,
		JoinSeq:          p.JoinSeq,
	}
}

func fromPlayerDoc(id string, d *playerDoc) model.SessionPlayer {
	p := model.SessionPlayer{
		Player: model.Player{
			ID:     id,
			Name:   d.Name,
			Gender: model.Gender(d.Gender),
		},
		Status:           model.Status(d.Status),
		ForceMixed:       d.ForceMixed,
		AllowMixedSingle: d.AllowMixedSingle,
		GameCount:        d.GameCount,
		MixedCount:       d.MixedCount,
		WaitSince:        d.WaitSince,
		JoinSeq:          d.JoinSeq,
	}
	if len(d.Skills) > 0 {
		p.Skills = make(map[string]model.SkillLevel, len(d.Skills))
		for k, v := range d.Skills {
			p.Skills[k] = model.SkillLevel(v)
		}
	}
	return p
}

func toMatchDoc(m *model.Match) matchDoc {
	st := matchStatusActive
	if m.Completed() {
		st = matchStatusCompleted
	}
	return matchDoc{
		CourtID:   m.CourtID,
		GameType:  string(m.GameType),
		TeamA:     []string{m.TeamA[0], m.TeamA[1]},
		TeamB:     []string{m.TeamB[0], m.TeamB[1]},
		GroupID:   m.GroupID,
		Status:    st,
		StartedAt: m.StartedAt,
		EndedAt:   m.EndedAt,
	}
}

func fromMatchDoc(id string, d *matchDoc) (model.Match, error) {
	if len(d.TeamA) != 2 || len(d.TeamB) != 2 {
		return model.Match{}, xerrors.Errorf("consistency error. match %s has teams %v/%v: %w", id, d.TeamA, d.TeamB, ErrInconsistency)
	}
	return model.Match{
		ID:        id,
		CourtID:   d.CourtID,
		GameType:  model.GameType(d.GameType),
		TeamA:     [2]string{d.TeamA[0], d.TeamA[1]},
		TeamB:     [2]string{d.TeamB[0], d.TeamB[1]},
		GroupID:   d.GroupID,
		StartedAt: d.StartedAt,
		EndedAt:   d.EndedAt,
	}, nil
}
