package arena

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/pkg/wire"
)

// Sender is the transport port the manager broadcasts through. A send to a
// dropped connection returns an error; the manager swallows it and the
// session continues.
type Sender interface {
	Send(connID string, env wire.Envelope) error
}

// Archiver persists finished games so seeding keeps working after a session
// leaves memory.
type Archiver interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, id string) (*Record, error)
}

// ProfileSource resolves a user id to display data.
type ProfileSource interface {
	UserInfo(ctx context.Context, id string) (name, displayPicture string, err error)
}

// Manager owns the process-wide registries and routes operations onto the
// per-session state machines.
type Manager struct {
	registry *Registry
	queue    *Queue
	sender   Sender

	mu       sync.Mutex
	sessions map[string]*Session
	// lastOver remembers, per connection, the game that just ended on it so a
	// straggling MOVE gets GAME_ALREADY_OVER instead of NOT_IN_GAME. Entries
	// clear on the connection's next join or on disconnect.
	lastOver map[string]string

	archive  Archiver
	profiles ProfileSource

	clockSec int
	tick     time.Duration
	maxGames int

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager wires the matchmaking queue, connection registry and session map
// around a transport sender. clockSec is each side's initial allotment; tick
// is the scheduler cadence.
func NewManager(sender Sender, clockSec int, tick time.Duration, maxGames int) *Manager {
	if clockSec <= 0 {
		clockSec = 600
	}
	if tick <= 0 {
		tick = time.Second
	}
	if maxGames <= 0 {
		maxGames = 200
	}
	return &Manager{
		registry: NewRegistry(),
		queue:    NewQueue(),
		sender:   sender,
		sessions: make(map[string]*Session),
		lastOver: make(map[string]string),
		clockSec: clockSec,
		tick:     tick,
		maxGames: maxGames,
		done:     make(chan struct{}),
	}
}

// AttachArchive wires a store for finished games.
func (m *Manager) AttachArchive(a Archiver) {
	if m != nil {
		m.archive = a
	}
}

// AttachProfiles wires the external profile service lookup.
func (m *Manager) AttachProfiles(p ProfileSource) {
	if m != nil {
		m.profiles = p
	}
}

// Register adds a freshly accepted connection to the registry.
func (m *Manager) Register(connID string) {
	m.registry.Register(connID)
	obslog.L().Debug("arena_conn_register", zap.String("conn_id", connID))
}

// HandleJoin processes INIT_GAME: associate the user, then either rebind a
// seat the user already holds (reconnection) or enter matchmaking. Pairing
// creates the session, assigns colors and starts its clock.
func (m *Manager) HandleJoin(connID, playerID string) error {
	if _, ok := m.registry.Get(connID); !ok {
		return ErrUnknownConn
	}
	if err := m.registry.AssociateUser(connID, playerID); err != nil {
		return err
	}

	// Reconnection path: the user already owns a seat somewhere.
	if s := m.sessionByUser(playerID); s != nil && s.Status() == StatusActive {
		color, err := s.Rebind(playerID, connID, m.registry.Alive)
		if err != nil {
			m.sendError(connID, err)
			return err
		}
		if err := m.registry.AssociateSession(connID, s.ID); err != nil {
			m.sendError(connID, err)
			return err
		}
		m.send(connID, wire.NewEnvelope(wire.TypeInitGame, wire.ColorAssignment{Color: string(color), GameID: s.ID}))
		obslog.L().Info("arena_rebind",
			zap.String("game_id", s.ID),
			zap.String("conn_id", connID),
			zap.String("player_id", playerID),
		)
		return nil
	}

	m.mu.Lock()
	delete(m.lastOver, connID)
	m.mu.Unlock()

	if m.activeCount() >= m.maxGames {
		m.sendError(connID, ErrArenaFull)
		return ErrArenaFull
	}

	whiteConn, blackConn, paired, err := m.queue.Enqueue(connID)
	if err != nil {
		m.sendError(connID, err)
		return err
	}
	if !paired {
		obslog.L().Info("arena_enqueue", zap.String("conn_id", connID), zap.String("player_id", playerID))
		return nil
	}
	return m.startSession(whiteConn, blackConn)
}

func (m *Manager) startSession(whiteConn, blackConn string) error {
	whiteEntry, ok := m.registry.Get(whiteConn)
	if !ok {
		// Head dropped between enqueue and pairing; requeue the newcomer.
		_, _, _, _ = m.queue.Enqueue(blackConn)
		return nil
	}
	blackEntry, ok := m.registry.Get(blackConn)
	if !ok {
		_, _, _, _ = m.queue.Enqueue(whiteConn)
		return nil
	}

	s := NewSession(uuid.NewString(), whiteConn, whiteEntry.UserID, blackConn, blackEntry.UserID, m.clockSec)
	if err := m.registry.AssociateSession(whiteConn, s.ID); err != nil {
		// The dequeued opponent did nothing wrong; keep them in matchmaking.
		m.sendError(whiteConn, err)
		_, _, _, _ = m.queue.Enqueue(blackConn)
		return err
	}
	if err := m.registry.AssociateSession(blackConn, s.ID); err != nil {
		m.sendError(blackConn, err)
		m.registry.ClearSession(whiteConn)
		_, _, _, _ = m.queue.Enqueue(whiteConn)
		return err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.send(whiteConn, wire.NewEnvelope(wire.TypeInitGame, wire.ColorAssignment{Color: "white", GameID: s.ID}))
	m.send(blackConn, wire.NewEnvelope(wire.TypeInitGame, wire.ColorAssignment{Color: "black", GameID: s.ID}))
	obslog.L().Info("arena_pair",
		zap.String("game_id", s.ID),
		zap.String("white_conn", whiteConn),
		zap.String("black_conn", blackConn),
		zap.String("white_id", whiteEntry.UserID),
		zap.String("black_id", blackEntry.UserID),
	)

	m.runClock(s)
	return nil
}

// HandleMove applies a proposed move. Rejections go back to the mover only;
// accepted moves are broadcast to both seats so each client derives its board
// from the authoritative log rather than local mutation.
func (m *Manager) HandleMove(connID, from, to string) error {
	s := m.sessionByConn(connID)
	if s == nil {
		m.mu.Lock()
		endedGame, justEnded := m.lastOver[connID]
		m.mu.Unlock()
		if justEnded {
			m.sendError(connID, ErrGameOver)
			obslog.L().Debug("arena_move_after_over", zap.String("game_id", endedGame), zap.String("conn_id", connID))
			return ErrGameOver
		}
		m.sendError(connID, ErrNotInGame)
		return ErrNotInGame
	}

	res, err := s.ApplyMove(connID, from, to)
	if err != nil {
		m.sendError(connID, err)
		obslog.L().Debug("arena_move_reject",
			zap.String("game_id", s.ID),
			zap.String("conn_id", connID),
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err),
		)
		return err
	}

	entry := wire.MoveEntry{From: res.Move.From, To: res.Move.To, Player: res.Move.Color.Short(), Seq: res.Move.Seq}
	obslog.L().Info("arena_move",
		zap.String("game_id", s.ID),
		zap.String("conn_id", connID),
		zap.String("san", res.Move.SAN),
		zap.Int("seq", res.Move.Seq),
	)

	if res.Finished {
		m.broadcast(s, wire.NewEnvelope(wire.TypeGameOver, wire.GameOver{Winner: string(res.Winner)}))
		m.finalize(s)
		return nil
	}
	m.broadcast(s, wire.NewEnvelope(wire.TypeMove, wire.MoveBroadcast{Move: entry}))
	return nil
}

// HandleSeedMoves returns the full ordered move log to the requester. Any
// connection may ask, including one that is not a participant; finished games
// are served from the archive.
func (m *Manager) HandleSeedMoves(connID, gameID string) error {
	moves, err := m.movesFor(gameID)
	if err != nil {
		m.sendError(connID, err)
		return err
	}
	entries := make([]wire.MoveEntry, len(moves))
	for i, mv := range moves {
		entries[i] = wire.MoveEntry{From: mv.From, To: mv.To, Player: mv.Color.Short(), Seq: mv.Seq}
	}
	m.send(connID, wire.NewEnvelope(wire.TypeSeedMoves, wire.SeedMovesResponse{Moves: entries}))
	return nil
}

// HandleOpponent resolves the requester's opponent in a game and hands the id
// back, enriched with profile data when a profile service is configured.
func (m *Manager) HandleOpponent(connID, gameID, playerID string) error {
	opponentID, err := m.opponentFor(gameID, playerID)
	if err != nil {
		m.sendError(connID, err)
		return err
	}
	resp := wire.OpponentResponse{OpponentID: opponentID}
	if m.profiles != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		name, picture, perr := m.profiles.UserInfo(ctx, opponentID)
		cancel()
		if perr != nil {
			obslog.L().Warn("arena_profile_lookup_failed", zap.String("opponent_id", opponentID), zap.Error(perr))
		} else {
			resp.Name = name
			resp.DisplayPicture = picture
		}
	}
	m.send(connID, wire.NewEnvelope(wire.TypeOpponentID, resp))
	return nil
}

// Disconnect drops a connection. A queued connection leaves the queue; a
// connection in a live session leaves the session running, and relay to it
// fails silently from now on.
func (m *Manager) Disconnect(connID string) {
	m.queue.Remove(connID)
	m.mu.Lock()
	delete(m.lastOver, connID)
	m.mu.Unlock()
	sessionID, existed := m.registry.Remove(connID)
	if !existed {
		return
	}
	if sessionID != "" {
		obslog.L().Info("arena_peer_drop", zap.String("conn_id", connID), zap.String("game_id", sessionID))
	} else {
		obslog.L().Debug("arena_conn_remove", zap.String("conn_id", connID))
	}
}

// Close stops every session clock and waits for them to exit.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

// tickCarry accrues tick milliseconds and releases whole seconds, so any
// cadence accounts for exactly the wall time that passed. Sub-second carry
// rolls into the next tick.
type tickCarry struct {
	ms int
}

func (c *tickCarry) advance(tickMs int) int {
	c.ms += tickMs
	sec := c.ms / 1000
	c.ms -= sec * 1000
	return sec
}

// runClock ticks one session at the configured cadence until the game ends.
// Cadence is independent per session; a slow session never blocks another.
func (m *Manager) runClock(s *Session) {
	tickMs := int(m.tick / time.Millisecond)
	if tickMs < 1 {
		tickMs = 1
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t := time.NewTicker(m.tick)
		defer t.Stop()
		var carry tickCarry
		for {
			select {
			case <-m.done:
				return
			case <-t.C:
				elapsed := carry.advance(tickMs)
				if elapsed == 0 {
					continue
				}
				res := s.Tick(elapsed)
				if !res.Active {
					return
				}
				if res.Finished {
					m.broadcast(s, wire.NewEnvelope(wire.TypeGameOver, wire.GameOver{Winner: string(res.Winner)}))
					obslog.L().Info("arena_flag_fall", zap.String("game_id", s.ID), zap.String("winner", string(res.Winner)))
					m.finalize(s)
					return
				}
				m.broadcast(s, wire.NewEnvelope(wire.TypeTimerUpdate, wire.TimerUpdate{WhiteTimer: res.WhiteTimer, BlackTimer: res.BlackTimer}))
			}
		}
	}()
}

// finalize releases a finished session's seats back to their connections,
// archives the game and evicts it from memory. Without an archive the session
// stays resident so seeding keeps working; it no longer counts as active.
func (m *Manager) finalize(s *Session) {
	rec := s.Record()
	whiteConn, blackConn := s.ConnIDs()
	for _, conn := range []string{whiteConn, blackConn} {
		if conn == "" {
			continue
		}
		m.registry.ClearSession(conn)
		m.mu.Lock()
		m.lastOver[conn] = s.ID
		m.mu.Unlock()
	}
	obslog.L().Info("arena_game_over",
		zap.String("game_id", rec.ID),
		zap.String("winner", string(rec.Winner)),
		zap.String("method", rec.Method),
		zap.Int("half_turns", len(rec.Moves)),
	)
	if m.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.archive.Save(ctx, rec); err != nil {
		obslog.L().Error("arena_archive_error", zap.String("game_id", rec.ID), zap.Error(err))
		return
	}
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
}

// Lookup helpers.

func (m *Manager) sessionByConn(connID string) *Session {
	entry, ok := m.registry.Get(connID)
	if !ok || entry.SessionID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[entry.SessionID]
}

// sessionByUser finds the user's active session, ignoring finished games
// still resident for seeding.
func (m *Manager) sessionByUser(userID string) *Session {
	if userID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Status() != StatusActive {
			continue
		}
		if _, err := s.OpponentUserID(userID); err == nil {
			return s
		}
	}
	return nil
}

// Session returns a live session by id; nil when evicted or unknown.
func (m *Manager) Session(gameID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[gameID]
}

// activeCount counts sessions still being played; finished games kept
// resident for seeding do not hold a slot.
func (m *Manager) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.Status() == StatusActive {
			n++
		}
	}
	return n
}

func (m *Manager) movesFor(gameID string) ([]Move, error) {
	m.mu.Lock()
	s := m.sessions[gameID]
	m.mu.Unlock()
	if s != nil {
		return s.Moves(), nil
	}
	if m.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rec, err := m.archive.Load(ctx, gameID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec.Moves, nil
		}
	}
	return nil, ErrNoSession
}

func (m *Manager) opponentFor(gameID, playerID string) (string, error) {
	m.mu.Lock()
	s := m.sessions[gameID]
	m.mu.Unlock()
	if s != nil {
		return s.OpponentUserID(playerID)
	}
	if m.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rec, err := m.archive.Load(ctx, gameID)
		if err != nil {
			return "", err
		}
		if rec != nil {
			switch playerID {
			case rec.WhiteID:
				return rec.BlackID, nil
			case rec.BlackID:
				return rec.WhiteID, nil
			default:
				return "", ErrNotInGame
			}
		}
	}
	return "", ErrNoSession
}

// Send plumbing. Sends to a gone peer no-op so a missing opponent never
// stalls a session.

func (m *Manager) send(connID string, env wire.Envelope) {
	if m.sender == nil || connID == "" {
		return
	}
	if err := m.sender.Send(connID, env); err != nil {
		obslog.L().Debug("arena_send_drop", zap.String("conn_id", connID), zap.String("type", env.Type), zap.Error(err))
	}
}

func (m *Manager) broadcast(s *Session, env wire.Envelope) {
	whiteConn, blackConn := s.ConnIDs()
	m.send(whiteConn, env)
	m.send(blackConn, env)
}

func (m *Manager) sendError(connID string, err error) {
	m.send(connID, wire.NewEnvelope(wire.TypeError, wire.ErrorNotice{Code: errorCode(err), Message: err.Error()}))
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMove):
		return "INVALID_MOVE"
	case errors.Is(err, ErrNotYourTurn):
		return "NOT_YOUR_TURN"
	case errors.Is(err, ErrGameOver):
		return "GAME_ALREADY_OVER"
	case errors.Is(err, ErrSlotOccupied):
		return "SLOT_OCCUPIED"
	case errors.Is(err, ErrNoSession):
		return "NO_SESSION"
	case errors.Is(err, ErrNotInGame):
		return "NOT_IN_GAME"
	case errors.Is(err, ErrQueueBusy):
		return "ALREADY_QUEUED"
	case errors.Is(err, ErrArenaFull):
		return "ARENA_FULL"
	default:
		return "INTERNAL"
	}
}
