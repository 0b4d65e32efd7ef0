package arena

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kapu/chess-arena/pkg/wire"
)

type fakeSender struct {
	mu     sync.Mutex
	frames map[string][]wire.Envelope
}

func newFakeSender() *fakeSender {
	return &fakeSender{frames: make(map[string][]wire.Envelope)}
}

func (f *fakeSender) Send(connID string, env wire.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[connID] = append(f.frames[connID], env)
	return nil
}

func (f *fakeSender) all(connID string) []wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Envelope, len(f.frames[connID]))
	copy(out, f.frames[connID])
	return out
}

func (f *fakeSender) byType(connID, msgType string) []wire.Envelope {
	var out []wire.Envelope
	for _, env := range f.all(connID) {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func decodePayload(t *testing.T, env wire.Envelope, out any) {
	t.Helper()
	if err := json.Unmarshal(env.Payload, out); err != nil {
		t.Fatalf("decode %s payload: %v", env.Type, err)
	}
}

// newTestManager uses an hour-long tick so clocks never interfere unless a
// test opts in.
func newTestManager(t *testing.T) (*Manager, *fakeSender) {
	t.Helper()
	sender := newFakeSender()
	m := NewManager(sender, 600, time.Hour, 0)
	t.Cleanup(m.Close)
	return m, sender
}

func pairTwo(t *testing.T, m *Manager, sender *fakeSender) (gameID string) {
	t.Helper()
	m.Register("c1")
	m.Register("c2")
	if err := m.HandleJoin("c1", "u1"); err != nil {
		t.Fatalf("join c1: %v", err)
	}
	if got := sender.byType("c1", wire.TypeInitGame); len(got) != 0 {
		t.Fatalf("c1 assigned before an opponent arrived")
	}
	if err := m.HandleJoin("c2", "u2"); err != nil {
		t.Fatalf("join c2: %v", err)
	}

	var white, black wire.ColorAssignment
	w := sender.byType("c1", wire.TypeInitGame)
	b := sender.byType("c2", wire.TypeInitGame)
	if len(w) != 1 || len(b) != 1 {
		t.Fatalf("expected one assignment each, got %d/%d", len(w), len(b))
	}
	decodePayload(t, w[0], &white)
	decodePayload(t, b[0], &black)
	if white.Color != "white" || black.Color != "black" {
		t.Fatalf("colors misassigned: %q/%q", white.Color, black.Color)
	}
	if white.GameID == "" || white.GameID != black.GameID {
		t.Fatalf("game ids diverge: %q vs %q", white.GameID, black.GameID)
	}
	return white.GameID
}

func TestPairingIsFIFO(t *testing.T) {
	m, sender := newTestManager(t)
	first := pairTwo(t, m, sender)

	m.Register("c3")
	m.Register("c4")
	_ = m.HandleJoin("c3", "u3")
	_ = m.HandleJoin("c4", "u4")

	var third wire.ColorAssignment
	got := sender.byType("c3", wire.TypeInitGame)
	if len(got) != 1 {
		t.Fatalf("expected c3 to be paired, got %d assignments", len(got))
	}
	decodePayload(t, got[0], &third)
	if third.Color != "white" || third.GameID == first {
		t.Fatalf("expected new game with c3 as white: %+v", third)
	}
}

func TestMoveBroadcastScenario(t *testing.T) {
	m, sender := newTestManager(t)
	pairTwo(t, m, sender)

	// White's e2e4 reaches both seats, including the mover.
	if err := m.HandleMove("c1", "e2", "e4"); err != nil {
		t.Fatalf("white move: %v", err)
	}
	for _, conn := range []string{"c1", "c2"} {
		got := sender.byType(conn, wire.TypeMove)
		if len(got) != 1 {
			t.Fatalf("%s: expected 1 MOVE, got %d", conn, len(got))
		}
		var bc wire.MoveBroadcast
		decodePayload(t, got[0], &bc)
		if bc.Move.From != "e2" || bc.Move.To != "e4" || bc.Move.Player != "w" || bc.Move.Seq != 0 {
			t.Fatalf("%s: unexpected broadcast %+v", conn, bc.Move)
		}
	}

	// Black replaying e2e4 is illegal: ERROR to black only, no broadcast.
	if err := m.HandleMove("c2", "e2", "e4"); err == nil {
		t.Fatalf("expected rejection of black's e2e4")
	}
	errs := sender.byType("c2", wire.TypeError)
	if len(errs) != 1 {
		t.Fatalf("expected 1 ERROR to black, got %d", len(errs))
	}
	var notice wire.ErrorNotice
	decodePayload(t, errs[0], &notice)
	if notice.Code != "INVALID_MOVE" {
		t.Fatalf("unexpected error code %q", notice.Code)
	}
	if got := sender.byType("c1", wire.TypeError); len(got) != 0 {
		t.Fatalf("rejection leaked to white")
	}
	if got := sender.byType("c1", wire.TypeMove); len(got) != 1 {
		t.Fatalf("rejected move was broadcast")
	}

	// A legal black reply is accepted and broadcast.
	if err := m.HandleMove("c2", "e7", "e5"); err != nil {
		t.Fatalf("black reply: %v", err)
	}
	if got := sender.byType("c1", wire.TypeMove); len(got) != 2 {
		t.Fatalf("expected black's reply at white, got %d MOVEs", len(got))
	}
}

func TestOffTurnMoveRejected(t *testing.T) {
	m, sender := newTestManager(t)
	pairTwo(t, m, sender)

	if err := m.HandleMove("c2", "e7", "e5"); err == nil {
		t.Fatalf("expected off-turn rejection")
	}
	var notice wire.ErrorNotice
	errs := sender.byType("c2", wire.TypeError)
	if len(errs) != 1 {
		t.Fatalf("expected 1 ERROR, got %d", len(errs))
	}
	decodePayload(t, errs[0], &notice)
	if notice.Code != "NOT_YOUR_TURN" {
		t.Fatalf("unexpected code %q", notice.Code)
	}
	if got := sender.byType("c1", wire.TypeMove); len(got) != 0 {
		t.Fatalf("off-turn move was broadcast")
	}
}

func TestSeedMovesForObserver(t *testing.T) {
	m, sender := newTestManager(t)
	gameID := pairTwo(t, m, sender)

	_ = m.HandleMove("c1", "e2", "e4")
	_ = m.HandleMove("c2", "e7", "e5")

	m.Register("c3")
	if err := m.HandleSeedMoves("c3", gameID); err != nil {
		t.Fatalf("seed for observer: %v", err)
	}
	got := sender.byType("c3", wire.TypeSeedMoves)
	if len(got) != 1 {
		t.Fatalf("expected 1 SEED_MOVES, got %d", len(got))
	}
	var seed wire.SeedMovesResponse
	decodePayload(t, got[0], &seed)
	if len(seed.Moves) != 2 || seed.Moves[0].From != "e2" || seed.Moves[1].From != "e7" {
		t.Fatalf("unexpected seed: %+v", seed.Moves)
	}
	for i, mv := range seed.Moves {
		if mv.Seq != i {
			t.Fatalf("seed out of order at %d: %+v", i, mv)
		}
	}
}

func TestSeedMovesUnknownGame(t *testing.T) {
	m, sender := newTestManager(t)
	m.Register("c1")
	if err := m.HandleSeedMoves("c1", "nope"); err == nil {
		t.Fatalf("expected error for unknown game")
	}
	var notice wire.ErrorNotice
	errs := sender.byType("c1", wire.TypeError)
	if len(errs) != 1 {
		t.Fatalf("expected 1 ERROR, got %d", len(errs))
	}
	decodePayload(t, errs[0], &notice)
	if notice.Code != "NO_SESSION" {
		t.Fatalf("unexpected code %q", notice.Code)
	}
}

func TestOpponentResolution(t *testing.T) {
	m, sender := newTestManager(t)
	gameID := pairTwo(t, m, sender)

	if err := m.HandleOpponent("c1", gameID, "u1"); err != nil {
		t.Fatalf("opponent lookup: %v", err)
	}
	got := sender.byType("c1", wire.TypeOpponentID)
	if len(got) != 1 {
		t.Fatalf("expected 1 OPPONENT_ID, got %d", len(got))
	}
	var resp wire.OpponentResponse
	decodePayload(t, got[0], &resp)
	if resp.OpponentID != "u2" {
		t.Fatalf("expected u2, got %q", resp.OpponentID)
	}
}

func TestDisconnectLeavesQueue(t *testing.T) {
	m, sender := newTestManager(t)
	m.Register("c1")
	_ = m.HandleJoin("c1", "u1")
	m.Disconnect("c1")

	m.Register("c2")
	m.Register("c3")
	_ = m.HandleJoin("c2", "u2")
	_ = m.HandleJoin("c3", "u3")

	if got := sender.byType("c1", wire.TypeInitGame); len(got) != 0 {
		t.Fatalf("dropped connection was paired")
	}
	var assign wire.ColorAssignment
	got := sender.byType("c2", wire.TypeInitGame)
	if len(got) != 1 {
		t.Fatalf("c2 not paired after c1 left")
	}
	decodePayload(t, got[0], &assign)
	if assign.Color != "white" {
		t.Fatalf("expected c2 as white, got %q", assign.Color)
	}
}

func TestRejoinRebindsSeat(t *testing.T) {
	m, sender := newTestManager(t)
	gameID := pairTwo(t, m, sender)

	m.Disconnect("c2")
	m.Register("c2b")
	if err := m.HandleJoin("c2b", "u2"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	var assign wire.ColorAssignment
	got := sender.byType("c2b", wire.TypeInitGame)
	if len(got) != 1 {
		t.Fatalf("expected assignment on rejoin, got %d", len(got))
	}
	decodePayload(t, got[0], &assign)
	if assign.Color != "black" || assign.GameID != gameID {
		t.Fatalf("rejoin assignment wrong: %+v", assign)
	}

	// The session carries on with the new connection.
	if err := m.HandleMove("c1", "e2", "e4"); err != nil {
		t.Fatalf("white move: %v", err)
	}
	if err := m.HandleMove("c2b", "e7", "e5"); err != nil {
		t.Fatalf("rebound black move: %v", err)
	}
	if got := sender.byType("c2b", wire.TypeMove); len(got) != 2 {
		t.Fatalf("rebound conn missed broadcasts: %d", len(got))
	}
}

// foolsMate plays the quickest checkmate through the manager: black wins.
func foolsMate(t *testing.T, m *Manager, whiteConn, blackConn string) {
	t.Helper()
	for _, mv := range []struct {
		conn, from, to string
	}{
		{whiteConn, "f2", "f3"},
		{blackConn, "e7", "e5"},
		{whiteConn, "g2", "g4"},
		{blackConn, "d8", "h4"},
	} {
		if err := m.HandleMove(mv.conn, mv.from, mv.to); err != nil {
			t.Fatalf("move %s%s by %s: %v", mv.from, mv.to, mv.conn, err)
		}
	}
}

func TestRematchAfterFinish(t *testing.T) {
	m, sender := newTestManager(t)
	first := pairTwo(t, m, sender)
	foolsMate(t, m, "c1", "c2")

	if got := sender.byType("c1", wire.TypeGameOver); len(got) != 1 {
		t.Fatalf("expected GAME_OVER at white, got %d", len(got))
	}

	// Both players queue again on the same connections.
	if err := m.HandleJoin("c1", "u1"); err != nil {
		t.Fatalf("rematch join c1: %v", err)
	}
	if err := m.HandleJoin("c2", "u2"); err != nil {
		t.Fatalf("rematch join c2: %v", err)
	}

	var again wire.ColorAssignment
	got := sender.byType("c2", wire.TypeInitGame)
	if len(got) != 2 {
		t.Fatalf("expected a second assignment at c2, got %d", len(got))
	}
	decodePayload(t, got[1], &again)
	if again.GameID == first || again.GameID == "" {
		t.Fatalf("rematch reused game id %q", again.GameID)
	}
	if again.Color != "black" {
		t.Fatalf("expected c2 as black again, got %q", again.Color)
	}
	if err := m.HandleMove("c1", "e2", "e4"); err != nil {
		t.Fatalf("first move of rematch: %v", err)
	}

	// Reconnection during the rematch binds to the new game, not the old
	// finished one still resident for seeding.
	m.Disconnect("c2")
	m.Register("c2b")
	if err := m.HandleJoin("c2b", "u2"); err != nil {
		t.Fatalf("rebind into rematch: %v", err)
	}
	var rebound wire.ColorAssignment
	bound := sender.byType("c2b", wire.TypeInitGame)
	if len(bound) != 1 {
		t.Fatalf("expected rebind assignment, got %d", len(bound))
	}
	decodePayload(t, bound[0], &rebound)
	if rebound.GameID != again.GameID {
		t.Fatalf("rebound to %q, want rematch %q", rebound.GameID, again.GameID)
	}
}

func TestFinishedGameFreesCapacity(t *testing.T) {
	sender := newFakeSender()
	m := NewManager(sender, 600, time.Hour, 1)
	t.Cleanup(m.Close)

	m.Register("c1")
	m.Register("c2")
	_ = m.HandleJoin("c1", "u1")
	_ = m.HandleJoin("c2", "u2")
	gameID := sender.byType("c1", wire.TypeInitGame)
	if len(gameID) != 1 {
		t.Fatalf("pairing failed")
	}

	m.Register("c3")
	if err := m.HandleJoin("c3", "u3"); err == nil {
		t.Fatalf("expected ARENA_FULL while the only slot is playing")
	}
	var notice wire.ErrorNotice
	errs := sender.byType("c3", wire.TypeError)
	if len(errs) != 1 {
		t.Fatalf("expected 1 ERROR at c3, got %d", len(errs))
	}
	decodePayload(t, errs[0], &notice)
	if notice.Code != "ARENA_FULL" {
		t.Fatalf("unexpected code %q", notice.Code)
	}

	// Ending the game must free the slot even with no archive attached.
	foolsMate(t, m, "c1", "c2")
	m.Register("c4")
	if err := m.HandleJoin("c3", "u3"); err != nil {
		t.Fatalf("join after game over: %v", err)
	}
	if err := m.HandleJoin("c4", "u4"); err != nil {
		t.Fatalf("join c4: %v", err)
	}
	if got := sender.byType("c3", wire.TypeInitGame); len(got) != 1 {
		t.Fatalf("c3 never paired after capacity freed: %d", len(got))
	}

	// The finished game stays seedable from memory.
	var assign wire.ColorAssignment
	decodePayload(t, gameID[0], &assign)
	if err := m.HandleSeedMoves("c3", assign.GameID); err != nil {
		t.Fatalf("seed of finished game: %v", err)
	}
}

func TestLateMoveAfterGameOver(t *testing.T) {
	m, sender := newTestManager(t)
	pairTwo(t, m, sender)
	foolsMate(t, m, "c1", "c2")

	if err := m.HandleMove("c1", "e2", "e4"); err == nil {
		t.Fatalf("expected rejection of a move into a finished game")
	}
	var notice wire.ErrorNotice
	errs := sender.byType("c1", wire.TypeError)
	if len(errs) != 1 {
		t.Fatalf("expected 1 ERROR, got %d", len(errs))
	}
	decodePayload(t, errs[0], &notice)
	if notice.Code != "GAME_ALREADY_OVER" {
		t.Fatalf("unexpected code %q", notice.Code)
	}
}

func TestPairingRollbackOnOccupiedSeat(t *testing.T) {
	m, sender := newTestManager(t)

	m.Register("c1")
	if err := m.HandleJoin("c1", "u1"); err != nil {
		t.Fatalf("join c1: %v", err)
	}
	// c2 arrives already bound elsewhere, so pairing must fail cleanly.
	m.Register("c2")
	if err := m.registry.AssociateSession("c2", "elsewhere"); err != nil {
		t.Fatalf("bind c2: %v", err)
	}
	if err := m.HandleJoin("c2", "u2"); err == nil {
		t.Fatalf("expected pairing failure for occupied c2")
	}

	// c1 keeps no stale binding and pairs with the next arrival.
	if entry, ok := m.registry.Get("c1"); !ok || entry.SessionID != "" {
		t.Fatalf("c1 left half-associated: %+v", entry)
	}
	m.Register("c3")
	if err := m.HandleJoin("c3", "u3"); err != nil {
		t.Fatalf("join c3: %v", err)
	}
	if got := sender.byType("c1", wire.TypeInitGame); len(got) != 1 {
		t.Fatalf("c1 never recovered from the failed pairing: %d", len(got))
	}
	if got := sender.byType("c3", wire.TypeInitGame); len(got) != 1 {
		t.Fatalf("c3 not paired: %d", len(got))
	}
}

func TestTickCarryAccrual(t *testing.T) {
	var c tickCarry
	// Ten 100ms ticks release exactly one second, not ten.
	total := 0
	for i := 0; i < 10; i++ {
		total += c.advance(100)
	}
	if total != 1 {
		t.Fatalf("100ms cadence released %d seconds over 1s", total)
	}
	// A 1500ms cadence alternates 1 and 2, never losing the half second.
	c = tickCarry{}
	if got := c.advance(1500); got != 1 {
		t.Fatalf("first 1500ms tick released %d", got)
	}
	if got := c.advance(1500); got != 2 {
		t.Fatalf("second 1500ms tick released %d", got)
	}
	// Whole-second cadence passes straight through.
	c = tickCarry{}
	if got := c.advance(1000); got != 1 {
		t.Fatalf("1000ms tick released %d", got)
	}
}

func TestFlagFallBroadcast(t *testing.T) {
	sender := newFakeSender()
	m := NewManager(sender, 1, 50*time.Millisecond, 0)
	t.Cleanup(m.Close)

	m.Register("c1")
	m.Register("c2")
	_ = m.HandleJoin("c1", "u1")
	_ = m.HandleJoin("c2", "u2")

	var assign wire.ColorAssignment
	got := sender.byType("c1", wire.TypeInitGame)
	if len(got) != 1 {
		t.Fatalf("pairing failed")
	}
	decodePayload(t, got[0], &assign)
	s := m.Session(assign.GameID)
	if s == nil {
		t.Fatalf("session missing")
	}

	start := time.Now()
	deadline := start.Add(5 * time.Second)
	for s.Status() != StatusFinished {
		if time.Now().After(deadline) {
			t.Fatalf("white flag never fell")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s.Winner() != WinnerBlack {
		t.Fatalf("expected black win on time, got %s", s.Winner())
	}
	// A sub-second cadence must still burn wall time, not a second per tick.
	if lived := time.Since(start); lived < 900*time.Millisecond {
		t.Fatalf("1s clock expired after only %v", lived)
	}

	// Let any stray ticks land, then check the tail of each stream.
	time.Sleep(50 * time.Millisecond)
	for _, conn := range []string{"c1", "c2"} {
		overs := sender.byType(conn, wire.TypeGameOver)
		if len(overs) != 1 {
			t.Fatalf("%s: expected exactly one GAME_OVER, got %d", conn, len(overs))
		}
		var over wire.GameOver
		decodePayload(t, overs[0], &over)
		if over.Winner != "black" {
			t.Fatalf("%s: winner %q", conn, over.Winner)
		}
		frames := sender.all(conn)
		seenOver := false
		for _, env := range frames {
			if env.Type == wire.TypeGameOver {
				seenOver = true
				continue
			}
			if seenOver && env.Type == wire.TypeTimerUpdate {
				t.Fatalf("%s: TIMER_UPDATE after GAME_OVER", conn)
			}
		}
	}
}
