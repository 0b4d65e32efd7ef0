package wire

// Inbound payloads.

type JoinRequest struct {
	PlayerID string `json:"playerId"`
}

type MoveRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type SeedMovesRequest struct {
	GameID string `json:"gameId"`
}

type OpponentRequest struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
}

// Outbound payloads.

// ColorAssignment answers INIT_GAME once a pairing is formed. GameID lets the
// client address SEED_MOVES / OPPONENT_ID without an out-of-band lookup.
type ColorAssignment struct {
	Color  string `json:"color"`
	GameID string `json:"gameId"`
}

// MoveEntry is one half-turn as clients consume it. Player is "w" or "b".
type MoveEntry struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Player string `json:"player"`
	Seq    int    `json:"seq"`
}

// MoveBroadcast relays an accepted move to both participants. Clients read
// payload.move, so the entry is nested rather than flattened.
type MoveBroadcast struct {
	Move MoveEntry `json:"move"`
}

type SeedMovesResponse struct {
	Moves []MoveEntry `json:"moves"`
}

type TimerUpdate struct {
	WhiteTimer int `json:"whiteTimer"`
	BlackTimer int `json:"blackTimer"`
}

type GameOver struct {
	Winner string `json:"winner"`
}

// OpponentResponse carries the opponent's user id; name and picture are
// filled in only when the server has a profile service configured.
type OpponentResponse struct {
	OpponentID     string `json:"opponentId"`
	Name           string `json:"name,omitempty"`
	DisplayPicture string `json:"displayPicture,omitempty"`
}

// ErrorNotice reports a per-request rejection to the sender only.
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
