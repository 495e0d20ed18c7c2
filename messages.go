package main

// ClientMessage is the single inbound frame shape. Type selects the
// operation; the remaining fields are populated as each operation needs.
type ClientMessage struct {
	Type        string    `json:"type"`
	RoomCode    string    `json:"roomCode,omitempty"`
	Name        string    `json:"name,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	PlayerID    string    `json:"playerId,omitempty"`
	Wager       int       `json:"wager,omitempty"`
	Answer      string    `json:"answer,omitempty"`
	Correct     *bool     `json:"correct,omitempty"` // mark-final-correct
	Players     []*Player `json:"players,omitempty"` // update-scores
}

// SimpleMessage covers notifications that carry no payload beyond
// optional user-facing text ("buzzer-reset", "room-full", "kicked-from-room", ...).
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// PlayersUpdateMessage is always a full roster replacement, never a patch.
type PlayersUpdateMessage struct {
	Type    string    `json:"type"` // "players-update"
	Players []*Player `json:"players"`
}

type PlayerBuzzedMessage struct {
	Type     string `json:"type"` // "player-buzzed"
	PlayerID string `json:"playerId"`
}

type LockStatusMessage struct {
	Type     string `json:"type"` // "lock-status-update"
	IsLocked bool   `json:"isLocked"`
}

// ActivePlayerMessage carries an empty PlayerID when nobody is on the clock.
type ActivePlayerMessage struct {
	Type     string `json:"type"` // "active-player-update"
	PlayerID string `json:"playerId"`
}

type RejoinSuccessMessage struct {
	Type   string  `json:"type"` // "rejoin-success"
	Player *Player `json:"player"`
}

type WagerSubmittedMessage struct {
	Type     string `json:"type"` // "wager-submitted"
	PlayerID string `json:"playerId"`
	Wager    int    `json:"wager"`
}

type FinalAnswerSubmittedMessage struct {
	Type     string `json:"type"` // "final-answer-submitted"
	PlayerID string `json:"playerId"`
	Answer   string `json:"answer"`
}

// StartWageringMessage is sent to each player individually so a player only
// learns their own ceiling.
type StartWageringMessage struct {
	Type        string `json:"type"` // "start-final-wagering"
	PlayerScore int    `json:"playerScore"`
	MaxWager    int    `json:"maxWager"`
}

type FinalPhaseMessage struct {
	Type  string `json:"type"` // "final-phase-update"
	Phase string `json:"phase"`
}

type RevealUpdateMessage struct {
	Type          string `json:"type"` // "reveal-update"
	RevealedCount int    `json:"revealedCount"`
}

type RoomCodeMessage struct {
	Type     string `json:"type"` // "room-code-update"
	RoomCode string `json:"roomCode"`
}

// Envelope pairs an outbound message with its destination. An empty To
// means broadcast to every connection in the room; otherwise To names the
// single connection the message is for.
type Envelope struct {
	To  string
	Msg any
}

func broadcast(msg any) Envelope {
	return Envelope{Msg: msg}
}

func sendTo(connID string, msg any) Envelope {
	return Envelope{To: connID, Msg: msg}
}
