package main

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const roomCapacity = 6

var (
	errRoomNotFound = errors.New("room not found")
	errRoomFull     = errors.New("room is at maximum capacity")
	errRejoinFailed = errors.New("no matching player to rejoin")
)

// Player is one roster entry. ID is the stable application-level identity,
// minted at first join and kept across reconnects; connID is the transport
// session currently bound to the player and changes on every reconnect.
type Player struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Score int    `json:"score"`

	connID string
}

// Room is the per-session state machine. It performs no I/O: every command
// returns the envelopes the transport should deliver, so the whole machine
// is testable without a websocket in sight. The owning hub serializes all
// calls, so none of the fields need locking.
type Room struct {
	code           string
	created        bool
	players        []*Player
	buzzedPlayer   string          // stable player ID, "" while idle
	lockedOut      map[string]bool // stable player IDs barred from buzzing
	gameStarted    bool
	activePlayerID string
	final          *finalRound

	createdAt time.Time
}

func newRoom(code string) *Room {
	return &Room{
		code:      code,
		lockedOut: make(map[string]bool),
		createdAt: time.Now(),
	}
}

// Create (re)initializes the room. Idempotent: a second create-room for the
// same code wipes any leftover state rather than failing.
func (r *Room) Create() {
	r.created = true
	r.players = nil
	r.buzzedPlayer = ""
	r.lockedOut = make(map[string]bool)
	r.gameStarted = false
	r.activePlayerID = ""
	r.final = nil
}

func (r *Room) playerByID(id string) *Player {
	for _, p := range r.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) playerByIdentity(name, icon string) *Player {
	for _, p := range r.players {
		if p.Name == name && p.Icon == icon {
			return p
		}
	}
	return nil
}

func (r *Room) playerByConn(connID string) *Player {
	for _, p := range r.players {
		if p.connID == connID {
			return p
		}
	}
	return nil
}

func (r *Room) rosterUpdate() Envelope {
	return broadcast(PlayersUpdateMessage{
		Type:    "players-update",
		Players: r.players,
	})
}

// Join adds a player, or rebinds an existing identity to a new connection.
// The (name, icon) pair is only consulted here and in CheckRejoin; once an
// ID is minted, everything else keys on it.
func (r *Room) Join(name, icon, connID string) ([]Envelope, error) {
	r.created = true

	if existing := r.playerByIdentity(name, icon); existing != nil {
		existing.connID = connID

		events := []Envelope{r.rosterUpdate()}
		if r.activePlayerID != "" {
			events = append(events, sendTo(connID, ActivePlayerMessage{
				Type:     "active-player-update",
				PlayerID: r.activePlayerID,
			}))
		}
		return events, nil
	}

	if len(r.players) >= roomCapacity {
		return nil, errRoomFull
	}

	r.players = append(r.players, &Player{
		ID:     uuid.New().String(),
		Name:   name,
		Icon:   icon,
		connID: connID,
	})

	return []Envelope{r.rosterUpdate()}, nil
}

// CheckRejoin looks up an identity without ever creating one. Used by
// reloaded phone clients to probe whether their seat survived.
func (r *Room) CheckRejoin(name, icon, connID string) ([]Envelope, error) {
	if !r.created {
		return nil, errRoomNotFound
	}

	existing := r.playerByIdentity(name, icon)
	if existing == nil {
		return nil, errRejoinFailed
	}
	existing.connID = connID

	events := []Envelope{
		sendTo(connID, RejoinSuccessMessage{
			Type:   "rejoin-success",
			Player: existing,
		}),
		r.rosterUpdate(),
	}
	if r.activePlayerID != "" {
		events = append(events, sendTo(connID, ActivePlayerMessage{
			Type:     "active-player-update",
			PlayerID: r.activePlayerID,
		}))
	}
	return events, nil
}

// Kick removes a player from the roster. Only allowed in the waiting room;
// once the game has started the roster is frozen apart from reconnects.
func (r *Room) Kick(playerID string) []Envelope {
	if r.gameStarted {
		return nil
	}

	target := r.playerByID(playerID)
	if target == nil {
		return nil
	}

	dst := r.players[:0]
	for _, p := range r.players {
		if p.ID == playerID {
			continue
		}
		dst = append(dst, p)
	}
	r.players = dst
	delete(r.lockedOut, playerID)

	var events []Envelope
	if r.activePlayerID == playerID {
		r.activePlayerID = ""
		events = append(events, broadcast(ActivePlayerMessage{
			Type: "active-player-update",
		}))
	}

	events = append(events,
		sendTo(target.connID, SimpleMessage{
			Type:    "kicked-from-room",
			Message: "You have been removed by the host.",
		}),
		r.rosterUpdate(),
	)
	return events
}

func (r *Room) SetActivePlayer(playerID string) []Envelope {
	r.activePlayerID = playerID
	return []Envelope{broadcast(ActivePlayerMessage{
		Type:     "active-player-update",
		PlayerID: playerID,
	})}
}

func (r *Room) StartGame() []Envelope {
	r.gameStarted = true
	return []Envelope{broadcast(SimpleMessage{Type: "game-started"})}
}

// Buzz records the first buzz and ignores everything after it. Locked-out
// players and connections without a seat are ignored outright. The hub
// serializes commands, so the check-and-set is atomic and first-writer-wins.
func (r *Room) Buzz(connID string) []Envelope {
	p := r.playerByConn(connID)
	if p == nil {
		return nil
	}
	if r.lockedOut[p.ID] {
		return nil
	}
	if r.buzzedPlayer != "" {
		return nil
	}

	r.buzzedPlayer = p.ID
	return []Envelope{broadcast(PlayerBuzzedMessage{
		Type:     "player-buzzed",
		PlayerID: p.ID,
	})}
}

// LockPlayer bars a player from buzzing until the next full reset, and
// tells that player's connection so the client can grey out its button.
func (r *Room) LockPlayer(playerID string) []Envelope {
	r.lockedOut[playerID] = true

	p := r.playerByID(playerID)
	if p == nil {
		return nil
	}
	return []Envelope{sendTo(p.connID, SimpleMessage{Type: "player-locked"})}
}

// ClearBuzzOnly releases the buzzer after a wrong answer. The lockout set
// survives, so the player who just missed cannot immediately re-buzz.
func (r *Room) ClearBuzzOnly() []Envelope {
	r.buzzedPlayer = ""
	return []Envelope{broadcast(SimpleMessage{Type: "buzzer-reset"})}
}

// FullReset clears the buzzer and every lockout, typically between questions.
func (r *Room) FullReset() []Envelope {
	r.buzzedPlayer = ""
	r.lockedOut = make(map[string]bool)

	return []Envelope{
		broadcast(SimpleMessage{Type: "buzzer-reset"}),
		broadcast(SimpleMessage{Type: "full-reset-complete"}),
		broadcast(LockStatusMessage{Type: "lock-status-update", IsLocked: false}),
	}
}

// UpdateScores wholesale-replaces the roster with the host's copy. The host
// owns all scoring rules; the server only rebinds its connection IDs onto
// the incoming list, since those never cross the wire.
func (r *Room) UpdateScores(players []*Player) []Envelope {
	for _, p := range players {
		if existing := r.playerByID(p.ID); existing != nil {
			p.connID = existing.connID
		}
	}
	r.players = players

	return []Envelope{r.rosterUpdate()}
}
