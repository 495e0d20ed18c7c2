// Buzzbox trivia buzzer
//
// The host builds a board of categories and point values on one screen and
// opens a room; players join from their phones (QR share per room) and race
// to buzz in. The server arbitrates everything multiplayer about it:
//
// - Rooms keyed by a 6-char code, one hub goroutine per room
// - Join / reconnect by (name, icon) identity, stable player IDs underneath
// - Disconnects keep the seat so a phone reload can rejoin
// - First-buzz lock with a per-player lockout set for wrong answers
// - Host-owned scoring pushed as full roster replacements
// - Final round: per-player wagers, free-text answers, host review,
//   and a timed worst-to-best results reveal
// - Idle rooms reaped after a configurable timeout

package main

import (
	"crypto/rand"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	roomCodeLength = 6
	roomCodeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// Pause between announcing the final round and showing its category.
	categoryRevealDelay = 3500 * time.Millisecond
)

type Client struct {
	conn   *websocket.Conn
	send   chan any
	connID string
}

type command struct {
	client *Client
	msg    ClientMessage
}

type tickKind int

const (
	tickCategory tickKind = iota
	tickReveal
	tickPhaseTimeout
)

type tick struct {
	kind  tickKind
	phase finalPhase // which phase armed a tickPhaseTimeout
}

// Hub owns one Room and serializes every command against it, so the Room
// itself never needs a lock. Timers re-enter through the ticks channel to
// keep the single-writer discipline intact.
type Hub struct {
	room    *Room
	rm      *roomManager
	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	commands chan command
	ticks    chan tick
	shutdown chan struct{}

	lastActive atomic.Int64 // unix nanos, read by the reaper
}

func newHub(rm *roomManager, code string) *Hub {
	h := &Hub{
		room:     newRoom(code),
		rm:       rm,
		clients:  make(map[*Client]bool),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		commands: make(chan command),
		ticks:    make(chan tick, 8),
		shutdown: make(chan struct{}),
	}
	h.lastActive.Store(time.Now().UnixNano())
	return h
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.lastActive.Store(time.Now().UnixNano())
			h.clients[c] = true

			// A late joiner or reconnecting host sees the roster immediately.
			if h.room.created {
				h.sendToClient(c, PlayersUpdateMessage{
					Type:    "players-update",
					Players: h.room.players,
				})
			}

		case c := <-h.unreg:
			h.lastActive.Store(time.Now().UnixNano())

			// The seat stays; only the connection goes. A phone reload
			// rejoins via check-rejoin and picks its score back up.
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case cmd := <-h.commands:
			h.lastActive.Store(time.Now().UnixNano())
			h.handleCommand(cfg, cmd)

		case t := <-h.ticks:
			h.handleTick(cfg, t)

		case <-h.shutdown:
			for c := range h.clients {
				close(c.send)
				_ = c.conn.Close()
				delete(h.clients, c)
			}
			return
		}
	}
}

func (h *Hub) handleCommand(cfg *Config, cmd command) {
	c := cmd.client
	msg := cmd.msg
	room := h.room

	switch msg.Type {
	case "create-room":
		room.Create()
		logf(cfg, "GAMES: Room %s created", room.code)
		return

	case "join-game":
		events, err := room.Join(msg.Name, msg.Icon, c.connID)
		if errors.Is(err, errRoomFull) {
			h.sendToClient(c, SimpleMessage{
				Type:    "room-full",
				Message: "This room already has the maximum number of players.",
			})
			return
		}
		h.deliver(events)
		logf(cfg, "GAMES: %q joined room %s (%d players)", msg.Name, room.code, len(room.players))
		return

	case "check-rejoin":
		events, err := room.CheckRejoin(msg.Name, msg.Icon, c.connID)
		switch {
		case errors.Is(err, errRoomNotFound):
			h.sendToClient(c, SimpleMessage{Type: "room-not-found"})
		case errors.Is(err, errRejoinFailed):
			h.sendToClient(c, SimpleMessage{Type: "rejoin-failed"})
		default:
			h.deliver(events)
			logf(cfg, "GAMES: %q reconnected to room %s", msg.Name, room.code)
		}
		return
	}

	// Everything below references an existing room; an uninitialized one
	// makes the command a no-op, mirroring an unknown room code.
	if !room.created {
		return
	}

	switch msg.Type {
	case "kick-player":
		h.deliver(room.Kick(msg.PlayerID))

	case "set-active-player":
		h.deliver(room.SetActivePlayer(msg.PlayerID))

	case "buzz":
		h.deliver(room.Buzz(c.connID))

	case "lock-player":
		h.deliver(room.LockPlayer(msg.PlayerID))

	case "clear-buzz-only":
		h.deliver(room.ClearBuzzOnly())

	case "full-reset":
		h.deliver(room.FullReset())

	case "update-scores":
		h.deliver(room.UpdateScores(msg.Players))

	case "start-game":
		h.deliver(room.StartGame())
		logf(cfg, "GAMES: Game started in room %s", room.code)

	case "start-final-round":
		events := room.StartFinalRound()
		if events == nil {
			return
		}
		h.deliver(events)
		h.scheduleTick(tick{kind: tickCategory}, categoryRevealDelay)

	case "start-final-wagering":
		events := room.StartFinalWagering()
		if events == nil {
			return
		}
		h.deliver(events)
		h.armPhaseTimeout(cfg, phaseWagering)
		logf(cfg, "GAMES: Final wagering opened in room %s", room.code)

	case "submit-wager":
		h.deliver(room.SubmitWager(msg.PlayerID, msg.Wager))

	case "start-final-question":
		events := room.StartFinalQuestion()
		if events == nil {
			return
		}
		h.deliver(events)
		h.armPhaseTimeout(cfg, phaseQuestion)
		logf(cfg, "GAMES: Final question revealed in room %s", room.code)

	case "submit-final-answer":
		h.deliver(room.SubmitFinalAnswer(msg.PlayerID, msg.Answer))

	case "review-final-answers":
		h.deliver(room.ReviewFinalAnswers())

	case "mark-final-correct":
		correct := msg.Correct != nil && *msg.Correct
		h.deliver(room.MarkFinalCorrect(msg.PlayerID, correct))

	case "calculate-final-results":
		events := room.CalculateFinalResults()
		if events == nil {
			return
		}
		h.deliver(events)
		h.scheduleTick(tick{kind: tickReveal}, cfg.revealInterval)
		logf(cfg, "GAMES: Final results revealing in room %s", room.code)

	case "play-again":
		oldCode := room.code
		newCode := h.rm.rebind(h)
		h.deliver(room.PlayAgain(newCode))
		logf(cfg, "GAMES: Room %s playing again as %s", oldCode, newCode)

	default:
		// ignore unknown types
	}
}

func (h *Hub) handleTick(cfg *Config, t tick) {
	switch t.kind {
	case tickCategory:
		h.deliver(h.room.RevealFinalCategory())

	case tickReveal:
		events, done := h.room.RevealNext()
		h.deliver(events)
		if !done {
			h.scheduleTick(tick{kind: tickReveal}, cfg.revealInterval)
		}

	case tickPhaseTimeout:
		h.deliver(h.room.ForceFinalReady(t.phase))
	}
}

func (h *Hub) armPhaseTimeout(cfg *Config, phase finalPhase) {
	if cfg.phaseTimeout <= 0 {
		return
	}
	h.scheduleTick(tick{kind: tickPhaseTimeout, phase: phase}, cfg.phaseTimeout)
}

// scheduleTick re-enters the hub loop after d. The send is non-blocking so
// a timer firing against a reaped hub cannot strand its goroutine.
func (h *Hub) scheduleTick(t tick, d time.Duration) {
	time.AfterFunc(d, func() {
		select {
		case h.ticks <- t:
		default:
		}
	})
}

func (h *Hub) deliver(events []Envelope) {
	for _, ev := range events {
		if ev.To == "" {
			for c := range h.clients {
				h.sendToClient(c, ev.Msg)
			}
			continue
		}
		for c := range h.clients {
			if c.connID == ev.To {
				h.sendToClient(c, ev.Msg)
			}
		}
	}
}

func (h *Hub) sendToClient(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

// roomManager holds a set of hubs keyed by room code, so each $path/$roomcode
// is its own isolated session. Constructed once per game registration and
// passed by reference; the map is the only state shared across rooms.
type roomManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
}

func newRoomManager(idleTimeout time.Duration) *roomManager {
	rm := &roomManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go rm.reaperLoop()
	}
	return rm
}

func (rm *roomManager) getHub(cfg *Config, code string) *Hub {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if hub, ok := rm.hubs[code]; ok {
		return hub
	}

	hub := newHub(rm, code)
	rm.hubs[code] = hub
	go hub.run(cfg)
	return hub
}

// newRoomCode generates a crypto-random room code and ensures it doesn't
// collide with an existing room.
func (rm *roomManager) newRoomCode() string {
	for {
		code := randomRoomCode()

		rm.mu.Lock()
		_, exists := rm.hubs[code]
		rm.mu.Unlock()

		if !exists {
			return code
		}
	}
}

func randomRoomCode() string {
	// Rejection sampling keeps the modulo unbiased.
	const max = byte(255 - (256 % len(roomCodeChars)))

	out := make([]byte, 0, roomCodeLength)
	buf := make([]byte, roomCodeLength*2)

	for {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		for _, b := range buf {
			if b <= max {
				out = append(out, roomCodeChars[int(b)%len(roomCodeChars)])
				if len(out) == roomCodeLength {
					return string(out)
				}
			}
		}
	}
}

// rebind moves a hub under a fresh code, for play-again. Connections stay
// attached to the hub; only the join URL changes.
func (rm *roomManager) rebind(h *Hub) string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for code, hub := range rm.hubs {
		if hub == h {
			delete(rm.hubs, code)
			break
		}
	}

	for {
		code := randomRoomCode()
		if _, exists := rm.hubs[code]; !exists {
			rm.hubs[code] = h
			return code
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than
// idleTimeout. Rooms otherwise live for the life of the process.
func (rm *roomManager) reaperLoop() {
	ticker := time.NewTicker(rm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-rm.idleTimeout).UnixNano()

		rm.mu.Lock()
		for code, hub := range rm.hubs {
			if hub.lastActive.Load() < cutoff {
				delete(rm.hubs, code)
				close(hub.shutdown)
			}
		}
		rm.mu.Unlock()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocket handler that picks the hub based on :roomcode
func serveWSForManager(cfg *Config, rm *roomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomCode := ps.ByName("roomcode")
		if roomCode == "" {
			http.Error(w, "missing room code", http.StatusBadRequest)
			return
		}

		hub := rm.getHub(cfg, roomCode)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:   conn,
			send:   make(chan any, 8),
			connID: uuid.New().String(),
		}

		select {
		case hub.register <- client:
		case <-hub.shutdown:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

// readPump forwards frames into the hub. Every hub send also selects on
// shutdown so a reaped room cannot strand its connection goroutines.
func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.shutdown:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		select {
		case h.commands <- command{client: c, msg: msg}:
		case <-h.shutdown:
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomCode := ps.ByName("roomcode")
	if roomCode == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:roomcode/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func serveRoomPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write([]byte(newPage("buzzbox", "Room "+ps.ByName("roomcode"))))
	}
}

// redirectNewRoom handles GET /path by generating a new random room code
// (with server-side collision detection) and redirecting to /path/:roomcode.
func redirectNewRoom(cfg *Config, path string, rm *roomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomCode := rm.newRoomCode()
		logf(cfg, "GAMES: Created room %s/%s", path, roomCode)
		http.Redirect(w, r, path+"/"+roomCode, http.StatusTemporaryRedirect)
	}
}

// registerBuzzerGame sets up routes so that:
//   - $path                    → redirects to a new random room (6-char code)
//   - $path/:roomcode          → room landing page
//   - $path/:roomcode/ws       → WebSocket for that room
//   - $path/:roomcode/qr       → PNG QR code for that room URL
func registerBuzzerGame(cfg *Config, path string, mux *httprouter.Router) {
	rm := newRoomManager(cfg.sessionTimeout)

	// Root path → redirect to new random room
	mux.GET(path, redirectNewRoom(cfg, path, rm))

	// Per-room landing page
	mux.GET(cfg.prefix+path+"/:roomcode", serveRoomPage(cfg))

	// Per-room websocket
	mux.GET(cfg.prefix+path+"/:roomcode/ws", serveWSForManager(cfg, rm))

	// Per-room QR code
	mux.GET(cfg.prefix+path+"/:roomcode/qr", qrHandler)
}
