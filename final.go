package main

// The final round is a host-driven phase machine:
//
//	none → transition → category → wagering → question → review → results
//
// Phases only move forward; the sole way back is PlayAgain, which discards
// the whole round. Advancing past wagering requires a wager from every
// seated player, and past question an answer from every seated player —
// disconnected players still count, since disconnects never vacate a seat.

type finalPhase string

const (
	phaseNone       finalPhase = "none"
	phaseTransition finalPhase = "transition"
	phaseCategory   finalPhase = "category"
	phaseWagering   finalPhase = "wagering"
	phaseQuestion   finalPhase = "question"
	phaseReview     finalPhase = "review"
	phaseResults    finalPhase = "results"
)

type finalRound struct {
	phase    finalPhase
	wagers   map[string]int    // stable player ID → wager
	answers  map[string]string // stable player ID → free-text answer
	correct  map[string]bool   // host-assigned during review
	ready    map[string]bool   // submissions seen in the current phase
	revealed int               // results counter, 0..len(players)
}

func newFinalRound() *finalRound {
	return &finalRound{
		phase:   phaseNone,
		wagers:  make(map[string]int),
		answers: make(map[string]string),
		correct: make(map[string]bool),
		ready:   make(map[string]bool),
	}
}

func (r *Room) finalPhase() finalPhase {
	if r.final == nil {
		return phaseNone
	}
	return r.final.phase
}

func (r *Room) phaseUpdate() Envelope {
	return broadcast(FinalPhaseMessage{
		Type:  "final-phase-update",
		Phase: string(r.finalPhase()),
	})
}

// StartFinalRound begins the endgame once the host has cleared the board.
// The category itself is revealed a beat later, by the hub's timer.
func (r *Room) StartFinalRound() []Envelope {
	if r.final != nil {
		return nil
	}

	r.final = newFinalRound()
	r.final.phase = phaseTransition
	return []Envelope{r.phaseUpdate()}
}

// RevealFinalCategory ends the dramatic pause.
func (r *Room) RevealFinalCategory() []Envelope {
	if r.finalPhase() != phaseTransition {
		return nil
	}

	r.final.phase = phaseCategory
	return []Envelope{r.phaseUpdate()}
}

// StartFinalWagering opens the wagering window. Each player is told their
// own ceiling individually: abs(score), so a losing score can still bet its
// absolute value and a zero score can bet nothing. Prior wagers, answers,
// and readiness are wiped.
func (r *Room) StartFinalWagering() []Envelope {
	switch r.finalPhase() {
	case phaseWagering, phaseQuestion, phaseReview, phaseResults:
		return nil
	}

	if r.final == nil {
		r.final = newFinalRound()
	}
	f := r.final
	f.phase = phaseWagering
	f.wagers = make(map[string]int)
	f.answers = make(map[string]string)
	f.ready = make(map[string]bool)

	events := []Envelope{r.phaseUpdate()}
	for _, p := range r.players {
		ceiling := p.Score
		if ceiling < 0 {
			ceiling = -ceiling
		}
		events = append(events, sendTo(p.connID, StartWageringMessage{
			Type:        "start-final-wagering",
			PlayerScore: p.Score,
			MaxWager:    ceiling,
		}))
	}
	return events
}

// SubmitWager stores a player's wager and echoes it to the room so the host
// can track readiness. The value is trusted as-is; the client enforces the
// ceiling it was sent.
func (r *Room) SubmitWager(playerID string, wager int) []Envelope {
	if r.finalPhase() != phaseWagering {
		return nil
	}
	if r.playerByID(playerID) == nil {
		return nil
	}

	r.final.wagers[playerID] = wager
	r.final.ready[playerID] = true

	return []Envelope{broadcast(WagerSubmittedMessage{
		Type:     "wager-submitted",
		PlayerID: playerID,
		Wager:    wager,
	})}
}

// StartFinalQuestion reveals the question, but only once every seated
// player has a recorded wager. Readiness resets; the wagers persist.
func (r *Room) StartFinalQuestion() []Envelope {
	if r.finalPhase() != phaseWagering {
		return nil
	}
	if len(r.final.wagers) < len(r.players) {
		return nil
	}

	r.final.phase = phaseQuestion
	r.final.ready = make(map[string]bool)

	return []Envelope{
		broadcast(SimpleMessage{Type: "start-final-question"}),
		r.phaseUpdate(),
	}
}

func (r *Room) SubmitFinalAnswer(playerID, answer string) []Envelope {
	if r.finalPhase() != phaseQuestion {
		return nil
	}
	if r.playerByID(playerID) == nil {
		return nil
	}

	r.final.answers[playerID] = answer
	r.final.ready[playerID] = true

	return []Envelope{broadcast(FinalAnswerSubmittedMessage{
		Type:     "final-answer-submitted",
		PlayerID: playerID,
		Answer:   answer,
	})}
}

// ReviewFinalAnswers moves to review once every player has answered.
func (r *Room) ReviewFinalAnswers() []Envelope {
	if r.finalPhase() != phaseQuestion {
		return nil
	}
	if len(r.final.answers) < len(r.players) {
		return nil
	}

	r.final.phase = phaseReview
	return []Envelope{r.phaseUpdate()}
}

// MarkFinalCorrect records the host's judgement of one player's answer.
func (r *Room) MarkFinalCorrect(playerID string, correct bool) []Envelope {
	if r.finalPhase() != phaseReview {
		return nil
	}
	if r.playerByID(playerID) == nil {
		return nil
	}

	if correct {
		r.final.correct[playerID] = true
	} else {
		delete(r.final.correct, playerID)
	}
	return nil
}

// CalculateFinalResults settles every wager (correct gains it, wrong loses
// it), publishes the new roster, and enters the staged reveal at zero. The
// hub drives the reveal counter from here via RevealNext.
func (r *Room) CalculateFinalResults() []Envelope {
	if r.finalPhase() != phaseReview {
		return nil
	}
	f := r.final

	for _, p := range r.players {
		wager := f.wagers[p.ID]
		if f.correct[p.ID] {
			p.Score += wager
		} else {
			p.Score -= wager
		}
	}

	f.phase = phaseResults
	f.revealed = 0

	return []Envelope{
		r.rosterUpdate(),
		r.phaseUpdate(),
		broadcast(RevealUpdateMessage{Type: "reveal-update"}),
	}
}

// RevealNext bumps the reveal counter by one. Clients rank players by
// ascending score and disclose the first revealed entries, so the counter
// unveils worst-to-best. Returns done once every player is revealed.
func (r *Room) RevealNext() ([]Envelope, bool) {
	if r.finalPhase() != phaseResults {
		return nil, true
	}
	f := r.final

	if f.revealed >= len(r.players) {
		return nil, true
	}
	f.revealed++

	events := []Envelope{broadcast(RevealUpdateMessage{
		Type:          "reveal-update",
		RevealedCount: f.revealed,
	})}
	return events, f.revealed >= len(r.players)
}

// ForceFinalReady is the straggler policy behind --phase-timeout: when the
// timer for a phase fires, any missing wager becomes 0 and any missing
// answer becomes empty, so the host is no longer gated on an unreachable
// phone. A timer from an already-departed phase does nothing.
func (r *Room) ForceFinalReady(phase finalPhase) []Envelope {
	if r.finalPhase() != phase {
		return nil
	}
	f := r.final

	var events []Envelope
	switch phase {
	case phaseWagering:
		for _, p := range r.players {
			if _, ok := f.wagers[p.ID]; ok {
				continue
			}
			f.wagers[p.ID] = 0
			f.ready[p.ID] = true
			events = append(events, broadcast(WagerSubmittedMessage{
				Type:     "wager-submitted",
				PlayerID: p.ID,
			}))
		}
	case phaseQuestion:
		for _, p := range r.players {
			if _, ok := f.answers[p.ID]; ok {
				continue
			}
			f.answers[p.ID] = ""
			f.ready[p.ID] = true
			events = append(events, broadcast(FinalAnswerSubmittedMessage{
				Type:     "final-answer-submitted",
				PlayerID: p.ID,
			}))
		}
	}
	return events
}

// PlayAgain rewinds the room for another game on the same board: scores to
// zero, buzzer and lockouts cleared, final round discarded, and the room
// rebound under a fresh code (the registry handles the rebinding).
func (r *Room) PlayAgain(newCode string) []Envelope {
	r.code = newCode
	r.buzzedPlayer = ""
	r.lockedOut = make(map[string]bool)
	r.gameStarted = false
	r.activePlayerID = ""
	r.final = nil

	for _, p := range r.players {
		p.Score = 0
	}

	return []Envelope{
		broadcast(RoomCodeMessage{Type: "room-code-update", RoomCode: newCode}),
		r.rosterUpdate(),
		broadcast(SimpleMessage{Type: "buzzer-reset"}),
		broadcast(LockStatusMessage{Type: "lock-status-update", IsLocked: false}),
	}
}
