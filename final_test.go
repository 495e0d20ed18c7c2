package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// finalRoomWithScores seeds a room with one player per score, already in
// the wagering phase.
func finalRoomWithScores(t *testing.T, scores ...int) (*Room, []*Player) {
	t.Helper()

	r := newRoom("ABC123")
	players := make([]*Player, 0, len(scores))
	for i, score := range scores {
		p := joinPlayer(t, r, string(rune('A'+i)), "🎲", "conn-"+string(rune('a'+i)))
		p.Score = score
		players = append(players, p)
	}
	r.StartGame()

	require.NotNil(t, r.StartFinalWagering())
	return r, players
}

func TestStartFinalRoundAndCategoryReveal(t *testing.T) {
	r := newRoom("ABC123")
	joinPlayer(t, r, "Alice", "🦄", "conn-a")

	events := r.StartFinalRound()
	require.Len(t, events, 1)
	assert.Equal(t, phaseTransition, r.finalPhase())

	assert.Nil(t, r.StartFinalRound(), "starting an already-running round is a no-op")

	events = r.RevealFinalCategory()
	require.Len(t, events, 1)
	assert.Equal(t, phaseCategory, r.finalPhase())

	assert.Nil(t, r.RevealFinalCategory(), "category reveal only fires from the transition pause")
}

func TestStartFinalWageringSendsIndividualCeilings(t *testing.T) {
	r, players := finalRoomWithScores(t, 400, -200, 0)

	// Re-run from a clean round to inspect the events.
	r.final = nil
	events := r.StartFinalWagering()
	require.Len(t, events, 4) // phase update + one targeted message per player

	byConn := make(map[string]StartWageringMessage)
	for _, ev := range events[1:] {
		byConn[ev.To] = ev.Msg.(StartWageringMessage)
	}

	assert.Equal(t, 400, byConn[players[0].connID].MaxWager)
	assert.Equal(t, 400, byConn[players[0].connID].PlayerScore)
	assert.Equal(t, 200, byConn[players[1].connID].MaxWager, "a losing score wagers up to its absolute value")
	assert.Equal(t, -200, byConn[players[1].connID].PlayerScore)
	assert.Equal(t, 0, byConn[players[2].connID].MaxWager, "a zero score has nothing to wager")
}

func TestQuestionBlockedUntilAllWagersIn(t *testing.T) {
	r, players := finalRoomWithScores(t, 400, 200, 100)

	r.SubmitWager(players[0].ID, 300)
	r.SubmitWager(players[1].ID, 150)

	assert.Nil(t, r.StartFinalQuestion(), "two of three wagers is not enough")
	assert.Equal(t, phaseWagering, r.finalPhase())

	events := r.SubmitWager(players[2].ID, 50)
	require.Len(t, events, 1)
	msg := events[0].Msg.(WagerSubmittedMessage)
	assert.Equal(t, players[2].ID, msg.PlayerID)
	assert.Equal(t, 50, msg.Wager)

	require.NotNil(t, r.StartFinalQuestion(), "last wager unblocks the question")
	assert.Equal(t, phaseQuestion, r.finalPhase())
}

func TestWagerResubmissionOverwrites(t *testing.T) {
	r, players := finalRoomWithScores(t, 400)

	r.SubmitWager(players[0].ID, 100)
	r.SubmitWager(players[0].ID, 250)

	assert.Equal(t, 250, r.final.wagers[players[0].ID])
	assert.Len(t, r.final.wagers, 1, "a resubmission is not a second ready player")
}

func TestWagerIgnoredOutsideWageringPhase(t *testing.T) {
	r, players := finalRoomWithScores(t, 400)
	r.SubmitWager(players[0].ID, 100)
	require.NotNil(t, r.StartFinalQuestion())

	assert.Nil(t, r.SubmitWager(players[0].ID, 999))
	assert.Equal(t, 100, r.final.wagers[players[0].ID], "wagers freeze once the question is up")
}

func TestReviewBlockedUntilAllAnswersIn(t *testing.T) {
	r, players := finalRoomWithScores(t, 400, 200)
	r.SubmitWager(players[0].ID, 300)
	r.SubmitWager(players[1].ID, 150)
	require.NotNil(t, r.StartFinalQuestion())

	r.SubmitFinalAnswer(players[0].ID, "what is go?")
	assert.Nil(t, r.ReviewFinalAnswers())

	events := r.SubmitFinalAnswer(players[1].ID, "what is rust?")
	require.Len(t, events, 1)
	assert.Equal(t, "what is rust?", events[0].Msg.(FinalAnswerSubmittedMessage).Answer)

	require.NotNil(t, r.ReviewFinalAnswers())
	assert.Equal(t, phaseReview, r.finalPhase())
}

func TestCalculateFinalResultsSettlesWagers(t *testing.T) {
	r, players := finalRoomWithScores(t, 400, -200, 0)

	r.SubmitWager(players[0].ID, 300)
	r.SubmitWager(players[1].ID, 200)
	r.SubmitWager(players[2].ID, 0)
	require.NotNil(t, r.StartFinalQuestion())

	for _, p := range players {
		r.SubmitFinalAnswer(p.ID, "an answer")
	}
	require.NotNil(t, r.ReviewFinalAnswers())

	r.MarkFinalCorrect(players[0].ID, true)
	r.MarkFinalCorrect(players[1].ID, true)
	r.MarkFinalCorrect(players[1].ID, false) // host changed their mind

	events := r.CalculateFinalResults()
	require.NotNil(t, events)
	assert.Equal(t, phaseResults, r.finalPhase())

	assert.Equal(t, 700, r.playerByID(players[0].ID).Score, "correct gains the wager")
	assert.Equal(t, -400, r.playerByID(players[1].ID).Score, "wrong loses the wager")
	assert.Equal(t, 0, r.playerByID(players[2].ID).Score)

	// The roster goes out, the phase flips, and the reveal counter opens at 0.
	roster := rosterOf(t, events)
	assert.Equal(t, 700, roster[0].Score)
	reveal := events[len(events)-1].Msg.(RevealUpdateMessage)
	assert.Equal(t, 0, reveal.RevealedCount)

	assert.Nil(t, r.CalculateFinalResults(), "results cannot be settled twice")
}

func TestSequentialReveal(t *testing.T) {
	r, players := finalRoomWithScores(t, 400, 200, 100)

	for _, p := range players {
		r.SubmitWager(p.ID, 0)
	}
	require.NotNil(t, r.StartFinalQuestion())
	for _, p := range players {
		r.SubmitFinalAnswer(p.ID, "x")
	}
	require.NotNil(t, r.ReviewFinalAnswers())
	require.NotNil(t, r.CalculateFinalResults())

	assert.Equal(t, 0, r.final.revealed)

	for want := 1; want <= 3; want++ {
		events, done := r.RevealNext()
		require.Len(t, events, 1)
		assert.Equal(t, want, events[0].Msg.(RevealUpdateMessage).RevealedCount)
		assert.Equal(t, want == 3, done)
	}

	events, done := r.RevealNext()
	assert.Nil(t, events, "no further increments after reaching the player count")
	assert.True(t, done)
	assert.Equal(t, 3, r.final.revealed)
}

func TestForceFinalReadyFillsStragglers(t *testing.T) {
	r, players := finalRoomWithScores(t, 400, 200)

	r.SubmitWager(players[0].ID, 300)

	events := r.ForceFinalReady(phaseWagering)
	require.Len(t, events, 1, "only the missing wager is filled")
	msg := events[0].Msg.(WagerSubmittedMessage)
	assert.Equal(t, players[1].ID, msg.PlayerID)
	assert.Equal(t, 0, msg.Wager)
	assert.Equal(t, 300, r.final.wagers[players[0].ID], "submitted wagers are untouched")

	require.NotNil(t, r.StartFinalQuestion(), "forced fill unblocks the gate")

	// A stale timer from the wagering phase must not touch the answers.
	assert.Nil(t, r.ForceFinalReady(phaseWagering))

	r.SubmitFinalAnswer(players[0].ID, "something")
	events = r.ForceFinalReady(phaseQuestion)
	require.Len(t, events, 1)
	assert.Equal(t, "", events[0].Msg.(FinalAnswerSubmittedMessage).Answer)
	require.NotNil(t, r.ReviewFinalAnswers())
}

func TestPlayAgainRewindsTheRoom(t *testing.T) {
	r, players := finalRoomWithScores(t, 400, 200)

	r.SubmitWager(players[0].ID, 100)
	r.SubmitWager(players[1].ID, 100)
	require.NotNil(t, r.StartFinalQuestion())
	r.Buzz(players[0].connID)
	r.LockPlayer(players[1].ID)
	r.SetActivePlayer(players[0].ID)

	events := r.PlayAgain("XYZ789")

	assert.Equal(t, "XYZ789", r.code)
	assert.False(t, r.gameStarted)
	assert.Nil(t, r.final)
	assert.Empty(t, r.buzzedPlayer)
	assert.Empty(t, r.lockedOut)
	assert.Empty(t, r.activePlayerID)

	roster := rosterOf(t, events)
	require.Len(t, roster, 2, "the roster itself survives")
	assert.Equal(t, 0, roster[0].Score)
	assert.Equal(t, 0, roster[1].Score)

	code := events[0].Msg.(RoomCodeMessage)
	assert.Equal(t, "XYZ789", code.RoomCode)
}

func TestScoresFrozenDuringWageringAdvance(t *testing.T) {
	// Ceilings are computed when wagering starts; a host score push after
	// that does not retroactively change a player's announced ceiling.
	r, players := finalRoomWithScores(t, 100)

	r.UpdateScores([]*Player{{ID: players[0].ID, Name: players[0].Name, Icon: "🎲", Score: 500}})

	events := r.SubmitWager(players[0].ID, 100)
	require.Len(t, events, 1)
	require.NotNil(t, r.StartFinalQuestion())
}
