package main

import (
	"context"
	"fmt"
)

// evaluateWinner decides the game from the roster alone.
//
// The village wins once no threat-team player is alive. The werewolves win
// as soon as the living threat team is at least as large as the living
// village, so parity is enough. The Madman counts toward the threat team
// and is never counted on the village side.
func evaluateWinner(players []Player) Team {
	threat, village := 0, 0
	for _, p := range players {
		if !p.IsAlive {
			continue
		}
		switch {
		case p.Role.Team() == TeamWerewolves:
			threat++
		case !p.Role.IsNeutral():
			village++
		}
	}
	switch {
	case threat == 0:
		return TeamVillage
	case threat >= village:
		return TeamWerewolves
	default:
		return TeamNone
	}
}

// enterPhase switches to p, clears the ledger that p starts fresh, arms the
// phase timer and lets AI seats take their turn.
func (r *Room) enterPhase(p Phase) {
	r.state.Phase = p
	switch p {
	case PhaseDay:
		r.state.CurrentDay++
	case PhaseVoting:
		r.state.Votes = []Vote{}
	case PhaseNight:
		r.state.NightActions = []NightAction{}
	}
	r.armPhaseTimer(r.state.Settings.phaseDuration(p))
	r.log.Info().Str("phase", string(p)).Int("day", r.state.CurrentDay).Msg("phase started")

	switch p {
	case PhaseDay:
		r.aiDayChatter()
	case PhaseVoting:
		r.aiVotes()
	case PhaseNight:
		r.aiNightActions()
	}
}

// advancePhase runs the transition out of the current phase. It is driven by
// the phase timer or by early resolution and commits the result once.
func (r *Room) advancePhase() {
	switch r.state.Phase {
	case PhaseDay:
		r.enterPhase(PhaseVoting)
	case PhaseVoting:
		r.resolveVotes()
		if !r.checkWinner() {
			r.enterPhase(PhaseNight)
		}
	case PhaseNight:
		r.applyNight()
		if !r.checkWinner() {
			r.enterPhase(PhaseDay)
		}
	default:
		return
	}
	r.commit()
	// A timer can advance a game nobody is connected to any more.
	r.maybeDestroy()
}

// resolveEarlyIfReady ends Voting or Night ahead of the timer once every
// eligible player has acted.
func (r *Room) resolveEarlyIfReady() {
	switch {
	case r.state.Phase == PhaseVoting && r.state.everyoneVoted():
		r.log.Debug().Msg("all votes in, resolving early")
		r.advancePhase()
	case r.state.Phase == PhaseNight && r.state.everyoneActed():
		r.log.Debug().Msg("all night actions in, resolving early")
		r.advancePhase()
	}
}

// checkWinner ends the game if a team has won and reports whether it did.
func (r *Room) checkWinner() bool {
	winner := evaluateWinner(r.state.Players)
	if winner == TeamNone {
		return false
	}
	r.endGame(winner)
	return true
}

func (r *Room) endGame(winner Team) {
	r.stopTimer()
	r.phaseToken++
	r.state.Phase = PhaseEnded
	r.state.Winner = winner
	r.state.PhaseDeadline = nil
	switch winner {
	case TeamVillage:
		r.systemLine("Every werewolf has been found. The village wins!")
	case TeamWerewolves:
		r.systemLine("The werewolves outnumber the village. The werewolves win!")
	}
	r.log.Info().Str("winner", string(winner)).Int("day", r.state.CurrentDay).Msg("game over")
}

// aiDayChatter asks the narrative agent for a line from a few living AI
// seats. Each call is bounded by the narrative timeout and falls back to a
// canned line, so the phase timer is never held up.
func (r *Room) aiDayChatter() {
	speakers := r.livingAISeats()
	r.rng.Shuffle(len(speakers), func(i, j int) {
		speakers[i], speakers[j] = speakers[j], speakers[i]
	})
	if len(speakers) > maxAISpeakers {
		speakers = speakers[:maxAISpeakers]
	}
	for _, id := range speakers {
		p := r.state.player(id)
		req := NarrativeRequest{
			Speaker: p.DisplayName,
			Role:    p.Role,
			Day:     r.state.CurrentDay,
			History: r.recentChat(aiHistoryLen),
		}
		line := requestNarrativeLine(context.Background(), r.deps.Narrator, r.deps.NarrativeTimeout, req, r.rng)
		r.appendChat(ChatNarrative, p, line)
	}
}

// recentChat formats the last n chat lines for the narrative agent.
func (r *Room) recentChat(n int) []string {
	tail := r.state.ChatLog
	if len(tail) > n {
		tail = tail[len(tail)-n:]
	}
	lines := make([]string, 0, len(tail))
	for _, ev := range tail {
		if ev.Kind == ChatSystem {
			lines = append(lines, ev.Content)
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", ev.DisplayName, ev.Content))
	}
	return lines
}
