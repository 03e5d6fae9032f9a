package main

import (
	"fmt"
)

// castVote records a vote during Voting. A second vote from the same voter
// replaces the first.
func (r *Room) castVote(playerID, targetID string) error {
	if r.state.Phase != PhaseVoting {
		return ErrWrongPhase
	}
	voter := r.state.player(playerID)
	if voter == nil {
		return ErrNotInRoom
	}
	if !voter.IsAlive {
		return ErrDeadActor
	}
	target := r.state.player(targetID)
	if target == nil || !target.IsAlive {
		return ErrInvalidTarget
	}
	if target.ID == voter.ID {
		return ErrSelfTarget
	}

	r.state.Votes = recordVote(r.state.Votes, Vote{
		VoterID:  voter.ID,
		TargetID: target.ID,
		CastAt:   r.deps.Clock.Now(),
	})
	r.log.Debug().Str("voter", voter.DisplayName).Str("target", target.DisplayName).Msg("vote recorded")
	r.commit()
	r.resolveEarlyIfReady()
	return nil
}

// everyoneVoted reports whether every alive connected player has a vote in.
// It is false when nobody is eligible, so a room of absent players waits
// for the timer instead of resolving on its own.
func (s *RoomState) everyoneVoted() bool {
	voted := make(map[string]bool, len(s.Votes))
	for _, v := range s.Votes {
		voted[v.VoterID] = true
	}
	eligible := 0
	for i := range s.Players {
		p := &s.Players[i]
		if !p.canAct() {
			continue
		}
		eligible++
		if !voted[p.ID] {
			return false
		}
	}
	return eligible > 0
}

// resolveVotes executes the player with the most votes. It leaves the phase
// unchanged; the caller decides what comes next.
func (r *Room) resolveVotes() {
	entries := tally(r.state.Votes)
	targetID, ok := pickExecution(entries, r.rng)
	if !ok {
		r.state.LastExecuted = ""
		r.systemLine("The village could not decide. No one was executed.")
		r.log.Info().Int("day", r.state.CurrentDay).Msg("no execution")
		return
	}
	target := r.state.player(targetID)
	if target == nil {
		r.state.LastExecuted = ""
		r.systemLine("The village could not decide. No one was executed.")
		return
	}
	target.IsAlive = false
	r.state.LastExecuted = target.ID
	if len(entries) > 1 && entries[1].Count == entries[0].Count {
		r.systemLine(fmt.Sprintf("The vote was tied. Fate chose %s, who was executed.", target.DisplayName))
	} else {
		r.systemLine(fmt.Sprintf("%s was executed by the village.", target.DisplayName))
	}
	r.log.Info().Int("day", r.state.CurrentDay).Str("executed", target.ID).Int("votes", entries[0].Count).Msg("vote resolved")
}
