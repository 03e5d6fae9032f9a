package main

import (
	"fmt"
)

// aiNames is the pool AI seats are named from, in order.
var aiNames = []string{
	"Old Marta", "Brother Tomas", "Greta the Baker", "Hugo", "Widow Anselm",
	"Pieter", "Lotte", "Farmer Jost", "Ilse", "Konrad", "Rosalind", "Edda",
}

func (r *Room) nextAIName() string {
	for _, name := range aiNames {
		if r.state.playerByName(name) == nil {
			return name
		}
	}
	for i := len(aiNames) + 1; ; i++ {
		name := fmt.Sprintf("Villager %d", i)
		if r.state.playerByName(name) == nil {
			return name
		}
	}
}

func (r *Room) livingAISeats() []string {
	var ids []string
	for _, p := range r.state.Players {
		if p.IsAI && p.IsAlive {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// aiCandidates lists living players other than self that pass keep.
func (s *RoomState) aiCandidates(self string, keep func(p *Player) bool) []string {
	var ids []string
	for i := range s.Players {
		p := &s.Players[i]
		if p.ID == self || !p.IsAlive {
			continue
		}
		if keep == nil || keep(p) {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (r *Room) pick(ids []string) (string, bool) {
	if len(ids) == 0 {
		return "", false
	}
	return ids[r.rng.IntN(len(ids))], true
}

// aiVotes casts a vote for every living AI seat. Werewolf seats never vote
// for a fellow werewolf while another target exists.
func (r *Room) aiVotes() {
	now := r.deps.Clock.Now()
	for _, id := range r.livingAISeats() {
		self := r.state.player(id)
		candidates := r.state.aiCandidates(id, nil)
		if self.Role == RoleWerewolf {
			if humans := r.state.aiCandidates(id, func(p *Player) bool { return p.Role != RoleWerewolf }); len(humans) > 0 {
				candidates = humans
			}
		}
		target, ok := r.pick(candidates)
		if !ok {
			continue
		}
		r.state.Votes = recordVote(r.state.Votes, Vote{VoterID: id, TargetID: target, CastAt: now})
	}
}

// aiNightActions uses the night ability of every living AI seat that has
// one, following the same rules human actions are held to.
func (r *Room) aiNightActions() {
	now := r.deps.Clock.Now()
	for _, id := range r.livingAISeats() {
		self := r.state.player(id)
		kind := self.Role.NightAbility()
		var keep func(p *Player) bool
		switch kind {
		case ActionAttack:
			keep = func(p *Player) bool { return p.Role != RoleWerewolf }
		case ActionGuard:
			last := r.state.LastGuarded[id]
			keep = func(p *Player) bool { return p.ID != last }
		case ActionDivine:
		default:
			continue
		}
		target, ok := r.pick(r.state.aiCandidates(id, keep))
		if !ok {
			continue
		}
		r.state.NightActions = append(r.state.NightActions, NightAction{
			ActorID:  id,
			Kind:     kind,
			TargetID: target,
			CastAt:   now,
		})
	}
}
