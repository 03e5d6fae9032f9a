package main

import (
	"fmt"
	"strings"
)

// nightOutcome is the result of resolving one night's actions.
type nightOutcome struct {
	Attacked []string          // distinct attack targets, in order of first attack
	Guarded  map[string]bool   // players covered by at least one guard
	Victims  []string          // attacked and not guarded
	Guards   map[string]string // knight id -> guarded player id
}

// resolveNight works out who dies. Several attacks on one player count as
// one; every attacked player is resolved on their own against the guards.
// Divine actions have no effect here.
func resolveNight(actions []NightAction) nightOutcome {
	out := nightOutcome{
		Guarded: map[string]bool{},
		Guards:  map[string]string{},
	}
	seen := map[string]bool{}
	for _, a := range actions {
		switch a.Kind {
		case ActionAttack:
			if !seen[a.TargetID] {
				seen[a.TargetID] = true
				out.Attacked = append(out.Attacked, a.TargetID)
			}
		case ActionGuard:
			out.Guarded[a.TargetID] = true
			out.Guards[a.ActorID] = a.TargetID
		}
	}
	for _, target := range out.Attacked {
		if !out.Guarded[target] {
			out.Victims = append(out.Victims, target)
		}
	}
	return out
}

// castNightAction validates and records one night action. Divine results
// go to the seer straight away; attacks and guards wait for resolution.
func (r *Room) castNightAction(playerID string, kind ActionKind, targetID string) error {
	if r.state.Phase != PhaseNight {
		return ErrWrongPhase
	}
	actor := r.state.player(playerID)
	if actor == nil {
		return ErrNotInRoom
	}
	if !actor.IsAlive {
		return ErrDeadActor
	}
	if kind == "" || actor.Role.NightAbility() != kind {
		return ErrWrongRole
	}
	if r.state.hasActedTonight(actor.ID) {
		return ErrAlreadyActed
	}
	target := r.state.player(targetID)
	if target == nil || !target.IsAlive {
		return ErrInvalidTarget
	}
	if target.ID == actor.ID {
		return ErrSelfTarget
	}
	switch kind {
	case ActionAttack:
		if target.Role == RoleWerewolf {
			return ErrInvalidTarget
		}
	case ActionGuard:
		if r.state.LastGuarded[actor.ID] == target.ID {
			return ErrRepeatGuard
		}
	}

	r.state.NightActions = append(r.state.NightActions, NightAction{
		ActorID:  actor.ID,
		Kind:     kind,
		TargetID: target.ID,
		CastAt:   r.deps.Clock.Now(),
	})
	r.log.Debug().Str("actor", actor.ID).Str("kind", string(kind)).Str("target", target.ID).Msg("night action recorded")

	switch kind {
	case ActionDivine:
		r.send(actor.ID, divineResultFor(target))
	case ActionAttack:
		r.send(actor.ID, AbilityUsed{Text: fmt.Sprintf("You chose to attack %s.", target.DisplayName)})
	case ActionGuard:
		r.send(actor.ID, AbilityUsed{Text: fmt.Sprintf("You are guarding %s tonight.", target.DisplayName)})
	}
	r.commit()
	r.resolveEarlyIfReady()
	return nil
}

// divineResultFor reads a target for the seer. The Madman reads as human.
func divineResultFor(target *Player) DivineResult {
	wolf := target.Role == RoleWerewolf
	text := fmt.Sprintf("%s is not a werewolf.", target.DisplayName)
	if wolf {
		text = fmt.Sprintf("%s is a werewolf.", target.DisplayName)
	}
	return DivineResult{Text: text, TargetID: target.ID, IsWerewolf: wolf}
}

// everyoneActed reports whether every alive connected player with a night
// ability has used it. False when no such player exists.
func (s *RoomState) everyoneActed() bool {
	eligible := 0
	for i := range s.Players {
		p := &s.Players[i]
		if !p.canAct() || p.Role.NightAbility() == "" {
			continue
		}
		eligible++
		if !s.hasActedTonight(p.ID) {
			return false
		}
	}
	return eligible > 0
}

// applyNight resolves the night into the room state and appends exactly one
// summary line to the chat log.
func (r *Room) applyNight() {
	out := resolveNight(r.state.NightActions)

	var names []string
	for _, id := range out.Victims {
		if p := r.state.player(id); p != nil && p.IsAlive {
			p.IsAlive = false
			names = append(names, p.DisplayName)
		}
	}
	r.state.LastGuarded = out.Guards

	switch len(names) {
	case 0:
		r.systemLine("The night passes quietly. No one was harmed.")
	case 1:
		r.systemLine(fmt.Sprintf("%s was attacked during the night.", names[0]))
	default:
		r.systemLine(fmt.Sprintf("%s were attacked during the night.", strings.Join(names, ", ")))
	}
	r.log.Info().
		Int("day", r.state.CurrentDay).
		Int("attacked", len(out.Attacked)).
		Strs("victims", out.Victims).
		Msg("night resolved")
}
