package main

import (
	"testing"
	"testing/quick"
)

func roster(roles []Role, alive []bool) []Player {
	players := make([]Player, len(roles))
	for i, r := range roles {
		players[i] = Player{ID: string(rune('a' + i)), Role: r, IsAlive: alive[i]}
	}
	return players
}

func TestEvaluateWinner(t *testing.T) {
	tests := []struct {
		name  string
		roles []Role
		alive []bool
		want  Team
	}{
		{
			name:  "game continues",
			roles: []Role{RoleWerewolf, RoleVillager, RoleVillager, RoleSeer},
			alive: []bool{true, true, true, true},
			want:  TeamNone,
		},
		{
			name:  "village wins when threat is gone",
			roles: []Role{RoleWerewolf, RoleVillager, RoleVillager, RoleSeer},
			alive: []bool{false, true, false, true},
			want:  TeamVillage,
		},
		{
			name:  "werewolves win at parity",
			roles: []Role{RoleWerewolf, RoleVillager, RoleVillager, RoleSeer},
			alive: []bool{true, true, false, false},
			want:  TeamWerewolves,
		},
		{
			name:  "madman adds to the threat count",
			roles: []Role{RoleWerewolf, RoleMadman, RoleVillager, RoleVillager, RoleKnight},
			alive: []bool{true, true, true, true, false},
			want:  TeamWerewolves,
		},
		{
			name:  "a living madman keeps the game going",
			roles: []Role{RoleWerewolf, RoleMadman, RoleVillager, RoleVillager, RoleKnight},
			alive: []bool{false, true, true, true, true},
			want:  TeamNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evaluateWinner(roster(tt.roles, tt.alive)); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// TestEvaluateWinnerProperties checks the win rule on random rosters.
func TestEvaluateWinnerProperties(t *testing.T) {
	allRoles := []Role{RoleVillager, RoleWerewolf, RoleSeer, RoleKnight, RoleMadman}
	f := func(seats []uint8) bool {
		roles := make([]Role, len(seats))
		alive := make([]bool, len(seats))
		threat, village := 0, 0
		for i, s := range seats {
			roles[i] = allRoles[int(s)%len(allRoles)]
			alive[i] = s&0x80 == 0
			if !alive[i] {
				continue
			}
			if roles[i].Team() == TeamWerewolves {
				threat++
			} else {
				village++
			}
		}

		got := evaluateWinner(roster(roles, alive))
		switch {
		case threat == 0:
			return got == TeamVillage
		case threat >= village:
			return got == TeamWerewolves
		default:
			return got == TeamNone
		}
	}

	if err := quick.Check(f, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}
