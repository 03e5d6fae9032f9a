package main

import (
	"fmt"
	"math/rand/v2"
	"sort"
)

// roleOrder fixes the iteration order over role shapes so results do not
// depend on map ordering.
var roleOrder = []Role{RoleWerewolf, RoleMadman, RoleSeer, RoleKnight, RoleVillager}

// defaultRoleShape derives the role counts for n players.
//
// One werewolf is always present and the threat team grows to about a third
// of the table. From 7 players one of those threat seats is a Madman. The
// Seer joins at 5 players and the Knight at 6; villagers fill the rest.
func defaultRoleShape(n int) map[Role]int {
	shape := map[Role]int{}
	threat := max(1, n/3)
	madman := 0
	if n >= 7 {
		madman = 1
	}
	shape[RoleWerewolf] = max(1, threat-madman)
	if madman > 0 {
		shape[RoleMadman] = madman
	}
	if n >= 5 {
		shape[RoleSeer] = 1
	}
	if n >= 6 {
		shape[RoleKnight] = 1
	}
	used := 0
	for _, c := range shape {
		used += c
	}
	if n > used {
		shape[RoleVillager] = n - used
	}
	return shape
}

func shapeTotal(shape map[Role]int) int {
	total := 0
	for _, c := range shape {
		total += c
	}
	return total
}

// assignRoles gives every player exactly one role drawn from the custom
// shape, or from defaultRoleShape when custom is empty. The input slice is
// not modified; the returned slice has the same players in the same order.
func assignRoles(players []Player, custom map[Role]int, minPlayers int, rng *rand.Rand) ([]Player, error) {
	n := len(players)
	if n < max(minPlayers, minRoomSize) {
		return nil, fmt.Errorf("%w: need at least %d players, have %d", ErrInsufficientPlayers, max(minPlayers, minRoomSize), n)
	}

	shape := custom
	if len(shape) == 0 {
		shape = defaultRoleShape(n)
	}
	for role, count := range shape {
		if !role.valid() || count < 0 {
			return nil, fmt.Errorf("%w: unknown role %q", ErrRoleCountMismatch, role)
		}
	}
	if shape[RoleWerewolf] < 1 {
		return nil, ErrNoThreatRole
	}
	if total := shapeTotal(shape); total != n {
		return nil, fmt.Errorf("%w: %d roles for %d players", ErrRoleCountMismatch, total, n)
	}

	pool := make([]Role, 0, n)
	for _, role := range roleOrder {
		for i := 0; i < shape[role]; i++ {
			pool = append(pool, role)
		}
	}
	rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	out := make([]Player, n)
	copy(out, players)
	for i := range out {
		out[i].Role = pool[i]
	}
	return out, nil
}

// roleCounts summarises the roles held by a roster, for logs and tests.
func roleCounts(players []Player) map[Role]int {
	counts := map[Role]int{}
	for _, p := range players {
		counts[p.Role]++
	}
	return counts
}

func describeShape(shape map[Role]int) string {
	roles := make([]string, 0, len(shape))
	for role, c := range shape {
		if c > 0 {
			roles = append(roles, fmt.Sprintf("%s=%d", role, c))
		}
	}
	sort.Strings(roles)
	return fmt.Sprint(roles)
}
