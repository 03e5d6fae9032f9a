package main

import (
	"math/rand/v2"
	"sort"
)

// TallyEntry is one row of a vote count.
type TallyEntry struct {
	TargetID string `json:"targetId"`
	Count    int    `json:"count"`
}

// recordVote stores v, replacing any earlier vote by the same voter.
func recordVote(votes []Vote, v Vote) []Vote {
	for i := range votes {
		if votes[i].VoterID == v.VoterID {
			votes[i] = v
			return votes
		}
	}
	return append(votes, v)
}

// tally counts votes per target, highest first. Equal counts are ordered by
// target id so the output is stable.
func tally(votes []Vote) []TallyEntry {
	counts := make(map[string]int)
	for _, v := range votes {
		counts[v.TargetID]++
	}
	entries := make([]TallyEntry, 0, len(counts))
	for target, c := range counts {
		entries = append(entries, TallyEntry{TargetID: target, Count: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].TargetID < entries[j].TargetID
	})
	return entries
}

// pickExecution returns the target with strictly the most votes. When several
// targets share the top count one of them is drawn uniformly at random.
// ok is false when nobody voted.
func pickExecution(entries []TallyEntry, rng *rand.Rand) (target string, ok bool) {
	if len(entries) == 0 {
		return "", false
	}
	top := entries[0].Count
	tied := 0
	for _, e := range entries {
		if e.Count == top {
			tied++
		}
	}
	if tied == 1 {
		return entries[0].TargetID, true
	}
	return entries[rng.IntN(tied)].TargetID, true
}
