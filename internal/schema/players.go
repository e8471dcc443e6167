package schema

import (
	"fmt"
	"sort"
)

// OppositePlayers returns the candidate thing types reachable through f, in a
// deterministic order: pinned players in declaration order, otherwise the
// derived players sorted by thing name.
func (s *Schema) OppositePlayers(f FieldRef) ([]Player, error) {
	if len(f.players) > 0 {
		return append([]Player(nil), f.players...), nil
	}

	var players []Player
	switch {
	case f.Kind == LinkFieldKind && f.Target == TargetRelation:
		if _, ok := s.Relations[f.Relation]; !ok {
			return nil, fmt.Errorf("%s.%s: relation %q is not declared", f.Owner, f.Path, f.Relation)
		}
		players = append(players, Player{Thing: f.Relation, ThingType: Relation})
	case f.Kind == LinkFieldKind && f.Target == TargetRole:
		for _, role := range f.TargetRoles {
			players = append(players, s.playersOf(f.Relation, role)...)
		}
	case f.Kind == RoleFieldKind:
		players = s.playersOf(f.Owner, f.Path)
	}

	players = dedupePlayers(players)
	if len(players) == 0 {
		return nil, fmt.Errorf("%s.%s: no thing can be reached through this field", f.Owner, f.Path)
	}
	return players, nil
}

// playersOf lists the things playing role in relation, either through the
// role's playedBy declaration or through link fields that play it.
func (s *Schema) playersOf(relation, role string) []Player {
	var players []Player
	if rel, ok := s.Relations[relation]; ok {
		if rf, ok := rel.Role(role); ok {
			for _, p := range rf.PlayedBy {
				p.Plays = role
				players = append(players, p)
			}
		}
	}
	if len(players) > 0 {
		return players
	}
	for _, name := range s.Names() {
		t, _ := s.Thing(name)
		for _, lf := range t.LinkFields {
			if lf.Relation == relation && lf.Plays == role {
				players = append(players, Player{Thing: t.Name, ThingType: t.ThingType, Plays: role})
				break
			}
		}
	}
	sort.SliceStable(players, func(i, j int) bool { return players[i].Thing < players[j].Thing })
	return players
}

func dedupePlayers(in []Player) []Player {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, p := range in {
		key := p.Thing + "\x00" + p.Plays
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}
