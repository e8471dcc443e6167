// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"strings"
	"testing"

	"thingmapper/internal/schema"
)

// SchemaYAML is a small enriched schema covering every relational shape the
// pipeline handles: to-one and to-many role links, exclusive ownership, a link
// field targeting its relation, an ambiguous field and a subtype.
const SchemaYAML = `
entities:
  User:
    idFields: [id]
    dataFields:
      - {path: id}
      - {path: name}
      - {path: email}
    linkFields:
      - {path: spaces, cardinality: MANY, relation: SpaceUser, plays: user, target: role, targetRoles: [space]}
      - {path: accounts, cardinality: MANY, relation: AccountOwnership, plays: owner, target: role, targetRoles: [account], ownership: exclusive}
      - {path: profile, cardinality: ONE, relation: UserProfile, plays: user, target: role, targetRoles: [profile], ownership: exclusive}
      - {path: tags, cardinality: MANY, relation: UserTag, plays: users, target: relation}
      - {path: team, cardinality: ONE, relation: TeamMember, plays: member, target: role, targetRoles: [team]}
      - {path: favorites, cardinality: MANY, relation: Favorite, plays: fan, target: role, targetRoles: [item]}
  SuperUser:
    extends: User
    dataFields:
      - {path: id}
      - {path: name}
      - {path: email}
      - {path: power}
    linkFields:
      - {path: spaces, cardinality: MANY, relation: SpaceUser, plays: user, target: role, targetRoles: [space]}
  Space:
    dataFields:
      - {path: id}
      - {path: name}
    linkFields:
      - {path: users, cardinality: MANY, relation: SpaceUser, plays: space, target: role, targetRoles: [user]}
  Account:
    dataFields:
      - {path: id}
      - {path: provider}
    linkFields:
      - {path: owner, cardinality: ONE, relation: AccountOwnership, plays: account, target: role, targetRoles: [owner]}
  Profile:
    dataFields:
      - {path: id}
      - {path: bio}
    linkFields:
      - {path: user, cardinality: ONE, relation: UserProfile, plays: profile, target: role, targetRoles: [user]}
  Team:
    dataFields:
      - {path: id}
      - {path: name}
    linkFields:
      - {path: members, cardinality: MANY, relation: TeamMember, plays: team, target: role, targetRoles: [member]}
  Color:
    dataFields:
      - {path: id}
      - {path: name}
    linkFields:
      - {path: userTags, cardinality: MANY, relation: UserTag, plays: color, target: relation}
relations:
  SpaceUser:
    dataFields:
      - {path: id}
    roles:
      - {path: space, cardinality: ONE}
      - path: user
        cardinality: ONE
        playedBy: [{thing: User}]
  AccountOwnership:
    dataFields:
      - {path: id}
    roles:
      - {path: owner, cardinality: ONE, playedBy: [{thing: User}]}
      - {path: account, cardinality: ONE, ownership: exclusive}
  UserProfile:
    dataFields:
      - {path: id}
    roles:
      - {path: user, cardinality: ONE, playedBy: [{thing: User}]}
      - {path: profile, cardinality: ONE}
  TeamMember:
    dataFields:
      - {path: id}
    roles:
      - {path: team, cardinality: ONE}
      - {path: member, cardinality: ONE, playedBy: [{thing: User}]}
  UserTag:
    dataFields:
      - {path: id}
      - {path: name}
    roles:
      - {path: users, cardinality: MANY, playedBy: [{thing: User}]}
      - {path: color, cardinality: ONE, playedBy: [{thing: Color}]}
  Favorite:
    dataFields:
      - {path: id}
    roles:
      - {path: fan, cardinality: ONE, playedBy: [{thing: User}]}
      - {path: item, cardinality: ONE, playedBy: [{thing: Color}, {thing: Space}]}
`

// Schema parses SchemaYAML or fails the test.
func Schema(tb testing.TB) *schema.Schema {
	tb.Helper()
	s, err := schema.Parse(strings.NewReader(SchemaYAML))
	if err != nil {
		tb.Fatalf("failed to parse fixture schema: %v", err)
	}
	return s
}
