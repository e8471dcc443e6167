package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "space_user", want: "`space_user`"},
		{name: "reserved word", in: "order", want: "`order`"},
		{name: "space", in: "first name", want: "`first name`"},
		{name: "backtick", in: "user`data", want: "`user``data`"},
		{name: "many backticks", in: "a`b`c", want: "`a``b``c`"},
		{name: "empty", in: "", want: "``"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QuoteIdentifier(tt.in))
		})
	}
}

func TestQuoteIdentifiers(t *testing.T) {
	assert.Equal(t, []string{"`relation_id`", "`player_id`"}, QuoteIdentifiers("relation_id", "player_id"))
	assert.Empty(t, QuoteIdentifiers())
}
