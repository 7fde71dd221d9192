package pg

import (
	"testing"

	"github.com/neuroaccess/neuroaccess/shared/config"
	"github.com/stretchr/testify/assert"
)

func TestConnString(t *testing.T) {
	got := ConnString(config.Pg{Host: "db", Port: 5432, User: "u", Password: "p'w d", Dbname: "neuro"})
	assert.Equal(t, "postgres://u:p%27w%20d@db:5432/neuro?sslmode=disable", got)
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"session_kv"`, QuoteIdentifier("session_kv"))
}
