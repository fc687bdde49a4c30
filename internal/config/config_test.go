package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"https://app.example.com", "http://localhost:3000"},
		ParseOrigins("https://app.example.com, http://localhost:3000"))
	assert.Nil(t, ParseOrigins(""))
	assert.Nil(t, ParseOrigins("  ,  ,"))
}
