package repository

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJSONB_KeepsComparisonOperators(t *testing.T) {
	v, err := toJSONB(map[string]string{"explanation": "score 2 < 8 && 3 > 1"})
	require.NoError(t, err)
	assert.Equal(t, `{"explanation":"score 2 < 8 && 3 > 1"}`, v)

	var back map[string]string
	require.NoError(t, fromJSONB(sql.NullString{String: v.(string), Valid: true}, &back))
	assert.Equal(t, "score 2 < 8 && 3 > 1", back["explanation"])
}

func TestToJSONB_NullValues(t *testing.T) {
	v, err := toJSONB(nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	var empty map[string]string
	v, err = toJSONB(empty)
	require.NoError(t, err)
	assert.Nil(t, v)
}
