package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fentz26/escrowd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSkills(t *testing.T) {
	bits, err := parseSkills([]string{"data_labeling", "Research", "0x40"})
	require.NoError(t, err)
	assert.Equal(t, uint8(0b1100001), bits)
	assert.Equal(t, "data_labeling, research, other", formatSkills(bits))
	assert.Equal(t, "-", formatSkills(0))

	_, err = parseSkills([]string{"juggling"})
	assert.ErrorContains(t, err, "unknown skill")
}

func TestParseRuling(t *testing.T) {
	for in, want := range map[string]models.Ruling{
		"creator":      models.RulingCreatorWins,
		"creator_wins": models.RulingCreatorWins,
		"agent":        models.RulingAgentWins,
		"split":        models.RulingSplit,
	} {
		got, err := parseRuling(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseRuling("pending")
	assert.Error(t, err)
}

func TestContentHash(t *testing.T) {
	h, err := contentHash("", "", "")
	require.NoError(t, err)
	assert.True(t, h.IsZero())

	h, err = contentHash("", "", "report v1")
	require.NoError(t, err)
	assert.Equal(t, models.ContentHash([]byte("report v1")), h)

	path := filepath.Join(t.TempDir(), "deliverable.txt")
	require.NoError(t, os.WriteFile(path, []byte("report v1"), 0o600))
	fromFile, err := contentHash("", path, "")
	require.NoError(t, err)
	assert.Equal(t, h, fromFile)

	parsed, err := contentHash(h.String(), "", "ignored")
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestParseAddrMe(t *testing.T) {
	old := keyPath
	t.Cleanup(func() { keyPath = old })
	keyPath = filepath.Join(t.TempDir(), "id.key")

	_, err := parseAddr("me")
	assert.Error(t, err)

	require.NoError(t, runKeygen(keygenCmd, nil))
	me, err := parseAddr("me")
	require.NoError(t, err)
	assert.False(t, me.IsZero())

	_, err = parseAddr("zz")
	assert.ErrorContains(t, err, "invalid address")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
