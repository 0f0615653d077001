package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveAddressDistinct(t *testing.T) {
	creator := Address{1}
	other := Address{2}

	task := TaskAddress(creator, 0)
	addrs := []Address{
		PlatformAddress(),
		CreatorCounterAddress(creator),
		task,
		TaskAddress(creator, 1),
		TaskAddress(other, 0),
		TemplateAddress(creator, 0),
		AgentProfileAddress(creator),
		DisputeAddress(task),
		VoteAddress(DisputeAddress(task), other),
	}
	seen := make(map[Address]bool)
	for _, a := range addrs {
		seen[a] = true
	}
	assert.Len(t, seen, 9)
}

func TestDeriveAddressDeterministic(t *testing.T) {
	creator := Address{7, 7, 7}
	assert.Equal(t, TaskAddress(creator, 42), TaskAddress(creator, 42))
	assert.NotEqual(t, TaskAddress(creator, 42), TemplateAddress(creator, 42))
}

func TestDeriveAddressLengthPrefixed(t *testing.T) {
	a := DeriveAddress("x", []byte("ab"), []byte("c"))
	b := DeriveAddress("x", []byte("a"), []byte("bc"))
	assert.NotEqual(t, a, b)
}

func TestAddressText(t *testing.T) {
	addr := TaskAddress(Address{9}, 3)

	data, err := json.Marshal(struct {
		A Address `json:"a"`
	}{addr})
	require.NoError(t, err)

	var out struct {
		A Address `json:"a"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, addr, out.A)

	_, err = ParseAddress("abc")
	assert.Error(t, err)
}

func TestRulingVerdict(t *testing.T) {
	_, ok := RulingPending.Verdict()
	assert.False(t, ok)
	_, ok = Ruling("bogus").Verdict()
	assert.False(t, ok)

	for _, r := range []Ruling{RulingCreatorWins, RulingAgentWins, RulingSplit} {
		v, ok := r.Verdict()
		require.True(t, ok)
		assert.Equal(t, r, v.Ruling())
	}
}

func TestDisputeReasonSelectable(t *testing.T) {
	for _, r := range []DisputeReason{ReasonQualityIssue, ReasonDeadlineMissed, ReasonPlagiarism, ReasonOther} {
		assert.True(t, r.Valid(), r)
		assert.True(t, r.Selectable(), r)
	}
	assert.True(t, ReasonRejectionLimit.Valid())
	assert.False(t, ReasonRejectionLimit.Selectable())
	assert.False(t, DisputeReason("boredom").Selectable())
}
