package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeAgentState struct {
	Cooldowns     map[string]int64 `msgpack:"cooldowns"`
	PostsSent     int              `msgpack:"postsSent"`
	RecentHashes  []string         `msgpack:"recentHashes"`
	LastBriefing  int64            `msgpack:"lastBriefing"`
	WatchedTokens []string         `msgpack:"watchedTokens"`
}

// TestStateRoundTrip tests that SaveState followed by RestoreState yields a
// structurally equal value.
func TestStateRoundTrip(t *testing.T) {
	repo := NewStateRepository(setupSwarmDB(t), testLogger())

	want := fakeAgentState{
		Cooldowns:     map[string]int64{"OPEN_HEDGE_SOL": 1700000000, "STAKE": 1700003600},
		PostsSent:     42,
		RecentHashes:  []string{"ai agents meta", "sol defi summer"},
		LastBriefing:  1700000123,
		WatchedTokens: []string{"BONK", "WIF"},
	}
	assert.NoError(t, repo.SaveState("nova-supervisor", want))

	var got fakeAgentState
	found, err := repo.RestoreState("nova-supervisor", &got)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)
}

// TestRestoreState_Missing tests that restoring an unknown agent reports
// not-found without error.
func TestRestoreState_Missing(t *testing.T) {
	repo := NewStateRepository(setupSwarmDB(t), testLogger())

	var got fakeAgentState
	found, err := repo.RestoreState("nova-nobody", &got)
	assert.NoError(t, err)
	assert.False(t, found)
}

// TestSaveState_Overwrites tests that a second save replaces the first.
func TestSaveState_Overwrites(t *testing.T) {
	repo := NewStateRepository(setupSwarmDB(t), testLogger())

	assert.NoError(t, repo.SaveState("nova-scout", fakeAgentState{PostsSent: 1}))
	assert.NoError(t, repo.SaveState("nova-scout", fakeAgentState{PostsSent: 2}))

	var got fakeAgentState
	found, err := repo.RestoreState("nova-scout", &got)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, got.PostsSent)
}

// TestKV_GetBool tests boolean parsing of key/value entries, including the
// nil result for absent keys that runtime overrides rely on.
func TestKV_GetBool(t *testing.T) {
	repo := NewStateRepository(setupSwarmDB(t), testLogger())

	got, err := repo.GetBool("config.dry_run")
	assert.NoError(t, err)
	assert.Nil(t, got, "Absent key should return nil, not false")

	testCases := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"1", true},
		{"yes", true},
		{"on", true},
		{"false", false},
		{"0", false},
		{"banana", false},
	}
	for _, tc := range testCases {
		t.Run(tc.value, func(t *testing.T) {
			assert.NoError(t, repo.Set("config.dry_run", tc.value))
			got, err := repo.GetBool("config.dry_run")
			assert.NoError(t, err)
			if assert.NotNil(t, got) {
				assert.Equal(t, tc.want, *got)
			}
		})
	}
}

// TestKV_SetAndDelete tests plain string round-trip and idempotent delete.
func TestKV_SetAndDelete(t *testing.T) {
	repo := NewStateRepository(setupSwarmDB(t), testLogger())

	assert.NoError(t, repo.Set("audit.decision.abc", `{"action":"OPEN_HEDGE"}`))
	got, err := repo.Get("audit.decision.abc")
	assert.NoError(t, err)
	if assert.NotNil(t, got) {
		assert.Equal(t, `{"action":"OPEN_HEDGE"}`, *got)
	}

	assert.NoError(t, repo.Delete("audit.decision.abc"))
	assert.NoError(t, repo.Delete("audit.decision.abc"))
	got, err = repo.Get("audit.decision.abc")
	assert.NoError(t, err)
	assert.Nil(t, got)
}
