package process

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityComparison(t *testing.T) {
	a := Identity{PID: 10, CreateTime: 1000, Exe: "game"}

	assert.True(t, a.SameInstance(a))
	assert.True(t, a.SameProgram(Identity{PID: 11, CreateTime: 2000, Exe: "game"}))
	assert.False(t, a.SameInstance(Identity{PID: 10, CreateTime: 2000, Exe: "game"}), "pid reuse")
	assert.False(t, a.SameProgram(Identity{Exe: "other"}))
	assert.False(t, Identity{}.SameProgram(Identity{}), "unknown programs never match")
}

func TestIdentifySelf(t *testing.T) {
	id, err := Identify(ProcessID(os.Getpid()))
	require.NoError(t, err)
	assert.Equal(t, ProcessID(os.Getpid()), id.PID)
	assert.NotZero(t, id.CreateTime)
	assert.NotEmpty(t, id.Exe)
}

func TestMatchName(t *testing.T) {
	assert.True(t, MatchName("Game.exe", "game"))
	assert.True(t, MatchName("/opt/game/bin/game", "game"))
	assert.True(t, MatchName("game", "GAME.EXE"))
	assert.False(t, MatchName("gamed", "game"))
	assert.False(t, MatchName("", ""))
}
