package bridge

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/study-groups/quasar/internal/domain"
)

type fakeSlots struct {
	mu      sync.Mutex
	initErr error
	inits   [][4]int
	sprites []domain.Sprite
}

func (f *fakeSlots) InitSlot(index, cols, rows, fps int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return f.initErr
	}
	f.inits = append(f.inits, [4]int{index, cols, rows, fps})
	return nil
}

func (f *fakeSlots) SpawnSprite(index int, sprite domain.Sprite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sprites = append(f.sprites, sprite)
	return nil
}

// collect gathers replies synchronously; HandleSpawn replies before
// returning.
func collect() (func(msg any), *[]any) {
	var replies []any
	return func(msg any) { replies = append(replies, msg) }, &replies
}

func TestFactory_UnknownGameReplies(t *testing.T) {
	f := NewFactory(&fakeSlots{}, "", "", nil, nil)
	reply, replies := collect()

	f.HandleSpawn(reply, domain.SpawnRequest{Game: "nope", Channel: 1})

	require.Len(t, *replies, 1)
	errMsg, ok := (*replies)[0].(domain.BridgeErrorMsg)
	require.True(t, ok)
	assert.Equal(t, "bridge.error", errMsg.T)
	assert.Contains(t, errMsg.Error, "unknown game")
	assert.Empty(t, f.Processes())
}

func TestFactory_EngineGameInitializesSlotWithDemoSprites(t *testing.T) {
	slots := &fakeSlots{}
	f := NewFactory(slots, "", "", nil, nil)
	reply, replies := collect()

	f.HandleSpawn(reply, domain.SpawnRequest{Game: "pulsar", Channel: 7})

	require.Len(t, *replies, 1)
	ready, ok := (*replies)[0].(domain.BridgeReadyMsg)
	require.True(t, ok)
	assert.Equal(t, "bridge.ready", ready.T)
	assert.Equal(t, 7, ready.Channel)

	require.Len(t, slots.inits, 1)
	assert.Equal(t, [4]int{7, engineCols, engineRows, engineFPS}, slots.inits[0])
	assert.Len(t, slots.sprites, 2)
}

func TestFactory_EngineSlotFailurePropagates(t *testing.T) {
	slots := &fakeSlots{initErr: assert.AnError}
	f := NewFactory(slots, "", "", nil, nil)
	reply, replies := collect()

	f.HandleSpawn(reply, domain.SpawnRequest{Game: "pulsar", Channel: 7})

	require.Len(t, *replies, 1)
	_, ok := (*replies)[0].(domain.BridgeErrorMsg)
	require.True(t, ok)
	assert.Empty(t, slots.sprites)
}

func TestFactory_BuiltinGameAcksWithoutProcess(t *testing.T) {
	f := NewFactory(&fakeSlots{}, "", "", nil, nil)
	reply, replies := collect()

	f.HandleSpawn(reply, domain.SpawnRequest{Game: "flax", Channel: 0})

	require.Len(t, *replies, 1)
	ready, ok := (*replies)[0].(domain.BridgeReadyMsg)
	require.True(t, ok)
	assert.Equal(t, "builtin", ready.Status)
	assert.Empty(t, f.Processes())
}

func TestFactory_ProcessMissingBinary(t *testing.T) {
	f := NewFactory(&fakeSlots{}, t.TempDir(), t.TempDir(), nil, nil)
	reply, replies := collect()

	f.HandleSpawn(reply, domain.SpawnRequest{Game: "trax", Channel: 0})

	require.Len(t, *replies, 1)
	errMsg, ok := (*replies)[0].(domain.BridgeErrorMsg)
	require.True(t, ok)
	assert.Contains(t, errMsg.Error, "binary not found")
}

// writeBridgeTree lays out a fake TETRA_SRC with an executable bridge
// script and a TETRA_DIR with the game's config.
func writeBridgeTree(t *testing.T, game, script string) (tetraDir, tetraSrc string) {
	t.Helper()
	tetraDir = t.TempDir()
	tetraSrc = t.TempDir()

	binDir := filepath.Join(tetraSrc, "bash", "games")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "game_bridge"), []byte(script), 0o755))

	cfgDir := filepath.Join(tetraDir, "orgs", "tetra", "games", game)
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "bridge.json"), []byte(`{"port":1985}`), 0o644))
	return tetraDir, tetraSrc
}

func TestFactory_ProcessMissingConfig(t *testing.T) {
	tetraDir, tetraSrc := writeBridgeTree(t, "estoface", "#!/bin/sh\nexit 0\n")
	f := NewFactory(&fakeSlots{}, tetraDir, tetraSrc, nil, nil)
	reply, replies := collect()

	// Binary exists but only estoface has a config.
	f.HandleSpawn(reply, domain.SpawnRequest{Game: "trax", Channel: 0})

	require.Len(t, *replies, 1)
	errMsg, ok := (*replies)[0].(domain.BridgeErrorMsg)
	require.True(t, ok)
	assert.Contains(t, errMsg.Error, "config not found")
}

func TestFactory_ProcessSpawnSuperviseAndKill(t *testing.T) {
	tetraDir, tetraSrc := writeBridgeTree(t, "trax", "#!/bin/sh\nsleep 30\n")

	var closedMu sync.Mutex
	var closed []string
	onClose := func(game string, channel int, err error) {
		closedMu.Lock()
		defer closedMu.Unlock()
		closed = append(closed, game)
	}

	f := NewFactory(&fakeSlots{}, tetraDir, tetraSrc, nil, onClose)
	reply, replies := collect()

	f.HandleSpawn(reply, domain.SpawnRequest{Game: "trax", Channel: 2})

	require.Len(t, *replies, 1)
	ready, ok := (*replies)[0].(domain.BridgeReadyMsg)
	require.True(t, ok)
	assert.Equal(t, "trax", ready.Game)

	procs := f.Processes()
	require.Len(t, procs, 1)
	assert.Equal(t, "trax", procs[0].Game)
	assert.Equal(t, 2, procs[0].Channel)
	assert.Greater(t, procs[0].PID, 0)

	// A second spawn for the same game and channel is rejected while the
	// first still runs.
	dupReply, dupReplies := collect()
	f.HandleSpawn(dupReply, domain.SpawnRequest{Game: "trax", Channel: 2})
	require.Len(t, *dupReplies, 1)
	dupErr, ok := (*dupReplies)[0].(domain.BridgeErrorMsg)
	require.True(t, ok)
	assert.Contains(t, dupErr.Error, "already running")

	// Kill reaps the process; the registry entry goes away and onClose
	// fires. There is no restart.
	f.Kill("trax", 2)
	require.Eventually(t, func() bool {
		return len(f.Processes()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		closedMu.Lock()
		defer closedMu.Unlock()
		return len(closed) == 1 && closed[0] == "trax"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFactory_ProcessExitDeregistersWithoutRestart(t *testing.T) {
	tetraDir, tetraSrc := writeBridgeTree(t, "trax", "#!/bin/sh\nexit 0\n")
	f := NewFactory(&fakeSlots{}, tetraDir, tetraSrc, nil, nil)
	reply, replies := collect()

	f.HandleSpawn(reply, domain.SpawnRequest{Game: "trax", Channel: 0})
	require.Len(t, *replies, 1)
	require.IsType(t, domain.BridgeReadyMsg{}, (*replies)[0])

	require.Eventually(t, func() bool {
		return len(f.Processes()) == 0
	}, 5*time.Second, 10*time.Millisecond)

	// The slot is spawnable again after the exit.
	again, againReplies := collect()
	f.HandleSpawn(again, domain.SpawnRequest{Game: "trax", Channel: 0})
	require.Len(t, *againReplies, 1)
	require.IsType(t, domain.BridgeReadyMsg{}, (*againReplies)[0])
}

func TestFactory_KillAll(t *testing.T) {
	tetraDir, tetraSrc := writeBridgeTree(t, "trax", "#!/bin/sh\nsleep 30\n")
	f := NewFactory(&fakeSlots{}, tetraDir, tetraSrc, nil, nil)

	for ch := 0; ch < 3; ch++ {
		reply, replies := collect()
		f.HandleSpawn(reply, domain.SpawnRequest{Game: "trax", Channel: ch})
		require.Len(t, *replies, 1)
		require.IsType(t, domain.BridgeReadyMsg{}, (*replies)[0])
	}
	require.Len(t, f.Processes(), 3)

	f.KillAll()
	require.Eventually(t, func() bool {
		return len(f.Processes()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFactory_RegisterAddsGame(t *testing.T) {
	slots := &fakeSlots{}
	f := NewFactory(slots, "", "", map[string]Kind{}, nil)
	reply, replies := collect()

	f.HandleSpawn(reply, domain.SpawnRequest{Game: "orbit", Channel: 0})
	require.IsType(t, domain.BridgeErrorMsg{}, (*replies)[0])

	f.Register("orbit", KindEngine)
	reply2, replies2 := collect()
	f.HandleSpawn(reply2, domain.SpawnRequest{Game: "orbit", Channel: 0})
	require.IsType(t, domain.BridgeReadyMsg{}, (*replies2)[0])
	assert.Len(t, slots.inits, 1)
}
