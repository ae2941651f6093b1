package session

// SyncStage names one phase of bringing a new client up to date.
type SyncStage string

const (
	// StageAlways marks payload types that are never staged.
	StageAlways SyncStage = "always"

	StageLoadAssets           SyncStage = "load-assets"
	StageCreateActors         SyncStage = "create-actors"
	StageCreateAnimations     SyncStage = "create-animations"
	StageSetBehaviors         SyncStage = "set-behaviors"
	StageActiveSoundInstances SyncStage = "active-sound-instances"
	StageSyncAnimations       SyncStage = "sync-animations"
)

// stageOrder is the strict execution order of the synchronization stages.
var stageOrder = []SyncStage{
	StageLoadAssets,
	StageCreateActors,
	StageCreateAnimations,
	StageSetBehaviors,
	StageActiveSoundInstances,
	StageSyncAnimations,
}

// stageIndex positions each stage in the order. StageAlways is not staged
// and has no index.
var stageIndex = func() map[SyncStage]int {
	m := make(map[SyncStage]int, len(stageOrder))
	for i, s := range stageOrder {
		m[s] = i
	}
	return m
}()

// syncPhase tracks how far along a client's synchronization is.
type syncPhase int

const (
	// phaseJoining means synchronization has not started; the client has
	// not seen any replicated state.
	phaseJoining syncPhase = iota

	// phaseSyncing means the staged replay is running. The current stage
	// is tracked separately.
	phaseSyncing

	// phaseSynchronized means the replay finished and the queue flushed;
	// traffic flows directly.
	phaseSynchronized
)

// RuleAction says what to do with a message for a client in a given phase
// relative to the rule's stage.
type RuleAction string

const (
	// ActionIgnore drops the message silently: the object it refers to
	// does not exist for this client yet, and the staged replay will
	// deliver its current state anyway.
	ActionIgnore RuleAction = "ignore"

	// ActionQueue defers the message to the post-synchronization flush.
	ActionQueue RuleAction = "queue"

	// ActionAllow sends the message immediately.
	ActionAllow RuleAction = "allow"

	// ActionError marks traffic that should never occur at this point.
	// Logged loudly and dropped; indicates a logic bug, not a runtime
	// condition.
	ActionError RuleAction = "error"
)
