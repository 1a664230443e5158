package domain

import "time"

// CheckpointType tags the discriminated-union payload a Checkpoint carries.
// The state machine emits one (sometimes more than one, e.g. one
// WorldCompleted per world) at each phase boundary.
type CheckpointType string

const (
	// CheckpointWorktreeCreated is emitted once per world during PhaseProvision.
	CheckpointWorktreeCreated CheckpointType = "worktree_created"
	// CheckpointWorldsSpawned is emitted once at the start of PhaseExecute.
	CheckpointWorldsSpawned CheckpointType = "worlds_spawned"
	// CheckpointWorldCompleted is emitted once per world as it reaches a terminal state.
	CheckpointWorldCompleted CheckpointType = "world_completed"
	// CheckpointEvaluationDone is emitted once a winner is selected in PhaseEvaluate.
	CheckpointEvaluationDone CheckpointType = "evaluation_done"
	// CheckpointMergeReady is emitted once merge inputs are staged in PhasePrepareMerge.
	CheckpointMergeReady CheckpointType = "merge_ready"
)

// WorktreeCreatedPayload records that a world's worktree exists and where.
type WorktreeCreatedPayload struct {
	WorldID WorldID `json:"world_id"`
	Path    string  `json:"path"`
}

// WorldsSpawnedPayload records the full set of worlds fanned out for a run.
type WorldsSpawnedPayload struct {
	WorldIDs []WorldID `json:"world_ids"`
}

// WorldCompletedPayload records one world's terminal outcome.
type WorldCompletedPayload struct {
	WorldID WorldID     `json:"world_id"`
	Status  WorldStatus `json:"status"`
	Score   float64     `json:"score"`
}

// EvaluationDonePayload records the winner selection.
type EvaluationDonePayload struct {
	WinnerID   WorldID `json:"winner_id"`
	Confidence float64 `json:"confidence"`
}

// MergeReadyPayload records that merge inputs are staged.
type MergeReadyPayload struct {
	MergeRef string `json:"merge_ref"`
}

// Checkpoint is a durable, appended-only record of run progress, sufficient
// on its own for the state machine to resume without consulting any other
// component's live state.
type Checkpoint struct {
	ID        string
	RunID     string
	Type      CheckpointType
	WorldID   *WorldID
	Payload   []byte // JSON-encoded payload matching Type
	CreatedAt time.Time
}

// Artifact is a content-addressed record of a file the winning world
// produced, tracked so the result aggregator can report the change set
// without re-reading the worktree.
type Artifact struct {
	RunID   string
	WorldID WorldID
	Path    string
	Size    int64
}
