// Package protocol is the update codec: it renders structured game events as
// comment bodies and classifies fetched comment bodies back into typed
// updates. The thread is both the write target and the read source, so every
// marker the encoder emits must stay recognizable by the decoder across
// versions.
package protocol

import "time"

// Kind discriminates decoded update variants.
type Kind string

const (
	KindRoundStarted Kind = "RoundStarted"
	KindRoundEnded   Kind = "RoundEnded"
	KindStatus       Kind = "StatusSnapshot"
	KindLeaderboard  Kind = "LeaderboardSnapshot"
	KindLifecycle    Kind = "GameLifecycle"
)

// Update is the decoded form of one game comment. The set of variants is
// closed; callers switch on the concrete type or on Kind.
type Update interface {
	Kind() Kind
	isUpdate()
}

// RoundStarted announces a new round. Duration is zero when the comment
// carried no time-remaining line.
type RoundStarted struct {
	Round    int           `json:"round"`
	Prompt   string        `json:"prompt"`
	Duration time.Duration `json:"duration,omitempty"`
}

func (*RoundStarted) Kind() Kind { return KindRoundStarted }
func (*RoundStarted) isUpdate()  {}

// RoundEnded reports the winner of a finished round. Points is zero when the
// comment did not include an award.
type RoundEnded struct {
	Winner string `json:"winner"`
	Points int    `json:"points,omitempty"`
}

func (*RoundEnded) Kind() Kind { return KindRoundEnded }
func (*RoundEnded) isUpdate()  {}

// StatusSnapshot mirrors the labeled fields of a status comment. Fields the
// comment omitted stay at their zero values.
type StatusSnapshot struct {
	Round         int           `json:"round,omitempty"`
	Submissions   int           `json:"submissions,omitempty"`
	TimeRemaining time.Duration `json:"time_remaining,omitempty"`
}

func (*StatusSnapshot) Kind() Kind { return KindStatus }
func (*StatusSnapshot) isUpdate()  {}

// LeaderboardEntry is one ranked line of a leaderboard comment.
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	Player string `json:"player"`
	Points int    `json:"points"`
	Wins   int    `json:"wins,omitempty"`
}

// LeaderboardSnapshot carries the ranked standings parsed from a leaderboard
// comment, best first.
type LeaderboardSnapshot struct {
	Entries []LeaderboardEntry `json:"entries"`
}

func (*LeaderboardSnapshot) Kind() Kind { return KindLeaderboard }
func (*LeaderboardSnapshot) isUpdate()  {}

// LifecycleState is a coarse game phase announced in the thread.
type LifecycleState string

const (
	LifecycleStarted LifecycleState = "STARTED"
	LifecyclePaused  LifecycleState = "PAUSED"
	LifecycleResumed LifecycleState = "RESUMED"
	LifecycleEnded   LifecycleState = "ENDED"
)

// Lifecycle reports a game phase transition.
type Lifecycle struct {
	State LifecycleState `json:"state"`
}

func (*Lifecycle) Kind() Kind { return KindLifecycle }
func (*Lifecycle) isUpdate()  {}
