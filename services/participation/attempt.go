package participation

import (
	"context"

	"github.com/goldcoin/popnode/model"
	"github.com/looplab/fsm"
)

const (
	AttemptIdle            = "Idle"
	AttemptLotteryComputed = "LotteryComputed"
	AttemptWon             = "Won"
	AttemptLost            = "Lost"
	AttemptCandidateBuilt  = "CandidateBuilt"
	AttemptBroadcast       = "Broadcast"
	AttemptAccepted        = "Accepted"
	AttemptRejected        = "Rejected"
)

const (
	eventCompute   = "COMPUTE"
	eventWin       = "WIN"
	eventLose      = "LOSE"
	eventBuild     = "BUILD"
	eventBroadcast = "BROADCAST"
	eventAccept    = "ACCEPT"
	eventReject    = "REJECT"
)

// newAttemptFSM creates the state machine of one lottery attempt.
// The finite state machine has the following states:
// - Idle
// - LotteryComputed
// - Won, Lost
// - CandidateBuilt
// - Broadcast
// - Accepted, Rejected
func newAttemptFSM() *fsm.FSM {
	return fsm.NewFSM(
		AttemptIdle,
		fsm.Events{
			{Name: eventCompute, Src: []string{AttemptIdle}, Dst: AttemptLotteryComputed},
			{Name: eventWin, Src: []string{AttemptLotteryComputed}, Dst: AttemptWon},
			{Name: eventLose, Src: []string{AttemptLotteryComputed}, Dst: AttemptLost},
			{Name: eventBuild, Src: []string{AttemptWon}, Dst: AttemptCandidateBuilt},
			{Name: eventBroadcast, Src: []string{AttemptCandidateBuilt}, Dst: AttemptBroadcast},
			{Name: eventAccept, Src: []string{AttemptBroadcast}, Dst: AttemptAccepted},
			{Name: eventReject, Src: []string{AttemptWon, AttemptCandidateBuilt, AttemptBroadcast}, Dst: AttemptRejected},
		},
		fsm.Callbacks{},
	)
}

// BlockCandidate is a block produced by a lottery winner.
type BlockCandidate struct {
	Block    *model.Block
	Lottery  *model.LotteryResult
	Producer []byte
	Fees     uint64
}

// Attempt is one lottery draw of the local producer for a height.
type Attempt struct {
	Draw      Draw
	Lottery   *model.LotteryResult
	Candidate *BlockCandidate

	fsm *fsm.FSM
}

func newAttempt(draw Draw) *Attempt {
	return &Attempt{Draw: draw, fsm: newAttemptFSM()}
}

func (a *Attempt) State() string {
	return a.fsm.Current()
}

// Won reports whether the draw produced a candidate.
func (a *Attempt) Won() bool {
	return a.Candidate != nil
}

// fire ignores cancellation of ctx: a yielded attempt still records its outcome.
func (a *Attempt) fire(ctx context.Context, event string) error {
	return a.fsm.Event(context.WithoutCancel(ctx), event)
}

// Broadcast marks the candidate as accepted locally and sent to peers.
func (a *Attempt) Broadcast(ctx context.Context) error {
	return a.fire(ctx, eventBroadcast)
}

// Accept marks the candidate as part of the main chain.
func (a *Attempt) Accept(ctx context.Context) error {
	return a.fire(ctx, eventAccept)
}

// Reject marks the candidate as refused or superseded by another block.
func (a *Attempt) Reject(ctx context.Context) error {
	return a.fire(ctx, eventReject)
}
