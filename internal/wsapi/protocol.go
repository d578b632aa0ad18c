package wsapi

import (
	"github.com/park285/Cheese-Endgame-Trainer/internal/domain"
	"github.com/park285/Cheese-Endgame-Trainer/internal/positions"
	"github.com/park285/Cheese-Endgame-Trainer/internal/trainer"
)

// Command types accepted from the client.
const (
	CmdStart    = "start"
	CmdMove     = "move"
	CmdNext     = "next"
	CmdContinue = "continue"
	CmdTakeBack = "takeback"
	CmdStats    = "stats"
	CmdResume   = "resume"
	CmdProfile  = "profile"
	CmdList     = "positions"
)

// Envelope types pushed to the client.
const (
	MsgHello      = "hello"
	MsgSnapshot   = "snapshot"
	MsgMoveResult = "move_result"
	MsgStats      = "stats"
	MsgProfile    = "profile"
	MsgPositions  = "positions"
	MsgAck        = "ack"
	MsgError      = "error"
)

type Command struct {
	ID         string `json:"id,omitempty"`
	Type       string `json:"type"`
	Category   string `json:"category,omitempty"`
	PositionID string `json:"position_id,omitempty"`
	Move       string `json:"move,omitempty"`
}

// Envelope is every server-to-client message. ID echoes the command it
// answers; pushed snapshots carry no ID.
type Envelope struct {
	Type       string                  `json:"type"`
	ID         string                  `json:"id,omitempty"`
	ConnID     string                  `json:"conn_id,omitempty"`
	Snapshot   *trainer.Snapshot       `json:"snapshot,omitempty"`
	MoveResult *trainer.MoveResult     `json:"move_result,omitempty"`
	Stats      *trainer.Stats          `json:"stats,omitempty"`
	Profile    *domain.TrainingProfile `json:"profile,omitempty"`
	Positions  []positions.Position    `json:"positions,omitempty"`
	Error      string                  `json:"error,omitempty"`
}
