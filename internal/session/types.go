// Package session implements the per-user conversation state machine:
// one record per Telegram identity, walked step by step through a
// workflow until enough fields are collected to dispatch a generation.
package session

import (
	"errors"
	"fmt"
	"time"
)

// Workflow identifies one multi-step dialogue.
type Workflow string

const (
	WorkflowGenerate      Workflow = "generate"
	WorkflowGenerateV2    Workflow = "generatev2"
	WorkflowUpscale       Workflow = "upscale"
	WorkflowReimagine     Workflow = "reimagine"
	WorkflowOutpaint      Workflow = "outpaint"
	WorkflowErase         Workflow = "erase"
	WorkflowInpaint       Workflow = "inpaint"
	WorkflowSearchReplace Workflow = "search_replace"
	WorkflowWatermark     Workflow = "watermark"
)

// InputKind classifies what a step expects from the user.
type InputKind int

const (
	KindText InputKind = iota
	KindChoice
	KindImage
)

// Input is one piece of user input delivered to the engine.
type Input struct {
	Kind   InputKind
	Text   string
	Choice string
	Image  []byte
	Skip   bool // true for /skip
}

// Record is the conversation state for one identity. All access goes
// through Store, which serializes per identity.
type Record struct {
	Identity   string
	Workflow   Workflow
	Step       int // index into the workflow's step table
	Processing bool
	RunToken   string // set when Processing; stamps the in-flight request

	Fields map[string]string
	Images map[string][]byte

	Admin        bool
	CreatedAt    time.Time
	LastActivity time.Time

	// Timeout bookkeeping, written only by the supervisor
	LastNudge   time.Time
	MissedSteps int
}

// Reply is what the engine wants sent back to the user.
type Reply struct {
	Text     string
	Keyboard [][]string // rows of choice labels, nil for plain messages
}

// GenerationRequest is a completed collection, ready for the backend.
// Fields and Images are copies; the record they came from may be
// deleted or replaced while the request is in flight.
type GenerationRequest struct {
	ID       string
	Identity string
	Workflow Workflow
	RunToken string
	Fields   map[string]string
	Images   map[string][]byte
}

// Dispatcher runs a generation request asynchronously.
type Dispatcher interface {
	Dispatch(req *GenerationRequest)
}

var (
	ErrNoSession    = errors.New("no active session")
	ErrBusy         = errors.New("a request is already being processed")
	ErrUnauthorized = errors.New("user is not authorized")
	ErrAdminOnly    = errors.New("admin access required")
)

// ValidationError reports input rejected by the current step. The
// record is left unchanged when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
