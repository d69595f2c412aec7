package session

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/imaginebot/internal/auth"
	. "github.com/roelfdiedericks/imaginebot/internal/logging"
	"github.com/roelfdiedericks/imaginebot/internal/media"
	"github.com/roelfdiedericks/imaginebot/internal/watermark"
)

// User-facing texts shared across workflows.
const (
	accessDeniedText  = "Access denied. You are not authorized to use this bot."
	adminOnlyText     = "This command is restricted to administrators."
	cancelHintText    = "Type /cancel to cancel the operation."
	busyText          = "Your image is still being generated. Please wait, or /cancel to abort."
	cancelledText     = "Operation cancelled."
	nothingToCancel   = "There is no active operation to cancel."
	cannotSkipText    = "This step cannot be skipped."
	expectTextReply   = "Please reply with text."
	expectImageReply  = "Please send an image."
	expectChoiceReply = "Please pick one of the offered options."
	emptyPromptReply  = "The description cannot be empty."
)

// maxPromptLen bounds free-form text inputs. Telegram messages top out
// at 4096 characters anyway; this keeps the API form fields sane.
const maxPromptLen = 2000

// Engine drives workflows over the record store. It owns no
// transport: callers deliver the returned Reply themselves, and
// completed collections are handed to the Dispatcher.
type Engine struct {
	store      *Store
	gate       *auth.Gate
	wm         *watermark.Toggle
	dispatcher Dispatcher
}

// NewEngine wires the conversation engine.
func NewEngine(store *Store, gate *auth.Gate, wm *watermark.Toggle, d Dispatcher) *Engine {
	return &Engine{store: store, gate: gate, wm: wm, dispatcher: d}
}

// Start begins a workflow for the identity, replacing any session in
// progress. Authorization is checked before any state is created.
func (e *Engine) Start(identity string, w Workflow) (*Reply, error) {
	if !e.gate.IsAuthorized(identity) {
		L_warn("unauthorized access attempt", "user", identity, "workflow", string(w))
		return &Reply{Text: accessDeniedText}, ErrUnauthorized
	}
	if w == WorkflowWatermark && !e.gate.IsAdmin(identity) {
		L_warn("non-admin watermark attempt", "user", identity)
		return &Reply{Text: adminOnlyText}, ErrAdminOnly
	}

	steps := Steps(w)
	if len(steps) == 0 {
		return nil, fmt.Errorf("unknown workflow: %s", w)
	}

	// The first advance runs inside the creation critical section so a
	// concurrent input for the same identity never sees the record
	// before its step pointer is set.
	var rep *Reply
	var req *GenerationRequest
	e.store.Create(identity, w, e.gate.IsAdmin(identity), func(r *Record) {
		rep, req = e.advance(r, steps)
	})
	L_debug("workflow started", "user", identity, "workflow", string(w))

	// First prompt carries the cancel hint; later ones stay short.
	rep.Text = rep.Text + "\n\n" + cancelHintText
	if w == WorkflowWatermark {
		rep.Text = fmt.Sprintf("Watermarking is currently %s.\n\n%s", onOff(e.wm.Enabled()), rep.Text)
	}
	if req != nil {
		// No workflow completes with zero inputs, but keep the path sane.
		e.finish(identity, req, rep)
	}
	return rep, nil
}

// HandleInput feeds one user input to the identity's session. The
// returned Reply is non-nil whenever there is something to tell the
// user, including on validation errors.
func (e *Engine) HandleInput(identity string, in Input) (*Reply, error) {
	var rep *Reply
	var req *GenerationRequest

	err := e.store.Update(identity, func(r *Record) error {
		if r.Processing {
			rep = &Reply{Text: busyText}
			return ErrBusy
		}

		steps := Steps(r.Workflow)
		st := steps[r.Step]

		if in.Skip {
			if !st.Optional {
				verr := &ValidationError{Field: st.Field, Reason: cannotSkipText}
				rep = reprompt(&st, verr)
				return verr
			}
			if st.SkipValue != "" {
				r.Fields[st.Field] = st.SkipValue
			}
			rep, req = e.advance(r, steps)
			return nil
		}

		if verr := collect(r, &st, in); verr != nil {
			rep = reprompt(&st, verr)
			return verr
		}
		rep, req = e.advance(r, steps)
		return nil
	})

	if err == nil && req != nil {
		e.finish(identity, req, rep)
	}
	return rep, err
}

// Cancel destroys the identity's session. In-flight results are
// discarded by the run-token check when they arrive. Unauthorized
// identities get no reply at all, matching the other input paths.
func (e *Engine) Cancel(identity string) (*Reply, error) {
	if !e.gate.IsAuthorized(identity) {
		L_warn("unauthorized cancel attempt", "user", identity)
		return nil, ErrUnauthorized
	}
	if e.store.Delete(identity) {
		L_debug("session cancelled", "user", identity)
		return &Reply{Text: cancelledText}, nil
	}
	return &Reply{Text: nothingToCancel}, ErrNoSession
}

// collect validates one input against the current step and stores it.
// The record is only written once validation has passed.
func collect(r *Record, st *Step, in Input) *ValidationError {
	switch st.Kind {
	case KindText:
		if in.Kind == KindImage {
			return &ValidationError{Field: st.Field, Reason: expectTextReply}
		}
		text := strings.TrimSpace(in.Text)
		if text == "" {
			text = strings.TrimSpace(in.Choice)
		}
		if text == "" {
			return &ValidationError{Field: st.Field, Reason: emptyPromptReply}
		}
		if len(text) > maxPromptLen {
			return &ValidationError{Field: st.Field,
				Reason: fmt.Sprintf("That is too long. Please keep it under %d characters.", maxPromptLen)}
		}
		r.Fields[st.Field] = text

	case KindChoice:
		choice := in.Choice
		if choice == "" {
			choice = in.Text
		}
		if in.Kind == KindImage || choice == "" {
			return &ValidationError{Field: st.Field, Reason: expectChoiceReply}
		}
		canon, ok := st.canonical(choice)
		if !ok {
			return &ValidationError{Field: st.Field, Reason: expectChoiceReply}
		}
		r.Fields[st.Field] = canon

	case KindImage:
		if in.Kind != KindImage || len(in.Image) == 0 {
			return &ValidationError{Field: st.Field, Reason: expectImageReply}
		}
		if mt := media.DetectMIME(in.Image); !media.IsSupported(mt) {
			return &ValidationError{Field: st.Field,
				Reason: fmt.Sprintf("Unsupported image type %s. Please send a JPEG, PNG or WebP image.", mt)}
		}
		r.Images[st.Field] = in.Image
	}
	return nil
}

// advance moves the record to its next applicable step. When the
// table is exhausted it marks the record processing and returns the
// sealed generation request alongside the completion note.
func (e *Engine) advance(r *Record, steps []Step) (*Reply, *GenerationRequest) {
	for r.Step++; r.Step < len(steps); r.Step++ {
		st := steps[r.Step]
		if st.When == nil || st.When(r.Fields) {
			return &Reply{Text: st.Prompt, Keyboard: st.Keyboard}, nil
		}
	}

	r.Processing = true
	r.RunToken = uuid.NewString()

	req := &GenerationRequest{
		ID:       uuid.NewString(),
		Identity: r.Identity,
		Workflow: r.Workflow,
		RunToken: r.RunToken,
		Fields:   make(map[string]string, len(r.Fields)),
		Images:   make(map[string][]byte, len(r.Images)),
	}
	for k, v := range r.Fields {
		req.Fields[k] = v
	}
	for k, v := range r.Images {
		req.Images[k] = v
	}

	note := completionNotes[r.Workflow]
	return &Reply{Text: note}, req
}

// finish routes a sealed request. The watermark workflow resolves
// locally; everything else goes to the dispatcher.
func (e *Engine) finish(identity string, req *GenerationRequest, rep *Reply) {
	if req.Workflow == WorkflowWatermark {
		enabled := req.Fields["state"] == "enable"
		e.wm.SetEnabled(enabled)
		e.store.CompleteRun(identity, req.RunToken)
		rep.Text = fmt.Sprintf("Watermarking is now %s.", onOff(enabled))
		rep.Keyboard = nil
		L_info("watermark state changed", "user", identity, "enabled", enabled)
		return
	}

	L_info("dispatching generation", "user", identity, "workflow", string(req.Workflow), "request", req.ID)
	e.dispatcher.Dispatch(req)
}

func reprompt(st *Step, verr *ValidationError) *Reply {
	return &Reply{
		Text:     verr.Reason + "\n\n" + st.Prompt,
		Keyboard: st.Keyboard,
	}
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
