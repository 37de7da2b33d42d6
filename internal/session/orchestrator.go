package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vantasec/redloop/internal/budget"
	"github.com/vantasec/redloop/internal/events"
	"github.com/vantasec/redloop/internal/hitl"
	"github.com/vantasec/redloop/internal/observability"
	"github.com/vantasec/redloop/internal/overlay"
	"github.com/vantasec/redloop/internal/provider"
	"github.com/vantasec/redloop/internal/retry"
	"github.com/vantasec/redloop/internal/router"
	"github.com/vantasec/redloop/pkg/models"
)

// ErrPaused is returned by RunStep while the session waits for operator
// input; Run polls until the feedback machine returns to ACTIVE.
var ErrPaused = errors.New("session: paused awaiting operator input")

// Limits bounds the autonomous loop. Zero values mean unlimited.
type Limits struct {
	MaxSteps    int
	MaxDuration time.Duration
}

// Orchestrator drives sessions: budget checks, model calls, tool dispatch,
// HITL gating, and overlay maintenance between steps. One model call or
// tool call is in flight at a time per session.
type Orchestrator struct {
	provider  provider.Provider
	budgets   *budget.Registry
	router    *router.Router
	emitter   *events.Emitter
	feedback  *hitl.Manager
	autoPause hitl.AutoPause
	overlays  *overlay.Manager
	optimizer *overlay.Optimizer
	reporter  Reporter
	limits    Limits
	maxTokens int
	metrics   *observability.Metrics
	logger    *slog.Logger
	retry     retry.Config

	pollInterval    time.Duration
	feedbackTimeout time.Duration

	interpretedTicket   string
	interpretedFeedback int
}

// OrchestratorOptions wires an Orchestrator. Provider and Router are
// required; everything else is optional and degrades gracefully.
type OrchestratorOptions struct {
	Provider  provider.Provider
	Budgets   *budget.Registry
	Router    *router.Router
	Emitter   *events.Emitter
	Feedback  *hitl.Manager
	AutoPause hitl.AutoPause
	Overlays  *overlay.Manager
	Optimizer *overlay.Optimizer
	Reporter  Reporter
	Limits    Limits
	MaxTokens int
	Metrics   *observability.Metrics
	Logger    *slog.Logger

	// FeedbackTimeout bounds one HITL wait in Run; 0 waits until the
	// context is done.
	FeedbackTimeout time.Duration
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Provider == nil {
		return nil, errors.New("session: provider is required")
	}
	if opts.Router == nil {
		return nil, errors.New("session: router is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8192
	}
	return &Orchestrator{
		provider:        opts.Provider,
		budgets:         opts.Budgets,
		router:          opts.Router,
		emitter:         opts.Emitter,
		feedback:        opts.Feedback,
		autoPause:       opts.AutoPause,
		overlays:        opts.Overlays,
		optimizer:       opts.Optimizer,
		reporter:        opts.Reporter,
		limits:          opts.Limits,
		maxTokens:       opts.MaxTokens,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		retry:           retry.DefaultConfig(),
		pollInterval:    250 * time.Millisecond,
		feedbackTimeout: opts.FeedbackTimeout,
	}, nil
}

// Run drives the session until completion, limit exhaustion, or a fatal
// provider failure. Limit exhaustion forces finalization instead of
// raising an error.
func (o *Orchestrator) Run(ctx context.Context, s *Session) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.limitsExhausted(s) {
			o.logger.Info("limits exhausted, forcing finalization",
				"step", s.Step,
				"elapsed", s.Elapsed().Round(time.Second))
			return o.finalize(ctx, s)
		}

		err := o.RunStep(ctx, s)
		switch {
		case err == nil:
			if s.Status == StatusComplete {
				return o.finalize(ctx, s)
			}
		case errors.Is(err, ErrPaused), errors.Is(err, hitl.ErrRejected):
			if waitErr := o.waitForOperator(ctx, s); waitErr != nil {
				o.logger.Warn("operator wait ended, finalizing", "error", waitErr)
				return o.finalize(ctx, s)
			}
		default:
			s.Status = StatusFailed
			o.emit(ctx, models.EventError, map[string]any{"error": err.Error()})
			return err
		}
	}
}

// RunStep executes one step: HITL gate, overlay optimization, budget
// enforcement, one model call, and dispatch of the returned tool calls.
// A paused session does not advance its step counter.
func (o *Orchestrator) RunStep(ctx context.Context, s *Session) error {
	if o.feedback != nil {
		if err := o.feedback.Gate(); err != nil {
			s.Status = StatusPaused
			if errors.Is(err, hitl.ErrRejected) {
				return err
			}
			return ErrPaused
		}
		// Resuming from an approved confirmation: run the held tool call
		// with the approved parameters before anything else.
		if approval := o.feedback.TakeApproval(); approval != nil {
			o.executeToolCall(ctx, s, models.ToolCall{
				ID:    approval.ToolCallID,
				Name:  approval.ToolName,
				Input: approval.Parameters,
			})
			s.Status = StatusRunning
			o.finishStep(ctx, s)
			return nil
		}
	}
	s.Status = StatusRunning

	o.emit(ctx, models.EventStepStarted, map[string]any{"step": s.Step})

	if o.optimizer != nil {
		o.optimizer.MaybeOptimize(ctx, s.Step)
	}

	conv := s.Conversation
	if !o.provider.SupportsReasoningCarryover() {
		budget.StripReasoning(conv)
	}
	if o.budgets != nil {
		if controller := o.budgets.For(s.ID); controller != nil {
			if err := controller.EnsureWithinBudget(ctx, conv); err != nil {
				// Submit the oversized conversation anyway; a provider
				// overflow then ends the step fatally.
				o.logger.Warn("conversation still over budget, submitting anyway", "error", err)
				o.emit(ctx, models.EventError, map[string]any{
					"error":       err.Error(),
					"recoverable": true,
				})
			}
		}
	}

	resp, err := o.complete(ctx, s)
	if err != nil {
		return fmt.Errorf("model call failed: %w", err)
	}

	conv.Telemetry = resp.Usage
	conv.Append(&resp.Message)
	o.emitAssistantBlocks(ctx, &resp.Message)

	toolCalls := resp.Message.ToolCalls()
	if len(toolCalls) == 0 {
		s.Status = StatusComplete
		o.finishStep(ctx, s)
		return nil
	}

	for i, call := range toolCalls {
		confidence := extractConfidence(call.Input)
		if pause, reason := o.autoPause.Evaluate(call.Name, call.Input, confidence); pause && o.feedback != nil {
			if _, err := o.feedback.RequestPause(ctx, call.Name, call.ID, call.Input, confidence, reason); err != nil {
				o.logger.Warn("auto-pause rejected", "tool", call.Name, "error", err)
			} else {
				// Sibling calls from the same turn are not held with the
				// ticket. Resolve them now: a replayed tool_call with no
				// matching result is rejected by the provider.
				o.resolveUndispatched(ctx, s, toolCalls[i+1:])
				s.Status = StatusPaused
				return ErrPaused
			}
		}
		o.executeToolCall(ctx, s, *call)
	}

	o.finishStep(ctx, s)
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, s *Session) (*provider.Response, error) {
	system := s.Conversation.System
	if o.overlays != nil {
		if ov, active := o.overlays.View(s.Step); active {
			system += "\n\n" + ov.Render()
		}
	}

	var tools []provider.ToolSpec
	for _, tool := range o.router.Registry().List() {
		tools = append(tools, provider.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}

	req := &provider.Request{
		Model:       s.Conversation.Model,
		System:      system,
		Messages:    messagesValue(s.Conversation.Messages),
		Tools:       tools,
		MaxTokens:   o.maxTokens,
		Temperature: -1,
	}

	ctx, span := observability.StartModelCall(ctx, o.provider.Name(), req.Model)
	start := time.Now()
	resp, err := retry.DoWithValue(ctx, o.retry, func() (*provider.Response, error) {
		return o.provider.Complete(ctx, req)
	})
	observability.EndSpan(span, err)
	if o.metrics != nil {
		o.metrics.ModelRequestDuration.WithLabelValues(o.provider.Name(), req.Model).
			Observe(time.Since(start).Seconds())
		if err == nil {
			o.metrics.ModelTokensUsed.WithLabelValues(o.provider.Name(), req.Model, "prompt").
				Add(float64(resp.Usage.InputTokens))
			o.metrics.ModelTokensUsed.WithLabelValues(o.provider.Name(), req.Model, "completion").
				Add(float64(resp.OutputTokens))
		}
	}
	return resp, err
}

func (o *Orchestrator) executeToolCall(ctx context.Context, s *Session, call models.ToolCall) {
	o.emit(ctx, models.EventToolStarted, map[string]any{
		"tool":    call.Name,
		"tool_id": call.ID,
	})

	res := o.router.Resolve(call)
	ctx, span := observability.StartToolCall(ctx, call.Name, res.Fallback)
	start := time.Now()
	result := o.router.Dispatch(ctx, call)
	observability.EndSpan(span, nil)

	status := "ok"
	if result.IsError() {
		status = "error"
	}
	if o.metrics != nil {
		routed := "registered"
		if res.Fallback {
			routed = "fallback"
		}
		o.metrics.ToolCallCounter.WithLabelValues(call.Name, status, routed).Inc()
		o.metrics.ToolCallDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}

	s.Conversation.Append(models.NewToolResultMessage(result))
	o.emit(ctx, models.EventToolFinished, map[string]any{
		"tool":    call.Name,
		"tool_id": call.ID,
		"status":  status,
	})
}

// resolveUndispatched records error results for tool calls skipped because
// an earlier call from the same assistant turn paused the session. The
// model can re-issue them after the operator resumes.
func (o *Orchestrator) resolveUndispatched(ctx context.Context, s *Session, calls []*models.ToolCall) {
	for _, call := range calls {
		result := models.ErrorResult(call.ID,
			"not executed: an earlier tool call from this turn is held for operator review; re-issue if still needed")
		s.Conversation.Append(models.NewToolResultMessage(result))
		o.emit(ctx, models.EventToolFinished, map[string]any{
			"tool":    call.Name,
			"tool_id": call.ID,
			"status":  "skipped",
		})
	}
}

func (o *Orchestrator) finishStep(ctx context.Context, s *Session) {
	o.emit(ctx, models.EventStepFinished, map[string]any{"step": s.Step})
	s.Step++
	if o.metrics != nil {
		o.metrics.StepCounter.WithLabelValues(s.OperationID).Inc()
	}
}

// finalize generates the report and emits the completion event. Reporter
// failures degrade to an empty report rather than an error.
func (o *Orchestrator) finalize(ctx context.Context, s *Session) error {
	if s.Status != StatusComplete {
		s.Status = StatusFinalized
	}
	if o.reporter != nil {
		report, err := o.reporter.GenerateReport(ctx, s)
		if err != nil {
			o.logger.Warn("report generation failed", "error", err)
		} else {
			s.FinalReport = report
		}
	}
	if s.FinalReport != "" {
		o.emit(ctx, models.EventReportContent, map[string]any{
			"content": s.FinalReport,
		})
	}
	o.emit(ctx, models.EventAssessmentComplete, map[string]any{
		"steps":   s.Step,
		"status":  string(s.Status),
		"elapsed": s.Elapsed().Round(time.Second).String(),
	})
	return nil
}

// waitForOperator polls the feedback gate until the state machine returns
// to ACTIVE, the context ends, or the feedback timeout elapses. While
// waiting, newly submitted feedback is interpreted by the model so the
// operator has something to confirm.
func (o *Orchestrator) waitForOperator(ctx context.Context, s *Session) error {
	var deadline <-chan time.Time
	if o.feedbackTimeout > 0 {
		timer := time.NewTimer(o.feedbackTimeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errors.New("operator feedback timed out")
		case <-ticker.C:
			if o.feedback == nil || o.feedback.Gate() == nil {
				return nil
			}
			o.interpretFeedback(ctx, s)
		}
	}
}

// interpretFeedback produces the agent's reading of newly submitted
// operator feedback and moves the ticket to AWAITING_CONFIRMATION. One
// attempt is made per feedback submission; failures are logged and wait
// for further operator input.
func (o *Orchestrator) interpretFeedback(ctx context.Context, s *Session) {
	if o.feedback.State() != hitl.StateAwaitingFeedback {
		return
	}
	ticket := o.feedback.Ticket()
	if ticket == nil || len(ticket.Feedback) == 0 {
		return
	}
	if ticket.ID == o.interpretedTicket && len(ticket.Feedback) == o.interpretedFeedback {
		return
	}
	o.interpretedTicket = ticket.ID
	o.interpretedFeedback = len(ticket.Feedback)

	var feedback strings.Builder
	for _, f := range ticket.Feedback {
		fmt.Fprintf(&feedback, "- (%s) %s\n", f.Type, f.Content)
	}
	prompt := fmt.Sprintf(`The operator paused the tool call %s with parameters:
%s

Operator feedback:
%s
Respond with a JSON object of the form {"interpretation": "...", "modified_parameters": {...}} where modified_parameters is the adjusted tool input, or null to keep the original.`,
		ticket.ToolName, string(ticket.Parameters), feedback.String())

	resp, err := retry.DoWithValue(ctx, o.retry, func() (*provider.Response, error) {
		return o.provider.Complete(ctx, &provider.Request{
			Model:       s.Conversation.Model,
			System:      "You restate operator feedback on a paused security assessment tool call.",
			Messages:    []models.Message{*models.NewTextMessage(models.RoleUser, prompt)},
			MaxTokens:   1024,
			Temperature: -1,
		})
	})
	if err != nil {
		o.logger.Warn("feedback interpretation failed", "ticket", ticket.ID, "error", err)
		return
	}

	interpretation, modified := parseInterpretation(resp.Message.Text())
	if err := o.feedback.SetAgentInterpretation(ticket.ToolCallID, interpretation, modified); err != nil {
		o.logger.Warn("interpretation not recorded", "ticket", ticket.ID, "error", err)
	}
}

// parseInterpretation extracts the structured form from the model reply,
// falling back to the raw text when it is not valid JSON.
func parseInterpretation(text string) (string, json.RawMessage) {
	text = strings.TrimSpace(text)
	body := text
	if start := strings.Index(body, "{"); start >= 0 {
		body = body[start:]
		if end := strings.LastIndex(body, "}"); end >= 0 {
			body = body[:end+1]
		}
	}
	var decoded struct {
		Interpretation     string          `json:"interpretation"`
		ModifiedParameters json.RawMessage `json:"modified_parameters"`
	}
	if err := json.Unmarshal([]byte(body), &decoded); err != nil || decoded.Interpretation == "" {
		return text, nil
	}
	if string(decoded.ModifiedParameters) == "null" {
		decoded.ModifiedParameters = nil
	}
	return decoded.Interpretation, decoded.ModifiedParameters
}

func (o *Orchestrator) limitsExhausted(s *Session) bool {
	if o.limits.MaxSteps > 0 && s.Step >= o.limits.MaxSteps {
		return true
	}
	if o.limits.MaxDuration > 0 && s.Elapsed() >= o.limits.MaxDuration {
		return true
	}
	return false
}

func (o *Orchestrator) emit(ctx context.Context, typ models.EventType, payload map[string]any) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(ctx, typ, payload)
}

func (o *Orchestrator) emitAssistantBlocks(ctx context.Context, msg *models.Message) {
	for _, block := range msg.Blocks {
		switch block.Type {
		case models.BlockReasoning:
			if block.Text != "" {
				o.emit(ctx, models.EventReasoning, map[string]any{"text": block.Text})
			}
		case models.BlockText:
			if block.Text != "" {
				o.emit(ctx, models.EventOutput, map[string]any{"text": block.Text})
			}
		}
	}
}

func messagesValue(messages []*models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out
}

// extractConfidence pulls a model-reported confidence value from the tool
// input, returning -1 when absent.
func extractConfidence(input json.RawMessage) float64 {
	var decoded struct {
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal(input, &decoded); err != nil || decoded.Confidence == nil {
		return -1
	}
	return *decoded.Confidence
}

