// Package planner turns a conversation into validated step proposals.
package planner

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
	"github.com/vsingh18567/illuminate/internal/llm"
	"github.com/vsingh18567/illuminate/internal/logging"
	"github.com/vsingh18567/illuminate/internal/observability"
	"github.com/vsingh18567/illuminate/internal/toolregistry"
	"github.com/vsingh18567/illuminate/internal/transcript"
)

// Config wires a planner. Gateway and Catalog are required.
type Config struct {
	Gateway ports.ModelGateway
	Catalog toolregistry.Catalog

	// MaxStepsPerRound caps the steps kept from one proposal. Zero means no cap.
	MaxStepsPerRound int
	// ConfidenceFloor caps a proposal to a single step when the model reports
	// a confidence above zero but below the floor.
	ConfidenceFloor float64

	Transcript *transcript.Writer
	Logger     logging.Logger
	Metrics    *observability.MetricsCollector
	Tracer     trace.Tracer
}

// Proposal is the validated outcome of one planning exchange.
type Proposal struct {
	Steps      []ports.Step
	Finished   bool
	Summary    string
	Confidence float64
	// Truncated counts valid steps dropped by the per-round cap.
	Truncated int
	Usage     ports.TokenUsage
}

// Planner asks the model gateway for the next steps of one task. It is not
// safe for concurrent use; each task owns its planner.
type Planner struct {
	gateway         ports.ModelGateway
	catalog         toolregistry.Catalog
	maxSteps        int
	confidenceFloor float64
	transcript      *transcript.Writer
	logger          logging.Logger
	metrics         *observability.MetricsCollector
	tracer          trace.Tracer
	exchanges       int
}

// New validates config and builds a planner.
func New(config Config) (*Planner, error) {
	if config.Gateway == nil {
		return nil, errors.New("planner requires a model gateway")
	}
	if config.Catalog == nil {
		return nil, errors.New("planner requires a tool catalog")
	}
	if config.MaxStepsPerRound < 0 {
		return nil, fmt.Errorf("max steps per round must not be negative, got %d", config.MaxStepsPerRound)
	}
	if config.ConfidenceFloor < 0 || config.ConfidenceFloor > 1 {
		return nil, fmt.Errorf("confidence floor %v is outside [0, 1]", config.ConfidenceFloor)
	}
	return &Planner{
		gateway:         config.Gateway,
		catalog:         config.Catalog,
		maxSteps:        config.MaxStepsPerRound,
		confidenceFloor: config.ConfidenceFloor,
		transcript:      config.Transcript,
		logger:          logging.Component(config.Logger, "planner"),
		metrics:         config.Metrics,
		tracer:          observability.OrNoop(config.Tracer),
	}, nil
}

// MaxStepsPerRound returns the current per-round cap.
func (p *Planner) MaxStepsPerRound() int {
	return p.maxSteps
}

// SetMaxStepsPerRound changes the per-round cap. Values below zero are treated as zero.
func (p *Planner) SetMaxStepsPerRound(n int) {
	if n < 0 {
		n = 0
	}
	p.maxSteps = n
}

// Propose asks the gateway for the next steps. Malformed output, a plan with
// no steps, unknown tools and invalid arguments all yield a
// *MalformedPlanError listing every problem found. Gateway failures are
// returned wrapped.
func (p *Planner) Propose(ctx context.Context, task *ports.Task, state ports.ConversationState) (Proposal, error) {
	p.exchanges++
	logger := logging.FromContext(ctx, p.logger)
	ctx, span := observability.StartSpan(ctx, p.tracer, observability.SpanPlanRound,
		attribute.Int("illuminate.exchange", p.exchanges))

	proposal, outcome, err := p.propose(ctx, task, state)

	span.SetAttributes(attribute.String(observability.AttrStatus, outcome),
		attribute.Int(observability.AttrStepCount, len(proposal.Steps)))
	observability.EndSpan(span, err)
	if err != nil {
		logger.Warn("Planning exchange %d rejected: %v", p.exchanges, err)
	} else {
		logger.Debug("Planning exchange %d: %s with %d step(s)", p.exchanges, outcome, len(proposal.Steps))
	}
	return proposal, err
}

func (p *Planner) propose(ctx context.Context, task *ports.Task, state ports.ConversationState) (Proposal, string, error) {
	request := p.request(state)
	p.record(task, "request", llm.RenderConversation(request, llm.RenderOptions{}))

	started := time.Now()
	resp, err := p.gateway.Generate(ctx, request, p.catalog.Specs())
	latency := time.Since(started)
	if err != nil {
		p.metrics.RecordPlan(ctx, "error", latency, 0, 0)
		p.record(task, "error", err.Error())
		return Proposal{}, "error", fmt.Errorf("generate plan: %w", err)
	}

	p.record(task, "response", responseText(resp))
	proposal, err := p.interpret(resp, state.NextIndex())
	outcome := string(resp.Kind)
	if err != nil {
		outcome = string(ports.ResponseMalformed)
	}
	p.metrics.RecordPlan(ctx, outcome, latency, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return proposal, outcome, err
}

// request copies state and appends the round cap as a transient note.
func (p *Planner) request(state ports.ConversationState) ports.ConversationState {
	if p.maxSteps <= 0 {
		return state
	}
	out := state
	out.Notes = append(append([]string(nil), state.Notes...),
		fmt.Sprintf("Propose at most %d step(s) this round.", p.maxSteps))
	return out
}

func (p *Planner) interpret(resp ports.ModelResponse, nextIndex int) (Proposal, error) {
	switch resp.Kind {
	case ports.ResponseFinish:
		return Proposal{Finished: true, Summary: resp.Summary, Confidence: resp.Confidence, Usage: resp.Usage}, nil
	case ports.ResponseMalformed:
		return Proposal{}, &agenterrors.MalformedPlanError{Reason: resp.Reason, Raw: resp.Raw}
	case ports.ResponsePlan:
	default:
		return Proposal{}, &agenterrors.MalformedPlanError{
			Reason: fmt.Sprintf("unknown response kind %q", resp.Kind),
			Raw:    resp.Raw,
		}
	}

	if len(resp.Steps) == 0 {
		return Proposal{}, &agenterrors.MalformedPlanError{
			Reason: "plan proposed no steps and did not finish",
			Raw:    resp.Raw,
		}
	}
	if violations := p.check(resp.Steps); len(violations) > 0 {
		return Proposal{}, &agenterrors.MalformedPlanError{
			Reason:     "plan failed validation",
			Violations: violations,
			Raw:        resp.Raw,
		}
	}

	keep := p.limit(len(resp.Steps), resp.Confidence)
	steps := make([]ports.Step, 0, keep)
	for i, proposed := range resp.Steps[:keep] {
		args := maps.Clone(proposed.Arguments)
		if args == nil {
			args = map[string]any{}
		}
		steps = append(steps, ports.Step{
			Index:     nextIndex + i,
			Tool:      proposed.Tool,
			Arguments: args,
			Status:    ports.StepProposed,
		})
	}
	return Proposal{
		Steps:      steps,
		Confidence: resp.Confidence,
		Truncated:  len(resp.Steps) - keep,
		Usage:      resp.Usage,
	}, nil
}

// check validates every proposed step and returns one line per problem.
func (p *Planner) check(steps []ports.ProposedStep) []string {
	var violations []string
	for i, step := range steps {
		err := p.catalog.Validate(step.Tool, step.Arguments)
		if err == nil {
			continue
		}

		var unknown *agenterrors.UnknownToolError
		var invalid *agenterrors.InvalidArgumentsError
		switch {
		case errors.As(err, &unknown):
			violations = append(violations, fmt.Sprintf("step %d: unknown tool %q", i+1, unknown.Name))
		case errors.As(err, &invalid):
			for _, v := range invalid.Violations {
				violations = append(violations, fmt.Sprintf("step %d (%s): %s", i+1, step.Tool, v))
			}
		default:
			violations = append(violations, fmt.Sprintf("step %d (%s): %v", i+1, step.Tool, err))
		}
	}
	return violations
}

func (p *Planner) limit(proposed int, confidence float64) int {
	keep := proposed
	if p.maxSteps > 0 && keep > p.maxSteps {
		keep = p.maxSteps
	}
	if p.confidenceFloor > 0 && confidence > 0 && confidence < p.confidenceFloor && keep > 1 {
		keep = 1
	}
	return keep
}

func (p *Planner) record(task *ports.Task, kind, content string) {
	if p.transcript == nil {
		return
	}
	entry := transcript.Entry{Round: p.exchanges, Kind: kind, Content: content}
	if task != nil {
		entry.TaskID = task.ID
	}
	if err := p.transcript.Append(entry); err != nil {
		p.logger.Warn("Failed to append planner transcript: %v", err)
	}
}

func responseText(resp ports.ModelResponse) string {
	if resp.Raw != "" {
		return resp.Raw
	}
	switch resp.Kind {
	case ports.ResponseFinish:
		return "finish: " + resp.Summary
	case ports.ResponsePlan:
		text := fmt.Sprintf("plan (confidence %.2f):", resp.Confidence)
		for _, step := range resp.Steps {
			text += fmt.Sprintf(" %s %s;", step.Tool, agenterrors.FormatArguments(step.Arguments))
		}
		return text
	default:
		return string(resp.Kind) + ": " + resp.Reason
	}
}
