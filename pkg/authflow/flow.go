package authflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/blogpress/authguard/pkg/audit"
	"github.com/blogpress/authguard/pkg/directory"
	"github.com/blogpress/authguard/pkg/geoip"
	"github.com/blogpress/authguard/pkg/mfa"
	"github.com/blogpress/authguard/pkg/risk"
)

// VerificationStep is a single step in the verification flow.
type VerificationStep interface {
	// Name returns the unique name of this step
	Name() string

	// Order returns the execution order (lower numbers execute first)
	Order() int

	// Execute performs the step's logic
	Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error)

	// ShouldSkip determines if this step should be skipped based on current context
	ShouldSkip(ctx context.Context, flowContext *FlowContext) bool
}

// FlowContext carries state between verification flow steps
type FlowContext struct {
	// Input data
	Request Request

	// Current state
	Result      *Result
	User        directory.User
	Enrollments []mfa.Enrollment
	Assessment  *risk.Assessment
	// Location is the geo/reputation lookup for the request IP, resolved
	// once per attempt and stamped onto every audit event the flow records.
	Location geoip.Location

	// Step-specific data (can be used by steps to store intermediate results)
	StepData map[string]interface{}

	// The service owning the flow (provides collaborators)
	Service *Service
}

// StepResult represents the result of executing a verification flow step
type StepResult struct {
	// Continue indicates whether the flow should continue to the next step
	Continue bool

	// EarlyReturn indicates the flow should return immediately with the current result
	EarlyReturn bool
}

// StepRegistry manages and orders verification flow steps
type StepRegistry struct {
	steps []VerificationStep
}

func NewStepRegistry() *StepRegistry {
	return &StepRegistry{
		steps: make([]VerificationStep, 0),
	}
}

// AddStep adds a step to the registry
func (r *StepRegistry) AddStep(step VerificationStep) *StepRegistry {
	r.steps = append(r.steps, step)
	return r
}

// GetOrderedSteps returns steps sorted by their order
func (r *StepRegistry) GetOrderedSteps() []VerificationStep {
	orderedSteps := make([]VerificationStep, len(r.steps))
	copy(orderedSteps, r.steps)

	sort.Slice(orderedSteps, func(i, j int) bool {
		return orderedSteps[i].Order() < orderedSteps[j].Order()
	})

	return orderedSteps
}

// execute runs the flow over the ordered steps. Step errors become a Failed
// result; the generic message never leaks which step broke.
func (s *Service) execute(ctx context.Context, request Request) Result {
	flowContext := &FlowContext{
		Request:  request,
		Result:   &Result{State: StateStarted, Outcome: OutcomeFailed, Message: msgFailed},
		StepData: make(map[string]interface{}),
		Service:  s,
	}

	if loc, err := s.geo.Resolve(ctx, request.IP); err != nil {
		// Lookup failure degrades to an unknown location, never to a
		// failed attempt.
		slog.Warn("geo lookup failed, recording without location", "ip", request.IP, "err", err)
	} else {
		flowContext.Location = loc
	}

	for _, step := range s.registry.GetOrderedSteps() {
		if step.ShouldSkip(ctx, flowContext) {
			continue
		}

		stepResult, err := step.Execute(ctx, flowContext)
		if err != nil {
			s.recordFlowError(ctx, flowContext, step.Name(), err)
			flowContext.Result.State = StateFailed
			flowContext.Result.Outcome = OutcomeFailed
			flowContext.Result.Message = msgFailed
			return *flowContext.Result
		}
		if stepResult.EarlyReturn {
			return *flowContext.Result
		}
		if !stepResult.Continue {
			break
		}
	}

	return *flowContext.Result
}

// recordFlowError audits an internal failure on the error path so even
// broken attempts leave a record.
func (s *Service) recordFlowError(ctx context.Context, flowContext *FlowContext, stepName string, err error) {
	event := audit.Event{
		UserID:      flowContext.Request.UserID,
		Type:        audit.EventVerificationFailure,
		Severity:    audit.SeverityWarning,
		Method:      string(flowContext.Request.Method),
		IP:          flowContext.Request.IP,
		Fingerprint: flowContext.Request.Fingerprint,
		Details: map[string]interface{}{
			"step":  stepName,
			"error": fmt.Sprintf("%v", err),
		},
	}
	if flowContext.Location.Known {
		event.Country = flowContext.Location.Country
		event.Latitude = flowContext.Location.Latitude
		event.Longitude = flowContext.Location.Longitude
	}
	if auditErr := s.audit.Record(ctx, event); auditErr != nil {
		// Nothing left to do but log; the attempt still fails closed.
		logAuditFailure(auditErr)
	}
}
