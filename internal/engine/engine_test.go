package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/engine/internal/actions"
	"github.com/leadflow/engine/internal/collab"
	"github.com/leadflow/engine/internal/store"
	"github.com/leadflow/engine/pkg/schema"
)

// --- In-memory store ---

type memStore struct {
	mu        sync.Mutex
	workflows map[string]*schema.Workflow
	runs      map[string]*schema.Run
	steps     map[string][]*schema.RunStep
}

func newMemStore() *memStore {
	return &memStore{
		workflows: make(map[string]*schema.Workflow),
		runs:      make(map[string]*schema.Run),
		steps:     make(map[string][]*schema.RunStep),
	}
}

func (m *memStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *wf
	m.workflows[wf.ID] = &cp
	return nil
}

func (m *memStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	cp := *wf
	return &cp, nil
}

func (m *memStore) UpdateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	return m.CreateWorkflow(ctx, wf)
}

func (m *memStore) UpdateWorkflowStatus(ctx context.Context, id string, status schema.WorkflowStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	wf.Status = status
	return nil
}

func (m *memStore) ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.Workflow
	for _, wf := range m.workflows {
		if filter.Status != nil && wf.Status != *filter.Status {
			continue
		}
		if filter.WorkspaceID != "" && wf.WorkspaceID != filter.WorkspaceID {
			continue
		}
		cp := *wf
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) ListActiveWorkflows(ctx context.Context, workspaceID string) ([]*schema.Workflow, error) {
	active := schema.WorkflowStatusActive
	return m.ListWorkflows(ctx, store.WorkflowFilter{WorkspaceID: workspaceID, Status: &active})
}

func (m *memStore) DeleteWorkflow(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workflows, id)
	return nil
}

func (m *memStore) CreateRun(ctx context.Context, run *schema.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memStore) GetRun(ctx context.Context, id string) (*schema.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	cp := *run
	return &cp, nil
}

func (m *memStore) UpdateRun(ctx context.Context, id string, update store.RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	if update.Status != nil {
		run.Status = *update.Status
	}
	if update.NextNodeID != nil {
		run.NextNodeID = *update.NextNodeID
	}
	if update.WakeAt != nil {
		run.WakeAt = update.WakeAt
	} else if update.ClearWake {
		run.WakeAt = nil
	}
	if update.StepsUsed != nil {
		run.StepsUsed = *update.StepsUsed
	}
	if update.Reason != nil {
		run.Reason = *update.Reason
	}
	if update.FinishedAt != nil {
		run.FinishedAt = update.FinishedAt
	}
	return nil
}

func (m *memStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]*schema.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.Run
	for _, run := range m.runs {
		if run.TestRun && !filter.IncludeTestRuns {
			continue
		}
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		cp := *run
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) ClaimDueRuns(ctx context.Context, now time.Time, limit int) ([]*schema.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.Run
	for _, run := range m.runs {
		if run.Status != schema.RunStatusSuspended || run.WakeAt == nil || run.WakeAt.After(now) {
			continue
		}
		run.Status = schema.RunStatusPending
		cp := *run
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) AppendRunStep(ctx context.Context, step *schema.RunStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *step
	cp.Seq = len(m.steps[step.RunID]) + 1
	m.steps[step.RunID] = append(m.steps[step.RunID], &cp)
	return nil
}

func (m *memStore) ListRunSteps(ctx context.Context, runID string) ([]*schema.RunStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*schema.RunStep(nil), m.steps[runID]...), nil
}

func (m *memStore) Migrate(ctx context.Context) error { return nil }
func (m *memStore) Vacuum(ctx context.Context) error  { return nil }
func (m *memStore) Close() error                      { return nil }

// --- Counting collaborators ---

type fakeTags struct {
	mu       sync.Mutex
	attached []string
	failNext bool
}

func (f *fakeTags) Attach(ctx context.Context, leadID, tagID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return errors.New("tag service unavailable")
	}
	f.attached = append(f.attached, tagID)
	return nil
}

func (f *fakeTags) Detach(ctx context.Context, leadID, tagID string) error { return nil }

type fakeQueue struct {
	mu   sync.Mutex
	sent int
}

func (f *fakeQueue) Enqueue(ctx context.Context, leadID, platform, messageType, content, priority string, scheduledAt *time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return "msg-1", nil
}

type fakeScorer struct {
	mu     sync.Mutex
	deltas []float64
	score  float64
}

func (f *fakeScorer) Adjust(ctx context.Context, leadID string, delta float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas = append(f.deltas, delta)
	f.score += delta
	return f.score, nil
}

// --- Fixture helpers ---

type fixture struct {
	store  *memStore
	leads  *collab.Memory
	tags   *fakeTags
	queue  *fakeQueue
	scorer *fakeScorer
	engine *Engine
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:  newMemStore(),
		leads:  collab.NewMemory(),
		tags:   &fakeTags{},
		queue:  &fakeQueue{},
		scorer: &fakeScorer{},
	}
	registry := actions.NewRegistry()
	for _, a := range []actions.Action{
		&actions.SendMessage{Queue: f.queue},
		&actions.AddTag{Tags: f.tags},
		&actions.RemoveTag{Tags: f.tags},
		&actions.AssignUser{Leads: f.leads},
		&actions.ChangeStage{Leads: f.leads},
		&actions.UpdateField{Leads: f.leads},
		&actions.WaitUntil{},
		&actions.IncrementScore{Scorer: f.scorer},
		&actions.DecrementScore{Scorer: f.scorer},
	} {
		require.NoError(t, registry.Register(a))
	}
	f.engine = New(f.store, registry, f.leads, cfg, nil)
	return f
}

func (f *fixture) addWorkflow(t *testing.T, wf *schema.Workflow) {
	t.Helper()
	require.NoError(t, f.store.CreateWorkflow(context.Background(), wf))
}

func node(id string, typ schema.NodeType, config string) schema.Node {
	n := schema.Node{ID: id, Type: typ}
	if config != "" {
		n.Config = json.RawMessage(config)
	}
	return n
}

func edge(src, dst string, label schema.EdgeLabel) schema.Edge {
	return schema.Edge{ID: src + "->" + dst, SourceID: src, TargetID: dst, Label: label}
}

// --- Scenario tests ---

func TestStageEntryAddTag(t *testing.T) {
	f := newFixture(t, Config{})
	f.leads.PutLead(&collab.LeadSnapshot{ID: "lead-1", StageID: "qualified", Version: 1})

	wf := &schema.Workflow{
		ID: "wf-1", WorkspaceID: "ws-1", Status: schema.WorkflowStatusActive,
		Nodes: []schema.Node{
			node("t1", schema.NodeTriggerStageEntry, `{"stage_id":"qualified"}`),
			node("a1", schema.NodeActionAddTag, `{"tag_id":"hot"}`),
			node("e1", schema.NodeEnd, ""),
		},
		Edges: []schema.Edge{
			edge("t1", "a1", schema.EdgeLabelNone),
			edge("a1", "e1", schema.EdgeLabelNone),
		},
	}
	f.addWorkflow(t, wf)

	run, err := f.engine.Start(context.Background(), wf, "t1", "lead-1", StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSucceeded, run.Status)
	assert.Equal(t, []string{"hot"}, f.tags.attached)

	steps, err := f.store.ListRunSteps(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, schema.NodeEnd, steps[2].NodeType)
}

func TestConditionBranches(t *testing.T) {
	wf := &schema.Workflow{
		ID: "wf-1", WorkspaceID: "ws-1", Status: schema.WorkflowStatusActive,
		Nodes: []schema.Node{
			node("t1", schema.NodeTriggerManual, ""),
			node("c1", schema.NodeCondition, `{"field":"score","operator":"gte","operand":80}`),
			node("a1", schema.NodeActionSendMessage, `{"platform":"email","template_id":"tpl-1"}`),
			node("a2", schema.NodeActionIncrementScore, `{"delta":5}`),
			node("e1", schema.NodeEnd, ""),
		},
		Edges: []schema.Edge{
			edge("t1", "c1", schema.EdgeLabelNone),
			edge("c1", "a1", schema.EdgeLabelTrue),
			edge("c1", "a2", schema.EdgeLabelFalse),
			edge("a1", "e1", schema.EdgeLabelNone),
			edge("a2", "e1", schema.EdgeLabelNone),
		},
	}

	t.Run("high score takes true branch", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.leads.PutLead(&collab.LeadSnapshot{ID: "lead-hi", Score: 85, Version: 1})
		f.addWorkflow(t, wf)

		run, err := f.engine.Start(context.Background(), wf, "t1", "lead-hi", StartOptions{})
		require.NoError(t, err)
		assert.Equal(t, schema.RunStatusSucceeded, run.Status)
		assert.Equal(t, 1, f.queue.sent)
		assert.Empty(t, f.scorer.deltas)
	})

	t.Run("low score takes false branch", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.leads.PutLead(&collab.LeadSnapshot{ID: "lead-lo", Score: 40, Version: 1})
		f.addWorkflow(t, wf)

		run, err := f.engine.Start(context.Background(), wf, "t1", "lead-lo", StartOptions{})
		require.NoError(t, err)
		assert.Equal(t, schema.RunStatusSucceeded, run.Status)
		assert.Equal(t, 0, f.queue.sent)
		assert.Equal(t, []float64{5}, f.scorer.deltas)
	})
}

func TestConditionMissingBranchFailsRun(t *testing.T) {
	// Only the true branch is wired. A false evaluation must fail the run
	// as a structural error, not silently succeed down an unwired branch.
	wf := &schema.Workflow{
		ID: "wf-1", WorkspaceID: "ws-1", Status: schema.WorkflowStatusActive,
		Nodes: []schema.Node{
			node("t1", schema.NodeTriggerManual, ""),
			node("c1", schema.NodeCondition, `{"field":"score","operator":"gte","operand":80}`),
			node("a1", schema.NodeActionSendMessage, `{"platform":"email","template_id":"tpl-1"}`),
			node("e1", schema.NodeEnd, ""),
		},
		Edges: []schema.Edge{
			edge("t1", "c1", schema.EdgeLabelNone),
			edge("c1", "a1", schema.EdgeLabelTrue),
			edge("a1", "e1", schema.EdgeLabelNone),
		},
	}

	f := newFixture(t, Config{})
	f.leads.PutLead(&collab.LeadSnapshot{ID: "lead-lo", Score: 10, Version: 1})
	f.addWorkflow(t, wf)

	run, err := f.engine.Start(context.Background(), wf, "t1", "lead-lo", StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
	assert.Contains(t, run.Reason, schema.ErrCodeStructural)
	assert.Contains(t, run.Reason, "no false branch")
	assert.Equal(t, 0, f.queue.sent)

	steps := f.store.steps[run.ID]
	require.NotEmpty(t, steps)
	last := steps[len(steps)-1]
	assert.Equal(t, "c1", last.NodeID)
	assert.Equal(t, schema.StepStatusFailed, last.Status)
}

func TestResumeRejectsTerminalRun(t *testing.T) {
	f := newFixture(t, Config{})
	run := &schema.Run{
		ID: "run-done", WorkflowID: "wf-1", Status: schema.RunStatusSucceeded,
		EntryNodeID: "t1", StartedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateRun(context.Background(), run))

	_, err := f.engine.Resume(context.Background(), "run-done")
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeInvalidTransition, fe.Code)
}

func TestDelaySuspendsAndResumes(t *testing.T) {
	f := newFixture(t, Config{})
	f.leads.PutLead(&collab.LeadSnapshot{ID: "lead-1", StageID: "new", Version: 1})

	wf := &schema.Workflow{
		ID: "wf-1", WorkspaceID: "ws-1", Status: schema.WorkflowStatusActive,
		Nodes: []schema.Node{
			node("t1", schema.NodeTriggerManual, ""),
			node("d1", schema.NodeDelay, `{"delay_seconds":3600}`),
			node("a1", schema.NodeActionChangeStage, `{"stage_id":"contacted"}`),
			node("e1", schema.NodeEnd, ""),
		},
		Edges: []schema.Edge{
			edge("t1", "d1", schema.EdgeLabelNone),
			edge("d1", "a1", schema.EdgeLabelNone),
			edge("a1", "e1", schema.EdgeLabelNone),
		},
	}
	f.addWorkflow(t, wf)

	run, err := f.engine.Start(context.Background(), wf, "t1", "lead-1", StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuspended, run.Status)
	assert.Equal(t, "a1", run.NextNodeID)
	require.NotNil(t, run.WakeAt)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), *run.WakeAt, time.Minute)

	// Lead untouched while the run sleeps.
	lead, err := f.leads.Get(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "new", lead.StageID)

	// Sweep past the wake time and resume.
	claimed, err := f.store.ClaimDueRuns(context.Background(), run.WakeAt.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	resumed, err := f.engine.Resume(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSucceeded, resumed.Status)

	lead, err = f.leads.Get(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "contacted", lead.StageID)
	assert.EqualValues(t, 2, lead.Version)
}

func TestLoopRespectsMaxIterations(t *testing.T) {
	f := newFixture(t, Config{})
	f.leads.PutLead(&collab.LeadSnapshot{ID: "lead-1", Version: 1})

	wf := &schema.Workflow{
		ID: "wf-1", WorkspaceID: "ws-1", Status: schema.WorkflowStatusActive,
		Nodes: []schema.Node{
			node("t1", schema.NodeTriggerManual, ""),
			node("l1", schema.NodeLoop, `{"source":"list","items":["A","B","C"],"max_iterations":2}`),
			node("a1", schema.NodeActionAddTag, `{"tag_id":"touched"}`),
			node("e1", schema.NodeEnd, ""),
		},
		Edges: []schema.Edge{
			edge("t1", "l1", schema.EdgeLabelNone),
			edge("l1", "a1", schema.EdgeLabelBody),
			edge("a1", "l1", schema.EdgeLabelNone),
			edge("l1", "e1", schema.EdgeLabelDone),
		},
	}
	f.addWorkflow(t, wf)

	run, err := f.engine.Start(context.Background(), wf, "t1", "lead-1", StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSucceeded, run.Status)
	assert.Len(t, f.tags.attached, 2)
}

func TestBudgetExceeded(t *testing.T) {
	f := newFixture(t, Config{StepBudget: 3})
	f.leads.PutLead(&collab.LeadSnapshot{ID: "lead-1", Version: 1})

	wf := &schema.Workflow{
		ID: "wf-1", WorkspaceID: "ws-1", Status: schema.WorkflowStatusActive,
		Nodes: []schema.Node{
			node("t1", schema.NodeTriggerManual, ""),
			node("a1", schema.NodeActionAddTag, `{"tag_id":"one"}`),
			node("a2", schema.NodeActionAddTag, `{"tag_id":"two"}`),
			node("a3", schema.NodeActionAddTag, `{"tag_id":"three"}`),
			node("e1", schema.NodeEnd, ""),
		},
		Edges: []schema.Edge{
			edge("t1", "a1", schema.EdgeLabelNone),
			edge("a1", "a2", schema.EdgeLabelNone),
			edge("a2", "a3", schema.EdgeLabelNone),
			edge("a3", "e1", schema.EdgeLabelNone),
		},
	}
	f.addWorkflow(t, wf)

	run, err := f.engine.Start(context.Background(), wf, "t1", "lead-1", StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
	assert.Equal(t, schema.ReasonBudgetExceeded, run.Reason)
}

func TestResumeAgainstDeactivatedWorkflow(t *testing.T) {
	f := newFixture(t, Config{})
	f.leads.PutLead(&collab.LeadSnapshot{ID: "lead-1", StageID: "new", Version: 1})

	wf := &schema.Workflow{
		ID: "wf-1", WorkspaceID: "ws-1", Status: schema.WorkflowStatusActive,
		Nodes: []schema.Node{
			node("t1", schema.NodeTriggerManual, ""),
			node("d1", schema.NodeDelay, `{"delay_seconds":60}`),
			node("a1", schema.NodeActionChangeStage, `{"stage_id":"contacted"}`),
		},
		Edges: []schema.Edge{
			edge("t1", "d1", schema.EdgeLabelNone),
			edge("d1", "a1", schema.EdgeLabelNone),
		},
	}
	f.addWorkflow(t, wf)

	run, err := f.engine.Start(context.Background(), wf, "t1", "lead-1", StartOptions{})
	require.NoError(t, err)
	require.Equal(t, schema.RunStatusSuspended, run.Status)

	require.NoError(t, f.store.UpdateWorkflowStatus(context.Background(), wf.ID, schema.WorkflowStatusPaused))

	resumed, err := f.engine.Resume(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, resumed.Status)
	assert.Equal(t, schema.ReasonWorkflowDeactivated, resumed.Reason)

	// Stage must not change.
	lead, err := f.leads.Get(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "new", lead.StageID)
}

func TestActionFailureContained(t *testing.T) {
	f := newFixture(t, Config{})
	f.leads.PutLead(&collab.LeadSnapshot{ID: "lead-1", Version: 1})
	f.tags.failNext = true

	wf := &schema.Workflow{
		ID: "wf-1", WorkspaceID: "ws-1", Status: schema.WorkflowStatusActive,
		Nodes: []schema.Node{
			node("t1", schema.NodeTriggerManual, ""),
			node("a1", schema.NodeActionAddTag, `{"tag_id":"hot"}`),
			node("e1", schema.NodeEnd, ""),
		},
		Edges: []schema.Edge{
			edge("t1", "a1", schema.EdgeLabelNone),
			edge("a1", "e1", schema.EdgeLabelNone),
		},
	}
	f.addWorkflow(t, wf)

	run, err := f.engine.Start(context.Background(), wf, "t1", "lead-1", StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
	assert.NotEqual(t, schema.ReasonBudgetExceeded, run.Reason)
	assert.Contains(t, run.Reason, "tag service unavailable")
}

func TestDryRunTouchesNothing(t *testing.T) {
	f := newFixture(t, Config{})
	f.leads.PutLead(&collab.LeadSnapshot{ID: "lead-1", Score: 90, StageID: "new", Version: 1})

	wf := &schema.Workflow{
		ID: "wf-1", WorkspaceID: "ws-1", Status: schema.WorkflowStatusActive,
		Nodes: []schema.Node{
			node("t1", schema.NodeTriggerManual, ""),
			node("c1", schema.NodeCondition, `{"field":"score","operator":"gt","operand":50}`),
			node("a1", schema.NodeActionSendMessage, `{"platform":"email","template_id":"tpl-1"}`),
			node("a2", schema.NodeActionAddTag, `{"tag_id":"hot"}`),
			node("d1", schema.NodeDelay, `{"delay_seconds":3600}`),
			node("a3", schema.NodeActionChangeStage, `{"stage_id":"contacted"}`),
			node("e1", schema.NodeEnd, ""),
		},
		Edges: []schema.Edge{
			edge("t1", "c1", schema.EdgeLabelNone),
			edge("c1", "a1", schema.EdgeLabelTrue),
			edge("c1", "e1", schema.EdgeLabelFalse),
			edge("a1", "a2", schema.EdgeLabelNone),
			edge("a2", "d1", schema.EdgeLabelNone),
			edge("d1", "a3", schema.EdgeLabelNone),
			edge("a3", "e1", schema.EdgeLabelNone),
		},
	}
	f.addWorkflow(t, wf)

	run, err := f.engine.Start(context.Background(), wf, "t1", "lead-1", StartOptions{DryRun: true, TestRun: true})
	require.NoError(t, err)
	// Dry runs elide delays; the whole graph completes in one pass.
	assert.Equal(t, schema.RunStatusSucceeded, run.Status)
	assert.Equal(t, 0, f.queue.sent)
	assert.Empty(t, f.tags.attached)

	lead, err := f.leads.Get(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "new", lead.StageID)
	assert.EqualValues(t, 1, lead.Version)
}

func TestStartRejectsInactiveWorkflow(t *testing.T) {
	f := newFixture(t, Config{})

	wf := &schema.Workflow{
		ID: "wf-1", WorkspaceID: "ws-1", Status: schema.WorkflowStatusDraft,
		Nodes: []schema.Node{node("t1", schema.NodeTriggerManual, "")},
	}
	f.addWorkflow(t, wf)

	_, err := f.engine.Start(context.Background(), wf, "t1", "lead-1", StartOptions{})
	require.Error(t, err)

	// Test runs may exercise draft workflows.
	run, err := f.engine.Start(context.Background(), wf, "t1", "lead-1", StartOptions{TestRun: true, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSucceeded, run.Status)
}

func TestStartRejectsNonTriggerEntry(t *testing.T) {
	f := newFixture(t, Config{})

	wf := &schema.Workflow{
		ID: "wf-1", WorkspaceID: "ws-1", Status: schema.WorkflowStatusActive,
		Nodes: []schema.Node{
			node("t1", schema.NodeTriggerManual, ""),
			node("a1", schema.NodeActionAddTag, `{"tag_id":"hot"}`),
		},
		Edges: []schema.Edge{edge("t1", "a1", schema.EdgeLabelNone)},
	}
	f.addWorkflow(t, wf)

	_, err := f.engine.Start(context.Background(), wf, "a1", "lead-1", StartOptions{})
	require.Error(t, err)

	_, err = f.engine.Start(context.Background(), wf, "missing", "lead-1", StartOptions{})
	require.Error(t, err)
}

// conflictingLeads fails the first Update with a version conflict and
// delegates afterwards.
type conflictingLeads struct {
	inner     collab.LeadStore
	conflicts int
}

func (c *conflictingLeads) Get(ctx context.Context, leadID string) (*collab.LeadSnapshot, error) {
	return c.inner.Get(ctx, leadID)
}

func (c *conflictingLeads) Update(ctx context.Context, leadID string, fields map[string]any, expectedVersion int64) error {
	if c.conflicts > 0 {
		c.conflicts--
		return collab.ErrVersionConflict
	}
	return c.inner.Update(ctx, leadID, fields, expectedVersion)
}

func TestVersionConflictRetriesOnce(t *testing.T) {
	leads := collab.NewMemory()
	leads.PutLead(&collab.LeadSnapshot{ID: "lead-1", StageID: "new", Version: 1})
	conflicted := &conflictingLeads{inner: leads, conflicts: 1}

	st := newMemStore()
	registry := actions.NewRegistry()
	require.NoError(t, registry.Register(&actions.ChangeStage{Leads: conflicted}))
	eng := New(st, registry, leads, Config{}, nil)

	wf := &schema.Workflow{
		ID: "wf-1", WorkspaceID: "ws-1", Status: schema.WorkflowStatusActive,
		Nodes: []schema.Node{
			node("t1", schema.NodeTriggerManual, ""),
			node("a1", schema.NodeActionChangeStage, `{"stage_id":"contacted"}`),
			node("e1", schema.NodeEnd, ""),
		},
		Edges: []schema.Edge{
			edge("t1", "a1", schema.EdgeLabelNone),
			edge("a1", "e1", schema.EdgeLabelNone),
		},
	}
	require.NoError(t, st.CreateWorkflow(context.Background(), wf))

	run, err := eng.Start(context.Background(), wf, "t1", "lead-1", StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSucceeded, run.Status)

	lead, err := leads.Get(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "contacted", lead.StageID)

	// A second conflict in a row exhausts the single retry.
	leads.PutLead(&collab.LeadSnapshot{ID: "lead-2", StageID: "new", Version: 1})
	conflicted.conflicts = 2
	run, err = eng.Start(context.Background(), wf, "t1", "lead-2", StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
}

func TestDanglingNodeImplicitSuccess(t *testing.T) {
	f := newFixture(t, Config{})
	f.leads.PutLead(&collab.LeadSnapshot{ID: "lead-1", Version: 1})

	// No end node; the last action dangles.
	wf := &schema.Workflow{
		ID: "wf-1", WorkspaceID: "ws-1", Status: schema.WorkflowStatusActive,
		Nodes: []schema.Node{
			node("t1", schema.NodeTriggerManual, ""),
			node("a1", schema.NodeActionAddTag, `{"tag_id":"hot"}`),
		},
		Edges: []schema.Edge{edge("t1", "a1", schema.EdgeLabelNone)},
	}
	f.addWorkflow(t, wf)

	run, err := f.engine.Start(context.Background(), wf, "t1", "lead-1", StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSucceeded, run.Status)
	assert.Equal(t, []string{"hot"}, f.tags.attached)
}

func TestConcurrentRunsSameLeadSerialize(t *testing.T) {
	f := newFixture(t, Config{})
	f.leads.PutLead(&collab.LeadSnapshot{ID: "lead-1", Version: 1})

	wf := &schema.Workflow{
		ID: "wf-1", WorkspaceID: "ws-1", Status: schema.WorkflowStatusActive,
		Nodes: []schema.Node{
			node("t1", schema.NodeTriggerManual, ""),
			node("a1", schema.NodeActionIncrementScore, `{"delta":1}`),
			node("e1", schema.NodeEnd, ""),
		},
		Edges: []schema.Edge{
			edge("t1", "a1", schema.EdgeLabelNone),
			edge("a1", "e1", schema.EdgeLabelNone),
		},
	}
	f.addWorkflow(t, wf)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := f.engine.Start(context.Background(), wf, "t1", "lead-1", StartOptions{})
			assert.NoError(t, err)
			assert.Equal(t, schema.RunStatusSucceeded, run.Status)
		}()
	}
	wg.Wait()

	assert.Len(t, f.scorer.deltas, 10)
}
