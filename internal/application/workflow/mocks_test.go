package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/event"
	"github.com/garyjia/payment-approval/internal/domain/graph"
)

// Mock implementations. Every mock is safe for concurrent use and stores
// copies, so the engine cannot mutate what it already persisted.

type mockInstanceRepo struct {
	mu        sync.Mutex
	instances map[string]*entity.WorkflowInstance
	saves     int
	saveErr   error
}

func newMockInstanceRepo() *mockInstanceRepo {
	return &mockInstanceRepo{instances: make(map[string]*entity.WorkflowInstance)}
}

func (m *mockInstanceRepo) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.instances[instance.ID]; exists {
		return errors.New("instance already exists")
	}
	m.instances[instance.ID] = instance.Clone()
	return nil
}

func (m *mockInstanceRepo) Save(ctx context.Context, instance *entity.WorkflowInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.instances[instance.ID] = instance.Clone()
	return nil
}

func (m *mockInstanceRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	instance, exists := m.instances[id]
	if !exists {
		return nil, nil
	}
	return instance.Clone(), nil
}

func (m *mockInstanceRepo) List(ctx context.Context, filter entity.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*entity.WorkflowInstance
	for _, instance := range m.instances {
		if filter.OrgID != "" && instance.OrgID != filter.OrgID {
			continue
		}
		if filter.Status != "" && instance.Status != filter.Status {
			continue
		}
		if filter.PaymentRequestID != "" && instance.PaymentRequestID != filter.PaymentRequestID {
			continue
		}
		result = append(result, instance.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *mockInstanceRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}

type mockGraphRepo struct {
	mu        sync.Mutex
	graphs    map[string]*graph.Graph
	revisions map[string]*graph.Graph
}

func newMockGraphRepo() *mockGraphRepo {
	return &mockGraphRepo{
		graphs:    make(map[string]*graph.Graph),
		revisions: make(map[string]*graph.Graph),
	}
}

func (m *mockGraphRepo) Save(ctx context.Context, g *graph.Graph) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphs[g.ID] = g
	return nil
}

func (m *mockGraphRepo) GetByID(ctx context.Context, id string) (*graph.Graph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graphs[id], nil
}

func (m *mockGraphRepo) SaveRevision(ctx context.Context, ref string, g *graph.Graph) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.revisions[ref]; !exists {
		m.revisions[ref] = g
	}
	return nil
}

func (m *mockGraphRepo) GetRevision(ctx context.Context, ref string) (*graph.Graph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revisions[ref], nil
}

func (m *mockGraphRepo) revisionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.revisions)
}

type mockRequestRepo struct {
	mu       sync.Mutex
	requests map[string]*entity.PaymentRequest
	statuses []string
}

func newMockRequestRepo(reqs ...*entity.PaymentRequest) *mockRequestRepo {
	m := &mockRequestRepo{requests: make(map[string]*entity.PaymentRequest)}
	for _, r := range reqs {
		cp := *r
		m.requests[r.ID] = &cp
	}
	return m
}

func (m *mockRequestRepo) Create(ctx context.Context, req *entity.PaymentRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *mockRequestRepo) GetByID(ctx context.Context, id string) (*entity.PaymentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, exists := m.requests[id]
	if !exists {
		return nil, nil
	}
	cp := *req
	return &cp, nil
}

func (m *mockRequestRepo) UpdateStatus(ctx context.Context, id string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, exists := m.requests[id]
	if !exists {
		return errors.New("payment request not found")
	}
	req.Status = status
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *mockRequestRepo) status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req, ok := m.requests[id]; ok {
		return req.Status
	}
	return ""
}

func (m *mockRequestRepo) history() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statuses...)
}

type mockHistoryRepo struct {
	mu        sync.Mutex
	histories []*entity.ApprovalHistory
	createErr error
}

func (m *mockHistoryRepo) Create(ctx context.Context, history *entity.ApprovalHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *history
	cp.ID = int64(len(m.histories) + 1)
	m.histories = append(m.histories, &cp)
	return nil
}

func (m *mockHistoryRepo) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.ApprovalHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*entity.ApprovalHistory
	for _, h := range m.histories {
		if h.InstanceID == instanceID {
			result = append(result, h)
		}
	}
	return result, nil
}

func (m *mockHistoryRepo) countAction(instanceID string, actions ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.histories {
		if h.InstanceID != instanceID {
			continue
		}
		for _, a := range actions {
			if h.ActionType == a {
				n++
			}
		}
	}
	return n
}

type mockTxManager struct {
	commitErr error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	return fn(ctx)
}

type mockTimerRepo struct {
	mu     sync.Mutex
	timers map[string]*entity.TimerRecord
}

func newMockTimerRepo() *mockTimerRepo {
	return &mockTimerRepo{timers: make(map[string]*entity.TimerRecord)}
}

func (m *mockTimerRepo) Upsert(ctx context.Context, timer *entity.TimerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *timer
	m.timers[timer.InstanceID+"/"+timer.NodeID] = &cp
	return nil
}

func (m *mockTimerRepo) Delete(ctx context.Context, instanceID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, instanceID+"/"+nodeID)
	return nil
}

func (m *mockTimerRepo) List(ctx context.Context) ([]*entity.TimerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*entity.TimerRecord, 0, len(m.timers))
	for _, t := range m.timers {
		cp := *t
		result = append(result, &cp)
	}
	return result, nil
}

func (m *mockTimerRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

type mockDirectory struct {
	mu    sync.Mutex
	users map[string]*entity.User
}

func newMockDirectory(users ...*entity.User) *mockDirectory {
	m := &mockDirectory{users: make(map[string]*entity.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockDirectory) Upsert(ctx context.Context, user *entity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *mockDirectory) GetByID(ctx context.Context, id string) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m *mockDirectory) ListByRole(ctx context.Context, orgID, role string) ([]*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*entity.User
	for _, u := range m.users {
		if u.OrgID == orgID && u.Role == role && u.Active {
			result = append(result, u)
		}
	}
	return result, nil
}

// sent is one delivered notification
type sent struct {
	to string
	n  port.Notification
}

type mockSender struct {
	mu   sync.Mutex
	sent []sent
	fail map[string]bool
}

func (m *mockSender) Send(ctx context.Context, to *entity.User, n port.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[to.ID] {
		return errors.New("mailbox unavailable")
	}
	m.sent = append(m.sent, sent{to: to.ID, n: n})
	return nil
}

// recipients returns who received notifications of the given intent
func (m *mockSender) recipients(intent port.Intent) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, s := range m.sent {
		if s.n.Intent == intent {
			ids = append(ids, s.to)
		}
	}
	sort.Strings(ids)
	return ids
}

func (m *mockSender) byIntent(intent port.Intent) []port.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []port.Notification
	for _, s := range m.sent {
		if s.n.Intent == intent {
			result = append(result, s.n)
		}
	}
	return result
}

type mockPayments struct {
	mu      sync.Mutex
	calls   []string
	decline bool
	err     error
}

func (m *mockPayments) Process(ctx context.Context, req *entity.PaymentRequest) (*entity.PaymentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req.ID)
	if m.err != nil {
		return nil, m.err
	}
	if m.decline {
		return &entity.PaymentResult{Success: false, Message: "insufficient funds"}, nil
	}
	return &entity.PaymentResult{Success: true, TransactionID: "txn-" + req.ID}, nil
}

func (m *mockPayments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *mockDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}

func (m *mockDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}

func (m *mockDispatcher) SubscribeAll(name string, handler dispatcher.Handler) {}

func (m *mockDispatcher) Unsubscribe(eventType event.Type, name string) {}

func (m *mockDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo {
	return nil
}

func (m *mockDispatcher) Close() error {
	return nil
}

func (m *mockDispatcher) ofType(t event.Type) []*event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*event.Event
	for _, e := range m.events {
		if e.Type == t {
			result = append(result, e)
		}
	}
	return result
}
