package services

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bastionsec/bastion/internal/models"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc        func(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmailFunc     func(ctx context.Context, email string) (*models.User, error)
	CreateFunc         func(ctx context.Context, user *models.User) (*models.User, error)
	UpdateFunc         func(ctx context.Context, user *models.User) (*models.User, error)
	RecordLoginFunc    func(ctx context.Context, id uuid.UUID, at time.Time) error
	SaveTOTPSecretFunc func(ctx context.Context, id uuid.UUID, encrypted, nonce []byte) error
	ConfirmTOTPFunc    func(ctx context.Context, id uuid.UUID, at time.Time) error
	TouchTOTPUsageFunc func(ctx context.Context, id uuid.UUID, at time.Time) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) Update(ctx context.Context, user *models.User) (*models.User, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) RecordLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	if m.RecordLoginFunc != nil {
		return m.RecordLoginFunc(ctx, id, at)
	}
	return nil
}

func (m *MockUserRepository) SaveTOTPSecret(ctx context.Context, id uuid.UUID, encrypted, nonce []byte) error {
	if m.SaveTOTPSecretFunc != nil {
		return m.SaveTOTPSecretFunc(ctx, id, encrypted, nonce)
	}
	return nil
}

func (m *MockUserRepository) ConfirmTOTP(ctx context.Context, id uuid.UUID, at time.Time) error {
	if m.ConfirmTOTPFunc != nil {
		return m.ConfirmTOTPFunc(ctx, id, at)
	}
	return nil
}

func (m *MockUserRepository) TouchTOTPUsage(ctx context.Context, id uuid.UUID, at time.Time) error {
	if m.TouchTOTPUsageFunc != nil {
		return m.TouchTOTPUsageFunc(ctx, id, at)
	}
	return nil
}

// MockSecurityStore is an in-memory SecurityStore for tests. It honors key
// expiry and returns recorded TTLs verbatim so duration assertions stay
// deterministic. Setting Err makes every operation fail, simulating an
// unreachable store.
type MockSecurityStore struct {
	mu      sync.Mutex
	values  map[string]string
	zsets   map[string]map[string]float64
	expires map[string]time.Time
	ttls    map[string]time.Duration

	Err error
}

func NewMockSecurityStore() *MockSecurityStore {
	return &MockSecurityStore{
		values:  make(map[string]string),
		zsets:   make(map[string]map[string]float64),
		expires: make(map[string]time.Time),
		ttls:    make(map[string]time.Duration),
	}
}

// ForceExpire drops keys immediately, simulating TTL expiry without
// waiting for it.
func (m *MockSecurityStore) ForceExpire(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		m.dropLocked(key)
	}
}

func (m *MockSecurityStore) dropLocked(key string) {
	delete(m.values, key)
	delete(m.zsets, key)
	delete(m.expires, key)
	delete(m.ttls, key)
}

func (m *MockSecurityStore) purgeLocked(key string) {
	if expiry, ok := m.expires[key]; ok && time.Now().After(expiry) {
		m.dropLocked(key)
	}
}

func (m *MockSecurityStore) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	m.purgeLocked(key)

	count, _ := strconv.ParseInt(m.values[key], 10, 64)
	count++
	m.values[key] = strconv.FormatInt(count, 10)
	return count, nil
}

func (m *MockSecurityStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.purgeLocked(key)

	value, ok := m.values[key]
	if !ok {
		return "", models.ErrNotFound
	}
	return value, nil
}

func (m *MockSecurityStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.values[key] = value
	m.expires[key] = time.Now().Add(ttl)
	m.ttls[key] = ttl
	return nil
}

func (m *MockSecurityStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	m.purgeLocked(key)

	if _, ok := m.values[key]; !ok {
		if _, ok := m.zsets[key]; !ok {
			return 0, nil
		}
	}
	return m.ttls[key], nil
}

func (m *MockSecurityStore) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, key := range keys {
		m.dropLocked(key)
	}
	return nil
}

func (m *MockSecurityStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.expires[key] = time.Now().Add(ttl)
	m.ttls[key] = ttl
	return nil
}

func (m *MockSecurityStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.purgeLocked(key)

	if m.zsets[key] == nil {
		m.zsets[key] = make(map[string]float64)
	}
	m.zsets[key][member] = score
	return nil
}

func (m *MockSecurityStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.purgeLocked(key)

	members := make([]string, 0, len(m.zsets[key]))
	for member, score := range m.zsets[key] {
		if score >= min && score <= max {
			members = append(members, member)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := m.zsets[key][members[i]], m.zsets[key][members[j]]
		if si != sj {
			return si < sj
		}
		return members[i] < members[j]
	})
	return members, nil
}

func (m *MockSecurityStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	m.purgeLocked(key)

	var removed int64
	for member, score := range m.zsets[key] {
		if score >= min && score <= max {
			delete(m.zsets[key], member)
			removed++
		}
	}
	return removed, nil
}

func (m *MockSecurityStore) ZCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	m.purgeLocked(key)
	return int64(len(m.zsets[key])), nil
}

func (m *MockSecurityStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	matched := make([]string, 0)
	for key := range m.values {
		m.purgeLocked(key)
		if _, ok := m.values[key]; !ok {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	for key := range m.zsets {
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

func (m *MockSecurityStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Err
}

// RecordedEvent captures one EventRecorder invocation
type RecordedEvent struct {
	Level     models.EventLevel
	Category  models.EventCategory
	EventType string
	Message   string
	Context   models.EventContext
}

// MockEventRecorder implements EventRecorder and captures every recorded
// event for assertions
type MockEventRecorder struct {
	mu     sync.Mutex
	events []RecordedEvent
}

func NewMockEventRecorder() *MockEventRecorder {
	return &MockEventRecorder{}
}

func (m *MockEventRecorder) Record(ctx context.Context, level models.EventLevel, category models.EventCategory, eventType, message string, evtCtx models.EventContext) *models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, RecordedEvent{
		Level:     level,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Context:   evtCtx,
	})
	return buildEvent(level, category, eventType, message, evtCtx)
}

func (m *MockEventRecorder) Events() []RecordedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]RecordedEvent, len(m.events))
	copy(events, m.events)
	return events
}

func (m *MockEventRecorder) ByType(eventType string) []RecordedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]RecordedEvent, 0)
	for _, event := range m.events {
		if event.EventType == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func (m *MockEventRecorder) CountByType(eventType string) int {
	return len(m.ByType(eventType))
}

// MockSecurityEventRepository is an in-memory SecurityEventRepository.
// Query filters and orders newest first, mirroring the real store.
type MockSecurityEventRepository struct {
	mu     sync.Mutex
	events []*models.SecurityEvent

	InsertErr  error
	QueryErr   error
	PurgeErr   error
	LastFilter models.EventFilter
}

func NewMockSecurityEventRepository() *MockSecurityEventRepository {
	return &MockSecurityEventRepository{}
}

func (m *MockSecurityEventRepository) Insert(ctx context.Context, event *models.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MockSecurityEventRepository) Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastFilter = filter
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}

	matched := make([]*models.SecurityEvent, 0)
	for i := len(m.events) - 1; i >= 0; i-- {
		event := m.events[i]
		if filter.Level != "" && event.Level != filter.Level {
			continue
		}
		if filter.Category != "" && event.Category != filter.Category {
			continue
		}
		if filter.SubjectID != "" && (event.SubjectID == nil || *event.SubjectID != filter.SubjectID) {
			continue
		}
		if filter.IPAddress != "" && (event.IPAddress == nil || *event.IPAddress != filter.IPAddress) {
			continue
		}
		if !filter.From.IsZero() && event.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && event.Timestamp.After(filter.To) {
			continue
		}
		matched = append(matched, event)
		if filter.Limit > 0 && len(matched) >= filter.Limit {
			break
		}
	}
	return matched, nil
}

func (m *MockSecurityEventRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PurgeErr != nil {
		return 0, m.PurgeErr
	}

	kept := m.events[:0]
	var purged int64
	for _, event := range m.events {
		if event.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, event)
	}
	m.events = kept
	return purged, nil
}

func (m *MockSecurityEventRepository) Inserted() []*models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]*models.SecurityEvent, len(m.events))
	copy(events, m.events)
	return events
}

func (m *MockSecurityEventRepository) CountByType(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, event := range m.events {
		if event.EventType == eventType {
			count++
		}
	}
	return count
}

// MockNotifier implements Notifier and captures delivered alerts
type MockNotifier struct {
	mu     sync.Mutex
	alerts []models.Alert

	Err error
}

func (m *MockNotifier) Notify(ctx context.Context, alert models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *MockNotifier) Alerts() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	alerts := make([]models.Alert, len(m.alerts))
	copy(alerts, m.alerts)
	return alerts
}

// NewTestUser creates an active user for testing
func NewTestUser(email string) *models.User {
	now := time.Now().UTC()
	return &models.User{
		ID:        uuid.New(),
		Email:     email,
		Name:      "Test User",
		Role:      models.RoleUser,
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewTestAdmin creates an active administrator for testing
func NewTestAdmin(email string) *models.User {
	user := NewTestUser(email)
	user.Name = "Test Admin"
	user.Role = models.RoleAdmin
	return user
}

// NewTestUserWithStatus creates a user with the given account status
func NewTestUserWithStatus(email, status string) *models.User {
	user := NewTestUser(email)
	user.Status = status
	return user
}
