package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vitalspan/metrics-cache/internal/models"
)

// MockRawDataStore is an in-memory RawDataStore and RawDataWriter for testing
type MockRawDataStore struct {
	mu          sync.RWMutex
	Users       map[string]*models.User
	Readings    map[string][]*models.WearableReading
	Assessments map[string][]*models.Assessment

	// Error injection
	ReadErr   error
	UserErrs  map[string]error // per-user read failures
	ListErr   error
	WriteErr  error
	ReadDelay time.Duration
	readCalls atomic.Int64
	listCalls atomic.Int64
}

// NewMockRawDataStore creates an empty mock store
func NewMockRawDataStore() *MockRawDataStore {
	return &MockRawDataStore{
		Users:       make(map[string]*models.User),
		Readings:    make(map[string][]*models.WearableReading),
		Assessments: make(map[string][]*models.Assessment),
		UserErrs:    make(map[string]error),
	}
}

// ReadCalls returns how many per-user reads were served
func (m *MockRawDataStore) ReadCalls() int64 {
	return m.readCalls.Load()
}

// ListCalls returns how many user listings were served
func (m *MockRawDataStore) ListCalls() int64 {
	return m.listCalls.Load()
}

// AddReading appends a reading for its user
func (m *MockRawDataStore) AddReading(r *models.WearableReading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	m.Readings[r.UserID] = append(m.Readings[r.UserID], r)
}

// AddAssessment appends an assessment for its user
func (m *MockRawDataStore) AddAssessment(a *models.Assessment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	m.Assessments[a.UserID] = append(m.Assessments[a.UserID], a)
}

func (m *MockRawDataStore) readGate(ctx context.Context, userID string) error {
	m.readCalls.Add(1)
	if m.ReadDelay > 0 {
		select {
		case <-time.After(m.ReadDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.ReadErr != nil {
		return m.ReadErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.UserErrs[userID]
}

func (m *MockRawDataStore) GetWearableReadings(ctx context.Context, userID string, start, end time.Time) ([]*models.WearableReading, error) {
	if err := m.readGate(ctx, userID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.WearableReading
	for _, r := range m.Readings[userID] {
		if !r.RecordedAt.Before(start) && r.RecordedAt.Before(end) {
			result = append(result, r)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].RecordedAt.Before(result[j].RecordedAt) })
	return result, nil
}

func (m *MockRawDataStore) GetAssessments(ctx context.Context, userID string, start, end time.Time) ([]*models.Assessment, error) {
	if err := m.readGate(ctx, userID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.Assessment
	for _, a := range m.Assessments[userID] {
		if !a.CreatedAt.Before(start) && a.CreatedAt.Before(end) {
			result = append(result, a)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MockRawDataStore) GetActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	m.listCalls.Add(1)
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make(map[string]struct{})
	for userID, readings := range m.Readings {
		for _, r := range readings {
			if !r.RecordedAt.Before(since) {
				active[userID] = struct{}{}
				break
			}
		}
	}
	for userID, assessments := range m.Assessments {
		for _, a := range assessments {
			if !a.CreatedAt.Before(since) {
				active[userID] = struct{}{}
				break
			}
		}
	}
	return sortedKeys(active), nil
}

func (m *MockRawDataStore) GetUsersWithMinTrackedDays(ctx context.Context, minDays int) ([]string, error) {
	m.listCalls.Add(1)
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make(map[string]struct{})
	for userID, readings := range m.Readings {
		days := make(map[string]struct{})
		for _, r := range readings {
			days[r.RecordedAt.UTC().Format("2006-01-02")] = struct{}{}
		}
		if len(days) >= minDays {
			matched[userID] = struct{}{}
		}
	}
	return sortedKeys(matched), nil
}

func (m *MockRawDataStore) CreateUser(ctx context.Context, user *models.User) (bool, error) {
	if m.WriteErr != nil {
		return false, m.WriteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.Users[user.ID]; exists {
		return false, nil
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	m.Users[user.ID] = user
	return true, nil
}

func (m *MockRawDataStore) InsertWearableReading(ctx context.Context, r *models.WearableReading) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid reading: %w", err)
	}
	m.AddReading(r)
	return nil
}

func (m *MockRawDataStore) InsertAssessment(ctx context.Context, a *models.Assessment) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.AddAssessment(a)
	return nil
}

func (m *MockRawDataStore) Close() error {
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MockRedisClient is an in-memory RedisClient for testing.
// String keys honour TTLs against Now; hashes never expire.
type MockRedisClient struct {
	mu         sync.Mutex
	Data       map[string]string
	Hashes     map[string]map[string]string
	expiry     map[string]time.Time
	StreamData []StreamMessage
	Acked      []string
	Published  []PubSubMessage
	subs       []mockSubscription
	Now        func() time.Time

	PublishErr   error
	GetErr       error
	SetErr       error
	HashGetErr   error
	HashSetErr   error
	DeleteErr    error
	ScanErr      error
	SubscribeErr error
	ConsumeErr   error

	// HashUpdateConflicts simulates concurrent writers on the next N atomic updates
	HashUpdateConflicts int

	HashSetCalls int
}

type mockSubscription struct {
	ctx      context.Context
	channels map[string]struct{}
	ch       chan PubSubMessage
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{
		Data:   make(map[string]string),
		Hashes: make(map[string]map[string]string),
		expiry: make(map[string]time.Time),
		Now:    time.Now,
	}
}

// expire drops a string key whose TTL has passed; caller holds mu
func (m *MockRedisClient) expire(key string) {
	if at, ok := m.expiry[key]; ok && !m.Now().Before(at) {
		delete(m.Data, key)
		delete(m.expiry, key)
	}
}

func (m *MockRedisClient) PublishToStream(ctx context.Context, stream string, key string, value interface{}) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamData = append(m.StreamData, StreamMessage{
		ID:     fmt.Sprintf("%d-0", len(m.StreamData)+1),
		Stream: stream,
		Values: map[string]interface{}{key: string(jsonData)},
	})
	return nil
}

func (m *MockRedisClient) ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan StreamMessage, error) {
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan StreamMessage, len(m.StreamData))
	for _, msg := range m.StreamData {
		if msg.Stream == stream {
			ch <- msg
		}
	}
	close(ch)
	return ch, nil
}

func (m *MockRedisClient) AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Acked = append(m.Acked, id)
	return nil
}

// AckedIDs returns a copy of acknowledged stream message IDs
func (m *MockRedisClient) AckedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Acked...)
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.SetErr != nil {
		return m.SetErr
	}
	// Marshal to JSON like the real implementation
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Data[key] = string(jsonData)
	if ttl > 0 {
		m.expiry[key] = m.Now().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
	return nil
}

func (m *MockRedisClient) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	if m.SetErr != nil {
		return false, m.SetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	if _, exists := m.Data[key]; exists {
		return false, nil
	}
	m.Data[key] = value
	if ttl > 0 {
		m.expiry[key] = m.Now().Add(ttl)
	}
	return true, nil
}

func (m *MockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetErr != nil {
		return "", m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	return m.Data[key], nil
}

func (m *MockRedisClient) Delete(ctx context.Context, keys ...string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.Data, key)
		delete(m.expiry, key)
		delete(m.Hashes, key)
	}
	return nil
}

func (m *MockRedisClient) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	if _, exists := m.Data[key]; exists {
		return true, nil
	}
	_, exists := m.Hashes[key]
	return exists, nil
}

func (m *MockRedisClient) HashGet(ctx context.Context, key string, field string) (string, bool, error) {
	if m.HashGetErr != nil {
		return "", false, m.HashGetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	value, found := m.Hashes[key][field]
	return value, found, nil
}

func (m *MockRedisClient) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.HashGetErr != nil {
		return nil, m.HashGetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]string, len(m.Hashes[key]))
	for f, v := range m.Hashes[key] {
		result[f] = v
	}
	return result, nil
}

func (m *MockRedisClient) HashSet(ctx context.Context, key string, values map[string]string) error {
	if m.HashSetErr != nil {
		return m.HashSetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HashSetCalls++
	h := m.hash(key)
	for f, v := range values {
		h[f] = v
	}
	return nil
}

func (m *MockRedisClient) HashSetNX(ctx context.Context, key string, field string, value string) (bool, error) {
	if m.HashSetErr != nil {
		return false, m.HashSetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hash(key)
	if _, exists := h[field]; exists {
		return false, nil
	}
	h[field] = value
	return true, nil
}

func (m *MockRedisClient) HashDelete(ctx context.Context, key string, fields ...string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.Hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(h, f)
	}
	if len(h) == 0 {
		delete(m.Hashes, key)
	}
	return nil
}

func (m *MockRedisClient) HashUpdate(ctx context.Context, key string, field string, maxRetries int, fn func(current string, found bool) (string, error)) error {
	if m.HashSetErr != nil {
		return m.HashSetErr
	}
	for attempt := 0; attempt <= maxRetries; attempt++ {
		m.mu.Lock()
		current, found := m.Hashes[key][field]
		m.mu.Unlock()

		next, err := fn(current, found)
		if err != nil {
			return err
		}

		m.mu.Lock()
		if m.HashUpdateConflicts > 0 {
			m.HashUpdateConflicts--
			m.mu.Unlock()
			continue
		}
		if now, ok := m.Hashes[key][field]; ok != found || now != current {
			m.mu.Unlock()
			continue
		}
		m.hash(key)[field] = next
		m.mu.Unlock()
		return nil
	}
	return fmt.Errorf("hash update on %s/%s: %w", key, field, ErrTxConflict)
}

func (m *MockRedisClient) hash(key string) map[string]string {
	h, ok := m.Hashes[key]
	if !ok {
		h = make(map[string]string)
		m.Hashes[key] = h
	}
	return h
}

func (m *MockRedisClient) ScanKeys(ctx context.Context, pattern string, count int64) ([]string, error) {
	if m.ScanErr != nil {
		return nil, m.ScanErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.Hashes {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	for key := range m.Data {
		m.expire(key)
		if _, live := m.Data[key]; !live {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MockRedisClient) MemoryUsage(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.Data[key]; ok {
		return int64(len(key) + len(v)), nil
	}
	h, ok := m.Hashes[key]
	if !ok {
		return 0, nil
	}
	size := int64(len(key))
	for f, v := range h {
		size += int64(len(f) + len(v))
	}
	return size, nil
}

func (m *MockRedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	jsonData, err := json.Marshal(message)
	if err != nil {
		return err
	}
	msg := PubSubMessage{Channel: channel, Message: string(jsonData)}

	m.mu.Lock()
	m.Published = append(m.Published, msg)
	subs := append([]mockSubscription(nil), m.subs...)
	m.mu.Unlock()

	for _, sub := range subs {
		if _, ok := sub.channels[channel]; !ok || sub.ctx.Err() != nil {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// PublishedMessages returns a copy of all pub/sub messages
func (m *MockRedisClient) PublishedMessages() []PubSubMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PubSubMessage(nil), m.Published...)
}

func (m *MockRedisClient) Subscribe(ctx context.Context, channels ...string) (<-chan PubSubMessage, error) {
	if m.SubscribeErr != nil {
		return nil, m.SubscribeErr
	}
	sub := mockSubscription{
		ctx:      ctx,
		channels: make(map[string]struct{}, len(channels)),
		ch:       make(chan PubSubMessage, 100),
	}
	for _, c := range channels {
		sub.channels[c] = struct{}{}
	}

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()

	out := make(chan PubSubMessage, 100)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-sub.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *MockRedisClient) Ping(ctx context.Context) error {
	return nil
}

func (m *MockRedisClient) Close() error {
	return nil
}
