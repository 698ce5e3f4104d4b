package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kentyler/cogito-sub006/internal/repository"
)

// MockStore is a thread-safe in-memory implementation of repository.Repository for testing.
type MockStore struct {
	mu sync.Mutex

	Bots   map[string]*repository.Bot
	Blocks map[string]*repository.Block // key: bot id
	Turns  map[string][]repository.Turn // key: block id

	// AppendErr fails every append while set. FailAppends fails only the next N.
	AppendErr   error
	FailAppends int
	CreateErr   error
	// AppendDelay slows every append, as a loaded database would.
	AppendDelay time.Duration

	AppendCalls     int
	TransitionCalls int

	Now func() time.Time
}

func NewMockStore() *MockStore {
	return &MockStore{
		Bots:   make(map[string]*repository.Bot),
		Blocks: make(map[string]*repository.Block),
		Turns:  make(map[string][]repository.Turn),
		Now:    time.Now,
	}
}

// AddBot seeds a bot in the given state and returns its id.
func (m *MockStore) AddBot(providerBotID string, state repository.BotState, lastTransitionAt time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.Bots[id] = &repository.Bot{
		ID:               id,
		ProviderBotID:    providerBotID,
		MeetingURL:       "https://meet.example/" + id,
		State:            state,
		CreatedAt:        lastTransitionAt,
		LastTransitionAt: lastTransitionAt,
	}
	return id
}

// TurnsForBot returns a copy of the bot's turns in sequence order.
func (m *MockStore) TurnsForBot(botID string) []repository.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Blocks[botID]
	if !ok {
		return nil
	}
	return slices.Clone(m.Turns[b.ID])
}

func (m *MockStore) CreateBot(_ context.Context, input repository.CreateBotInput) (*repository.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	id := uuid.NewString()
	b := &repository.Bot{
		ID:               id,
		MeetingURL:       input.MeetingURL,
		MeetingName:      input.MeetingName,
		ClientID:         input.ClientID,
		State:            repository.BotStateRequested,
		CreatedAt:        input.CreatedAt,
		LastTransitionAt: input.CreatedAt,
	}
	m.Bots[id] = b
	cp := *b
	return &cp, nil
}

func (m *MockStore) GetBot(_ context.Context, id string) (*repository.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Bots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MockStore) GetBotByProviderID(_ context.Context, providerBotID string) (*repository.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.Bots {
		if b.ProviderBotID != "" && b.ProviderBotID == providerBotID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockStore) TransitionBot(_ context.Context, input repository.TransitionInput) (*repository.Bot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TransitionCalls++
	b, ok := m.Bots[input.ID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if !slices.Contains(input.From, b.State) {
		cp := *b
		return &cp, false, nil
	}
	if input.ProviderBotID != "" {
		for id, other := range m.Bots {
			if id != input.ID && other.ProviderBotID == input.ProviderBotID {
				return nil, false, repository.ErrConflict
			}
		}
	}
	b.State = input.To
	b.LastTransitionAt = input.At
	if input.ProviderBotID != "" {
		b.ProviderBotID = input.ProviderBotID
	}
	if input.FailureReason != "" {
		b.FailureReason = input.FailureReason
	}
	cp := *b
	return &cp, true, nil
}

func (m *MockStore) ListBotsByState(_ context.Context, states []repository.BotState) ([]repository.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []repository.Bot
	for _, b := range m.Bots {
		if slices.Contains(states, b.State) {
			list = append(list, *b)
		}
	}
	slices.SortFunc(list, func(a, b repository.Bot) int {
		return a.LastTransitionAt.Compare(b.LastTransitionAt)
	})
	return list, nil
}

func (m *MockStore) GetOrCreateBlock(_ context.Context, botID string) (*repository.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.Blocks[botID]; ok {
		cp := *b
		return &cp, nil
	}
	b := &repository.Block{ID: uuid.NewString(), BotID: botID, CreatedAt: m.Now()}
	m.Blocks[botID] = b
	cp := *b
	return &cp, nil
}

func (m *MockStore) GetBlockByBot(_ context.Context, botID string) (*repository.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Blocks[botID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MockStore) AppendTurn(_ context.Context, input repository.AppendTurnInput) (*repository.Turn, error) {
	m.mu.Lock()
	delay := m.AppendDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendCalls++
	if m.AppendErr != nil {
		return nil, m.AppendErr
	}
	if m.FailAppends > 0 {
		m.FailAppends--
		return nil, fmt.Errorf("injected append failure")
	}
	var block *repository.Block
	for _, b := range m.Blocks {
		if b.ID == input.BlockID {
			block = b
			break
		}
	}
	if block == nil {
		return nil, repository.ErrNotFound
	}
	block.LastSequence++
	ts := input.Timestamp
	if ts.IsZero() {
		ts = m.Now()
	}
	t := repository.Turn{
		ID:           uuid.NewString(),
		BlockID:      block.ID,
		Sequence:     block.LastSequence,
		Content:      input.Content,
		SourceType:   input.SourceType,
		SpeakerLabel: input.SpeakerLabel,
		Metadata:     input.Metadata,
		Timestamp:    ts,
	}
	m.Turns[block.ID] = append(m.Turns[block.ID], t)
	return &t, nil
}

func (m *MockStore) GetRecentTurns(_ context.Context, blockID string, limit int) ([]repository.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.Turns[blockID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return slices.Clone(turns), nil
}

func (m *MockStore) ListTurns(_ context.Context, blockID string) ([]repository.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.Turns[blockID]), nil
}

func (m *MockStore) TurnStatsByBot(_ context.Context, botID string) (repository.TurnStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Blocks[botID]
	if !ok {
		return repository.TurnStats{}, nil
	}
	turns := m.Turns[b.ID]
	if len(turns) == 0 {
		return repository.TurnStats{}, nil
	}
	last := turns[len(turns)-1].Timestamp
	return repository.TurnStats{Count: len(turns), LastTurnAt: &last}, nil
}
