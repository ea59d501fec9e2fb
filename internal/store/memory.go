package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-hours/timebank/internal/models"
)

// MemStore is an in-memory Store used by tests and local development. A
// single write lock covers every mutation, so each Store method is one
// atomic unit; critical sections are map lookups and field writes only.
type MemStore struct {
	mu         sync.RWMutex
	users      map[string]*models.User
	services   map[string]*models.Service
	handshakes map[string]*models.Handshake
	reps       map[string]*models.ReputationRep // keyed handshakeID+"/"+giverID
	messages   map[string][]*models.Message     // keyed by serviceID (room)
	transfers  []*models.TransferEntry
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:      make(map[string]*models.User),
		services:   make(map[string]*models.Service),
		handshakes: make(map[string]*models.Handshake),
		reps:       make(map[string]*models.ReputationRep),
		messages:   make(map[string][]*models.Message),
	}
}

func (s *MemStore) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrConflict
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) UpdateUser(_ context.Context, id string, fn func(*models.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	cp := *u
	if err := fn(&cp); err != nil {
		return err
	}
	s.users[id] = &cp
	return nil
}

func (s *MemStore) CreateService(_ context.Context, svc *models.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[svc.OwnerID]; !ok {
		return ErrNotFound
	}
	cp := *svc
	s.services[svc.ID] = &cp
	// Room lifetime equals service lifetime: the log exists from creation.
	s.messages[svc.ID] = nil
	return nil
}

func (s *MemStore) GetService(_ context.Context, id string) (*models.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *svc
	return &cp, nil
}

func (s *MemStore) ListServices(_ context.Context) ([]*models.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Service, 0, len(s.services))
	for _, svc := range s.services {
		cp := *svc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HotScore != out[j].HotScore {
			return out[i].HotScore > out[j].HotScore
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemStore) SetHotScore(_ context.Context, serviceID string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[serviceID]
	if !ok {
		return ErrNotFound
	}
	svc.HotScore = score
	return nil
}

func (s *MemStore) CreateHandshake(_ context.Context, h *models.Handshake) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[h.ServiceID]; !ok {
		return ErrNotFound
	}
	cp := *h
	s.handshakes[h.ID] = &cp
	return nil
}

func (s *MemStore) GetHandshake(_ context.Context, id string) (*models.Handshake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handshakes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *MemStore) ListHandshakesByUser(_ context.Context, userID string) ([]*models.Handshake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Handshake
	for _, h := range s.handshakes {
		if h.RequesterID == userID || h.ProviderID == userID {
			cp := *h
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) ListHandshakesByService(_ context.Context, serviceID string) ([]*models.Handshake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Handshake
	for _, h := range s.handshakes {
		if h.ServiceID == serviceID {
			cp := *h
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) UpdateHandshake(_ context.Context, id string, fn func(*models.Handshake) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handshakes[id]
	if !ok {
		return ErrNotFound
	}
	cp := *h
	if err := fn(&cp); err != nil {
		return err
	}
	cp.UpdatedAt = time.Now()
	s.handshakes[id] = &cp
	return nil
}

func (s *MemStore) Transfer(_ context.Context, fromID, toID string, amount float64, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferLocked(fromID, toID, amount, reference)
}

// transferLocked moves amount between two users. Callers hold s.mu.
func (s *MemStore) transferLocked(fromID, toID string, amount float64, reference string) error {
	from, ok := s.users[fromID]
	if !ok {
		return ErrNotFound
	}
	to, ok := s.users[toID]
	if !ok {
		return ErrNotFound
	}
	if from.Balance < amount {
		return ErrInsufficientBalance
	}
	now := time.Now()
	from.Balance -= amount
	to.Balance += amount
	s.transfers = append(s.transfers,
		&models.TransferEntry{
			ID:           uuid.New().String(),
			UserID:       fromID,
			Change:       -amount,
			BalanceAfter: from.Balance,
			Kind:         models.TransferDebit,
			Reference:    reference,
			CreatedAt:    now,
		},
		&models.TransferEntry{
			ID:           uuid.New().String(),
			UserID:       toID,
			Change:       amount,
			BalanceAfter: to.Balance,
			Kind:         models.TransferCredit,
			Reference:    reference,
			CreatedAt:    now,
		},
	)
	return nil
}

func (s *MemStore) ListTransfers(_ context.Context, userID string) ([]*models.TransferEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TransferEntry
	for _, e := range s.transfers {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) SettleHandshake(_ context.Context, handshakeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handshakes[handshakeID]
	if !ok {
		return ErrNotFound
	}
	if h.Status != models.HandshakeAccepted {
		return ErrConflict
	}
	if err := s.transferLocked(h.RequesterID, h.ProviderID, h.ProvisionedHours, h.ID); err != nil {
		return err
	}
	h.Status = models.HandshakeCompleted
	h.UpdatedAt = time.Now()
	return nil
}

func repKey(handshakeID, giverID string) string { return handshakeID + "/" + giverID }

func (s *MemStore) InsertReputation(_ context.Context, r *models.ReputationRep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := repKey(r.HandshakeID, r.GiverID)
	if _, ok := s.reps[key]; ok {
		return ErrDuplicateReputation
	}
	receiver, ok := s.users[r.ReceiverID]
	if !ok {
		return ErrNotFound
	}
	cp := *r
	s.reps[key] = &cp
	receiver.Karma += r.KarmaDelta()
	return nil
}

func (s *MemStore) ListReputationByReceiver(_ context.Context, userID string) ([]*models.ReputationRep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ReputationRep
	for _, r := range s.reps {
		if r.ReceiverID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) AppendMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[m.ServiceID]; !ok {
		return ErrNotFound
	}
	cp := *m
	s.messages[m.ServiceID] = append(s.messages[m.ServiceID], &cp)
	return nil
}

func (s *MemStore) ListMessages(_ context.Context, serviceID string, since time.Time) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.services[serviceID]; !ok {
		return nil, ErrNotFound
	}
	var out []*models.Message
	for _, m := range s.messages[serviceID] {
		if since.IsZero() || m.CreatedAt.After(since) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) ServiceActivity(_ context.Context, serviceID string) (ActivityStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.services[serviceID]; !ok {
		return ActivityStats{}, ErrNotFound
	}
	var stats ActivityStats
	for _, h := range s.handshakes {
		if h.ServiceID != serviceID {
			continue
		}
		if h.Status == models.HandshakeCompleted {
			stats.CompletedHandshakes++
		}
		for _, r := range s.reps {
			if r.HandshakeID == h.ID {
				stats.ReputationVolume++
			}
		}
	}
	log := s.messages[serviceID]
	stats.CommentCount = len(log)
	if n := len(log); n > 0 {
		stats.LastCommentAt = log[n-1].CreatedAt
	}
	return stats, nil
}
