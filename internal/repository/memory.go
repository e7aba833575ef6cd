package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mmeshcher/donations-system/internal/model"
)

// MemoryStore хранит данные в памяти процесса. Транзакции сериализуются общим мьютексом,
// изменения применяются только при успешном завершении транзакции.
type MemoryStore struct {
	mu        sync.Mutex
	funds     map[string]model.Fund
	users     map[string]model.User
	donations map[string][]model.Donation
	history   map[string][]model.HistoryEntry
	events    map[string]model.PaymentEventRecord
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		funds:     make(map[string]model.Fund),
		users:     make(map[string]model.User),
		donations: make(map[string][]model.Donation),
		history:   make(map[string][]model.HistoryEntry),
		events:    make(map[string]model.PaymentEventRecord),
	}
}

// Close ничего не освобождает и нужен для соответствия интерфейсу Store.
func (s *MemoryStore) Close() error { return nil }

// InTx выполняет fn в транзакции. Внутри fn нельзя вызывать методы самого MemoryStore.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		s:      s,
		funds:  make(map[string]model.Fund),
		users:  make(map[string]model.User),
		events: make(map[string]model.PaymentEventRecord),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// CreateUser сохраняет нового пользователя.
func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email {
			return fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}
	}
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("%w: %s", ErrUserExists, u.ID)
	}
	s.users[u.ID] = cloneUser(*u)
	return nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	res := cloneUser(u)
	return &res, nil
}

// GetUserByEmail возвращает пользователя по email.
func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			res := cloneUser(u)
			return &res, nil
		}
	}
	return nil, ErrUserNotFound
}

// GetFund возвращает сбор по идентификатору.
func (s *MemoryStore) GetFund(_ context.Context, id string) (*model.Fund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.funds[id]
	if !ok {
		return nil, ErrFundNotFound
	}
	return &f, nil
}

// ListDonations возвращает журнал пожертвований сбора, новые записи первыми. limit <= 0 снимает ограничение.
func (s *MemoryStore) ListDonations(_ context.Context, fundID string, limit int) ([]model.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.donations[fundID]
	res := make([]model.Donation, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		res = append(res, log[i])
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res, nil
}

// ListHistory возвращает историю пожертвований пользователя, новые записи первыми.
func (s *MemoryStore) ListHistory(_ context.Context, userID string) ([]model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.history[userID]
	res := make([]model.HistoryEntry, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		res = append(res, log[i])
	}
	return res, nil
}

// SavePaymentEvent сохраняет или обновляет запись о событии оплаты.
func (s *MemoryStore) SavePaymentEvent(_ context.Context, rec *model.PaymentEventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[rec.Key] = *rec
	return nil
}

// ListPaymentEvents возвращает события с указанным статусом, старые первыми.
func (s *MemoryStore) ListPaymentEvents(_ context.Context, status model.PaymentEventStatus, limit int) ([]model.PaymentEventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.PaymentEventRecord
	for _, rec := range s.events {
		if rec.Status == status {
			res = append(res, rec)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.Before(res[j].UpdatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

type memoryTx struct {
	s         *MemoryStore
	funds     map[string]model.Fund
	users     map[string]model.User
	donations []model.Donation
	history   []model.HistoryEntry
	events    map[string]model.PaymentEventRecord
}

func (tx *memoryTx) GetFundForUpdate(_ context.Context, id string) (*model.Fund, error) {
	if f, ok := tx.funds[id]; ok {
		return &f, nil
	}
	f, ok := tx.s.funds[id]
	if !ok {
		return nil, ErrFundNotFound
	}
	return &f, nil
}

func (tx *memoryTx) CreateFund(_ context.Context, f *model.Fund) error {
	_, staged := tx.funds[f.ID]
	_, stored := tx.s.funds[f.ID]
	if staged || stored {
		return fmt.Errorf("fund %s already exists", f.ID)
	}
	tx.funds[f.ID] = *f
	return nil
}

func (tx *memoryTx) SaveFund(_ context.Context, f *model.Fund) error {
	_, staged := tx.funds[f.ID]
	_, stored := tx.s.funds[f.ID]
	if !staged && !stored {
		return ErrFundNotFound
	}
	tx.funds[f.ID] = *f
	return nil
}

func (tx *memoryTx) AppendDonation(_ context.Context, d *model.Donation) error {
	tx.donations = append(tx.donations, *d)
	return nil
}

func (tx *memoryTx) GetUserForUpdate(_ context.Context, id string) (*model.User, error) {
	if u, ok := tx.users[id]; ok {
		res := cloneUser(u)
		return &res, nil
	}
	u, ok := tx.s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	res := cloneUser(u)
	return &res, nil
}

func (tx *memoryTx) GetUserByCustomerRefForUpdate(ctx context.Context, customerRef string) (*model.User, error) {
	if customerRef == "" {
		return nil, ErrUserNotFound
	}
	for _, u := range tx.users {
		if u.CustomerRef == customerRef {
			res := cloneUser(u)
			return &res, nil
		}
	}
	for id, u := range tx.s.users {
		if _, staged := tx.users[id]; staged {
			continue
		}
		if u.CustomerRef == customerRef {
			res := cloneUser(u)
			return &res, nil
		}
	}
	return nil, ErrUserNotFound
}

func (tx *memoryTx) SaveUser(_ context.Context, u *model.User) error {
	if _, ok := tx.s.users[u.ID]; !ok {
		return ErrUserNotFound
	}
	tx.users[u.ID] = cloneUser(*u)
	return nil
}

func (tx *memoryTx) AppendHistory(_ context.Context, h *model.HistoryEntry) error {
	tx.history = append(tx.history, *h)
	return nil
}

func (tx *memoryTx) GetPaymentEvent(_ context.Context, key string) (*model.PaymentEventRecord, error) {
	if rec, ok := tx.events[key]; ok {
		return &rec, nil
	}
	rec, ok := tx.s.events[key]
	if !ok {
		return nil, ErrPaymentEventNotFound
	}
	return &rec, nil
}

func (tx *memoryTx) SavePaymentEvent(_ context.Context, rec *model.PaymentEventRecord) error {
	tx.events[rec.Key] = *rec
	return nil
}

func (tx *memoryTx) commit() {
	for id, f := range tx.funds {
		tx.s.funds[id] = f
	}
	for id, u := range tx.users {
		tx.s.users[id] = u
	}
	for _, d := range tx.donations {
		tx.s.donations[d.FundID] = append(tx.s.donations[d.FundID], d)
	}
	for _, h := range tx.history {
		tx.s.history[h.UserID] = append(tx.s.history[h.UserID], h)
	}
	for key, rec := range tx.events {
		tx.s.events[key] = rec
	}
}

func cloneUser(u model.User) model.User {
	if u.FundIDs != nil {
		u.FundIDs = append([]string(nil), u.FundIDs...)
	}
	return u
}
