package repository

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mmeshcher/donations-system/internal/model"
)

const (
	fundsCollection     = "funds"
	donationsCollection = "donations"
	usersCollection     = "users"
	historyCollection   = "history"
	eventsCollection    = "payment_events"
)

// FirestoreStore хранит данные в Cloud Firestore.
// Журнал сбора лежит в funds/{id}/donations, история пользователя в users/{id}/history.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore подключается к Firestore указанного проекта.
func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return NewFirestoreStoreFromClient(client), nil
}

// NewFirestoreStoreFromClient оборачивает уже созданный клиент.
func NewFirestoreStoreFromClient(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// Close закрывает клиент Firestore.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// InTx выполняет fn в транзакции Firestore. Записи копятся до конца fn,
// поскольку Firestore запрещает чтение после записи в одной транзакции.
func (s *FirestoreStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		tx := &firestoreTx{
			s:             s,
			t:             t,
			funds:         make(map[string]model.Fund),
			users:         make(map[string]model.User),
			absentEvents:  make(map[string]bool),
			stagedEvents:  make(map[string]model.PaymentEventRecord),
			createdFundID: make(map[string]bool),
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return tx.flush()
	})
}

// CreateUser создаёт пользователя, проверяя уникальность email в той же транзакции.
func (s *FirestoreStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		q := s.client.Collection(usersCollection).Where("email", "==", u.Email).Limit(1)
		docs, err := t.Documents(q).GetAll()
		if err != nil {
			return fmt.Errorf("query user by email: %w", err)
		}
		if len(docs) > 0 {
			return fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}

		if err := t.Create(s.client.Collection(usersCollection).Doc(u.ID), u); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return fmt.Errorf("%w: %s", ErrUserExists, u.ID)
			}
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
}

// GetUser возвращает пользователя по идентификатору.
func (s *FirestoreStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	snap, err := s.client.Collection(usersCollection).Doc(id).Get(ctx)
	return decodeUser(snap, err)
}

// GetUserByEmail возвращает пользователя по email.
func (s *FirestoreStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	docs, err := s.client.Collection(usersCollection).Where("email", "==", email).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query user by email: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrUserNotFound
	}
	return decodeUser(docs[0], nil)
}

// GetFund возвращает сбор по идентификатору.
func (s *FirestoreStore) GetFund(ctx context.Context, id string) (*model.Fund, error) {
	snap, err := s.client.Collection(fundsCollection).Doc(id).Get(ctx)
	return decodeFund(snap, err)
}

// ListDonations возвращает журнал пожертвований сбора, новые записи первыми. limit <= 0 снимает ограничение.
func (s *FirestoreStore) ListDonations(ctx context.Context, fundID string, limit int) ([]model.Donation, error) {
	q := s.client.Collection(fundsCollection).Doc(fundID).Collection(donationsCollection).
		OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var res []model.Donation
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate donations: %w", err)
		}
		var d model.Donation
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("decode donation: %w", err)
		}
		res = append(res, d)
	}
	return res, nil
}

// ListHistory возвращает историю пожертвований пользователя, новые записи первыми.
func (s *FirestoreStore) ListHistory(ctx context.Context, userID string) ([]model.HistoryEntry, error) {
	iter := s.client.Collection(usersCollection).Doc(userID).Collection(historyCollection).
		OrderBy("paidAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var res []model.HistoryEntry
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate history: %w", err)
		}
		var h model.HistoryEntry
		if err := doc.DataTo(&h); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		res = append(res, h)
	}
	return res, nil
}

// SavePaymentEvent сохраняет или обновляет запись о событии оплаты.
func (s *FirestoreStore) SavePaymentEvent(ctx context.Context, rec *model.PaymentEventRecord) error {
	if _, err := s.client.Collection(eventsCollection).Doc(rec.Key).Set(ctx, rec); err != nil {
		return fmt.Errorf("save payment event: %w", err)
	}
	return nil
}

// ListPaymentEvents возвращает события с указанным статусом, старые первыми.
// Запросу нужен составной индекс (status, updatedAt).
func (s *FirestoreStore) ListPaymentEvents(ctx context.Context, st model.PaymentEventStatus, limit int) ([]model.PaymentEventRecord, error) {
	q := s.client.Collection(eventsCollection).Where("status", "==", string(st)).OrderBy("updatedAt", firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query payment events: %w", err)
	}

	res := make([]model.PaymentEventRecord, 0, len(docs))
	for _, doc := range docs {
		var rec model.PaymentEventRecord
		if err := doc.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode payment event: %w", err)
		}
		res = append(res, rec)
	}
	return res, nil
}

type firestoreTx struct {
	s *FirestoreStore
	t *firestore.Transaction

	funds         map[string]model.Fund
	createdFundID map[string]bool
	users         map[string]model.User
	donations     []model.Donation
	history       []model.HistoryEntry
	stagedEvents  map[string]model.PaymentEventRecord
	absentEvents  map[string]bool
}

func (tx *firestoreTx) fundRef(id string) *firestore.DocumentRef {
	return tx.s.client.Collection(fundsCollection).Doc(id)
}

func (tx *firestoreTx) userRef(id string) *firestore.DocumentRef {
	return tx.s.client.Collection(usersCollection).Doc(id)
}

func (tx *firestoreTx) GetFundForUpdate(_ context.Context, id string) (*model.Fund, error) {
	if f, ok := tx.funds[id]; ok {
		return &f, nil
	}
	snap, err := tx.t.Get(tx.fundRef(id))
	return decodeFund(snap, err)
}

func (tx *firestoreTx) CreateFund(_ context.Context, f *model.Fund) error {
	tx.funds[f.ID] = *f
	tx.createdFundID[f.ID] = true
	return nil
}

func (tx *firestoreTx) SaveFund(_ context.Context, f *model.Fund) error {
	tx.funds[f.ID] = *f
	return nil
}

func (tx *firestoreTx) AppendDonation(_ context.Context, d *model.Donation) error {
	tx.donations = append(tx.donations, *d)
	return nil
}

func (tx *firestoreTx) GetUserForUpdate(_ context.Context, id string) (*model.User, error) {
	if u, ok := tx.users[id]; ok {
		res := cloneUser(u)
		return &res, nil
	}
	snap, err := tx.t.Get(tx.userRef(id))
	return decodeUser(snap, err)
}

func (tx *firestoreTx) GetUserByCustomerRefForUpdate(_ context.Context, customerRef string) (*model.User, error) {
	if customerRef == "" {
		return nil, ErrUserNotFound
	}
	for _, u := range tx.users {
		if u.CustomerRef == customerRef {
			res := cloneUser(u)
			return &res, nil
		}
	}

	q := tx.s.client.Collection(usersCollection).Where("customerRef", "==", customerRef).Limit(1)
	docs, err := tx.t.Documents(q).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query user by customer: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrUserNotFound
	}
	return decodeUser(docs[0], nil)
}

func (tx *firestoreTx) SaveUser(_ context.Context, u *model.User) error {
	tx.users[u.ID] = cloneUser(*u)
	return nil
}

func (tx *firestoreTx) AppendHistory(_ context.Context, h *model.HistoryEntry) error {
	tx.history = append(tx.history, *h)
	return nil
}

func (tx *firestoreTx) GetPaymentEvent(_ context.Context, key string) (*model.PaymentEventRecord, error) {
	if rec, ok := tx.stagedEvents[key]; ok {
		return &rec, nil
	}
	snap, err := tx.t.Get(tx.s.client.Collection(eventsCollection).Doc(key))
	if status.Code(err) == codes.NotFound {
		tx.absentEvents[key] = true
		return nil, ErrPaymentEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment event: %w", err)
	}
	var rec model.PaymentEventRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode payment event: %w", err)
	}
	return &rec, nil
}

func (tx *firestoreTx) SavePaymentEvent(_ context.Context, rec *model.PaymentEventRecord) error {
	tx.stagedEvents[rec.Key] = *rec
	return nil
}

func (tx *firestoreTx) flush() error {
	for id, f := range tx.funds {
		var err error
		if tx.createdFundID[id] {
			err = tx.t.Create(tx.fundRef(id), f)
		} else {
			err = tx.t.Set(tx.fundRef(id), f)
		}
		if err != nil {
			return fmt.Errorf("write fund: %w", err)
		}
	}
	for id, u := range tx.users {
		if err := tx.t.Set(tx.userRef(id), u); err != nil {
			return fmt.Errorf("write user: %w", err)
		}
	}
	for _, d := range tx.donations {
		ref := tx.fundRef(d.FundID).Collection(donationsCollection).Doc(d.ID)
		if err := tx.t.Create(ref, d); err != nil {
			return fmt.Errorf("write donation: %w", err)
		}
	}
	for _, h := range tx.history {
		ref := tx.userRef(h.UserID).Collection(historyCollection).Doc(h.ID)
		if err := tx.t.Create(ref, h); err != nil {
			return fmt.Errorf("write history entry: %w", err)
		}
	}
	for key, rec := range tx.stagedEvents {
		ref := tx.s.client.Collection(eventsCollection).Doc(key)
		var err error
		if tx.absentEvents[key] {
			// Параллельная доставка того же события провалит Create, и транзакция откатится.
			err = tx.t.Create(ref, rec)
		} else {
			err = tx.t.Set(ref, rec)
		}
		if err != nil {
			return fmt.Errorf("write payment event: %w", err)
		}
	}
	return nil
}

func decodeUser(snap *firestore.DocumentSnapshot, err error) (*model.User, error) {
	if status.Code(err) == codes.NotFound {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	var u model.User
	if err := snap.DataTo(&u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &u, nil
}

func decodeFund(snap *firestore.DocumentSnapshot, err error) (*model.Fund, error) {
	if status.Code(err) == codes.NotFound {
		return nil, ErrFundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get fund: %w", err)
	}
	var f model.Fund
	if err := snap.DataTo(&f); err != nil {
		return nil, fmt.Errorf("decode fund: %w", err)
	}
	return &f, nil
}
