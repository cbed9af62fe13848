// Package memory is a process-local Store. A unit of work holds one mutex for its whole
// duration and is rolled back by restoring the snapshot taken when it started.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Nzyazin/bidfunds/internal/core/models"
	"github.com/Nzyazin/bidfunds/internal/core/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type state struct {
	wallets      map[uuid.UUID]models.Wallet
	owners       map[string]uuid.UUID
	ledger       []models.Transaction
	ledgerIndex  map[uuid.UUID]int
	reservations map[uuid.UUID]models.Reservation
	deposits     map[uuid.UUID]models.Deposit
	references   map[string]uuid.UUID
}

func newState() *state {
	return &state{
		wallets:      make(map[uuid.UUID]models.Wallet),
		owners:       make(map[string]uuid.UUID),
		ledgerIndex:  make(map[uuid.UUID]int),
		reservations: make(map[uuid.UUID]models.Reservation),
		deposits:     make(map[uuid.UUID]models.Deposit),
		references:   make(map[string]uuid.UUID),
	}
}

func (s *state) clone() *state {
	c := &state{
		wallets:      make(map[uuid.UUID]models.Wallet, len(s.wallets)),
		owners:       make(map[string]uuid.UUID, len(s.owners)),
		ledger:       s.ledger[:len(s.ledger):len(s.ledger)],
		ledgerIndex:  make(map[uuid.UUID]int, len(s.ledgerIndex)),
		reservations: make(map[uuid.UUID]models.Reservation, len(s.reservations)),
		deposits:     make(map[uuid.UUID]models.Deposit, len(s.deposits)),
		references:   make(map[string]uuid.UUID, len(s.references)),
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.owners {
		c.owners[k] = v
	}
	for k, v := range s.ledgerIndex {
		c.ledgerIndex[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.deposits {
		c.deposits[k] = v
	}
	for k, v := range s.references {
		c.references[k] = v
	}
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrTimeout, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(ctx, &memTx{st: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		s.st = snapshot
		return fmt.Errorf("%w: %v", repository.ErrTimeout, err)
	}
	return nil
}

type memTx struct {
	st *state
}

func (t *memTx) Wallets() repository.WalletRepository           { return walletRepo{t.st} }
func (t *memTx) Ledger() repository.LedgerRepository             { return ledgerRepo{t.st} }
func (t *memTx) Reservations() repository.ReservationRepository { return reservationRepo{t.st} }
func (t *memTx) Deposits() repository.DepositRepository         { return depositRepo{t.st} }

// Lock is a no-op: the store mutex already serializes every unit.
func (t *memTx) Lock(ctx context.Context, key string) error { return nil }

type walletRepo struct{ st *state }

func (r walletRepo) GetOrCreate(ctx context.Context, ownerID string, now time.Time) (*models.Wallet, error) {
	if id, ok := r.st.owners[ownerID]; ok {
		w := r.st.wallets[id]
		return &w, nil
	}
	w := models.Wallet{ID: uuid.New(), OwnerID: ownerID, IsActive: true, CreatedAt: now, UpdatedAt: now}
	for _, kind := range models.SubWalletKinds {
		w.SetSubWallet(models.NewSubWallet(w.ID, kind, now))
	}
	r.st.wallets[w.ID] = w
	r.st.owners[ownerID] = w.ID
	return &w, nil
}

func (r walletRepo) GetByOwner(ctx context.Context, ownerID string) (*models.Wallet, error) {
	id, ok := r.st.owners[ownerID]
	if !ok {
		return nil, fmt.Errorf("get wallet of owner %s: %w", ownerID, repository.ErrNotFound)
	}
	w := r.st.wallets[id]
	return &w, nil
}

func (r walletRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	w, ok := r.st.wallets[id]
	if !ok {
		return nil, fmt.Errorf("get wallet %s: %w", id, repository.ErrNotFound)
	}
	return &w, nil
}

func (r walletRepo) LockSubWallet(ctx context.Context, walletID uuid.UUID, kind models.SubWalletKind) (*models.SubWallet, error) {
	w, ok := r.st.wallets[walletID]
	if !ok {
		return nil, fmt.Errorf("lock sub-wallet %s/%s: %w", walletID, kind, repository.ErrNotFound)
	}
	sw, ok := w.SubWallet(kind)
	if !ok {
		return nil, fmt.Errorf("lock sub-wallet %s/%s: %w", walletID, kind, repository.ErrNotFound)
	}
	return &sw, nil
}

func (r walletRepo) SetBalance(ctx context.Context, walletID uuid.UUID, kind models.SubWalletKind, balance decimal.Decimal, now time.Time) error {
	if balance.IsNegative() {
		return repository.ErrNegativeBalance
	}
	w, ok := r.st.wallets[walletID]
	if !ok {
		return fmt.Errorf("update balance: %w", repository.ErrNotFound)
	}
	sw, ok := w.SubWallet(kind)
	if !ok {
		return fmt.Errorf("update balance: %w", repository.ErrNotFound)
	}
	sw.Balance = balance
	sw.Version++
	sw.UpdatedAt = now
	w.SetSubWallet(sw)
	r.st.wallets[walletID] = w
	return nil
}

func (r walletRepo) SetActive(ctx context.Context, walletID uuid.UUID, active bool, now time.Time) error {
	w, ok := r.st.wallets[walletID]
	if !ok {
		return fmt.Errorf("update wallet state: %w", repository.ErrNotFound)
	}
	w.IsActive = active
	w.UpdatedAt = now
	r.st.wallets[walletID] = w
	return nil
}

type ledgerRepo struct{ st *state }

func (r ledgerRepo) Append(ctx context.Context, entry *models.Transaction) error {
	if _, ok := r.st.ledgerIndex[entry.ID]; ok {
		return fmt.Errorf("append %s entry: %w", entry.Type, repository.ErrDuplicate)
	}
	r.st.ledgerIndex[entry.ID] = len(r.st.ledger)
	r.st.ledger = append(r.st.ledger, *entry)
	return nil
}

func (r ledgerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	i, ok := r.st.ledgerIndex[id]
	if !ok {
		return nil, fmt.Errorf("get transaction %s: %w", id, repository.ErrNotFound)
	}
	entry := r.st.ledger[i]
	return &entry, nil
}

func (r ledgerRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	for i := len(r.st.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if r.st.ledger[i].WalletID == walletID {
			out = append(out, r.st.ledger[i])
		}
	}
	return out, nil
}

func (r ledgerRepo) ListByWalletKind(ctx context.Context, walletID uuid.UUID, kind models.SubWalletKind) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, entry := range r.st.ledger {
		if entry.WalletID == walletID && entry.WalletKind == kind {
			out = append(out, entry)
		}
	}
	return out, nil
}

type reservationRepo struct{ st *state }

func (r reservationRepo) Create(ctx context.Context, res *models.Reservation) error {
	if _, ok := r.st.reservations[res.ID]; ok {
		return fmt.Errorf("create reservation: %w", repository.ErrDuplicate)
	}
	if res.Status == models.ReservationActive {
		for _, other := range r.st.reservations {
			if other.Status == models.ReservationActive && other.AuctionID == res.AuctionID && other.BidderID == res.BidderID {
				return fmt.Errorf("create reservation: active pair exists: %w", repository.ErrDuplicate)
			}
		}
	}
	r.st.reservations[res.ID] = *res
	return nil
}

func (r reservationRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	res, ok := r.st.reservations[id]
	if !ok {
		return nil, fmt.Errorf("get reservation %s: %w", id, repository.ErrNotFound)
	}
	return &res, nil
}

func (r reservationRepo) GetActiveByPair(ctx context.Context, auctionID, bidderID string) (*models.Reservation, error) {
	for _, res := range r.st.reservations {
		if res.Status == models.ReservationActive && res.AuctionID == auctionID && res.BidderID == bidderID {
			return &res, nil
		}
	}
	return nil, fmt.Errorf("get active reservation: %w", repository.ErrNotFound)
}

func (r reservationRepo) ListActiveByAuction(ctx context.Context, auctionID string, now time.Time) ([]models.Reservation, error) {
	var out []models.Reservation
	for _, res := range r.st.reservations {
		if res.AuctionID == auctionID && res.IsActiveAt(now) {
			out = append(out, res)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (r reservationRepo) SumActiveByBidder(ctx context.Context, bidderID, currency string, now time.Time, excludeID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, res := range r.st.reservations {
		if res.ID == excludeID || res.BidderID != bidderID || res.Currency != currency {
			continue
		}
		if res.IsActiveAt(now) {
			sum = sum.Add(res.ReservedAmount)
		}
	}
	return sum, nil
}

func (r reservationRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.ReservationStatus, now time.Time) error {
	res, ok := r.st.reservations[id]
	if !ok {
		return fmt.Errorf("update reservation status: %w", repository.ErrNotFound)
	}
	if res.Status != from {
		return fmt.Errorf("reservation %s is no longer %s: %w", id, from, repository.ErrConflict)
	}
	res.Status = to
	res.UpdatedAt = now
	r.st.reservations[id] = res
	return nil
}

func (r reservationRepo) UpdateAmount(ctx context.Context, id uuid.UUID, amount decimal.Decimal, expiresAt, now time.Time) error {
	res, ok := r.st.reservations[id]
	if !ok || res.Status != models.ReservationActive {
		return fmt.Errorf("reservation %s is no longer active: %w", id, repository.ErrConflict)
	}
	res.ReservedAmount = amount
	res.ExpiresAt = expiresAt
	res.UpdatedAt = now
	r.st.reservations[id] = res
	return nil
}

func (r reservationRepo) ExpireBefore(ctx context.Context, now time.Time) ([]models.Reservation, error) {
	var expired []models.Reservation
	for id, res := range r.st.reservations {
		if res.Status == models.ReservationActive && !res.ExpiresAt.After(now) {
			res.Status = models.ReservationExpired
			res.UpdatedAt = now
			r.st.reservations[id] = res
			expired = append(expired, res)
		}
	}
	sortByCreated(expired)
	return expired, nil
}

func (r reservationRepo) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]models.Reservation, error) {
	var out []models.Reservation
	for _, res := range r.st.reservations {
		if res.Status == models.ReservationActive && res.ExpiresAt.After(from) && !res.ExpiresAt.After(to) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func sortByCreated(list []models.Reservation) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID.String() < list[j].ID.String()
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

type depositRepo struct{ st *state }

func (r depositRepo) Create(ctx context.Context, d *models.Deposit) error {
	if _, ok := r.st.deposits[d.ID]; ok {
		return fmt.Errorf("create deposit: %w", repository.ErrDuplicate)
	}
	if _, ok := r.st.references[d.Reference]; ok {
		return fmt.Errorf("create deposit: reference %s: %w", d.Reference, repository.ErrDuplicate)
	}
	r.st.deposits[d.ID] = *d
	r.st.references[d.Reference] = d.ID
	return nil
}

func (r depositRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	d, ok := r.st.deposits[id]
	if !ok {
		return nil, fmt.Errorf("get deposit %s: %w", id, repository.ErrNotFound)
	}
	return &d, nil
}

func (r depositRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	return r.GetByID(ctx, id)
}

func (r depositRepo) MarkCompleted(ctx context.Context, id uuid.UUID, transactionID uuid.UUID, approverID string, now time.Time) error {
	d, ok := r.st.deposits[id]
	if !ok {
		return fmt.Errorf("complete deposit: %w", repository.ErrNotFound)
	}
	if d.Status != models.DepositPending {
		return fmt.Errorf("deposit %s is no longer pending: %w", id, repository.ErrConflict)
	}
	d.Status = models.DepositCompleted
	d.TransactionID = &transactionID
	d.ApprovedBy = &approverID
	d.UpdatedAt = now
	r.st.deposits[id] = d
	return nil
}

func (r depositRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.DepositStatus, now time.Time) error {
	d, ok := r.st.deposits[id]
	if !ok {
		return fmt.Errorf("update deposit status: %w", repository.ErrNotFound)
	}
	if d.Status != from {
		return fmt.Errorf("deposit %s is no longer %s: %w", id, from, repository.ErrConflict)
	}
	d.Status = to
	d.UpdatedAt = now
	r.st.deposits[id] = d
	return nil
}
