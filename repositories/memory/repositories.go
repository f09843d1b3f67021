package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/repositories"
)

// UserRepository implements repositories.UserRepository.
// User writes are not transactional; an upsert survives a rollback.
type UserRepository struct {
	store *Store
}

// FindOrCreate returns the user for username, creating or refreshing it
func (r *UserRepository) FindOrCreate(ctx context.Context, username, email string, role models.UserRole) (*models.User, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := models.NewUser(username, email, role)
	if id, ok := s.usersByName[username]; ok {
		u := s.users[id]
		if u.EmailValue() != email || u.Role != role {
			u.Email = fresh.Email
			u.Role = role
			u.UpdatedAt = fresh.UpdatedAt
		}
		c := *u
		return &c, nil
	}

	s.nextUserID++
	fresh.ID = s.nextUserID
	s.users[fresh.ID] = fresh
	s.usersByName[username] = fresh.ID
	c := *fresh
	return &c, nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, repositories.ErrNotFound)
	}
	c := *u
	return &c, nil
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByName[username]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, repositories.ErrNotFound)
	}
	c := *s.users[id]
	return &c, nil
}

// Count returns the number of known users
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), nil
}

// ListActivity returns every user with request and review counts, most active first
func (r *UserRepository) ListActivity(ctx context.Context) ([]*repositories.UserActivity, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser := make(map[int64]*repositories.UserActivity, len(s.users))
	result := make([]*repositories.UserActivity, 0, len(s.users))
	for _, u := range s.users {
		c := *u
		a := &repositories.UserActivity{User: &c}
		byUser[u.ID] = a
		result = append(result, a)
	}

	for _, req := range s.requests {
		if a, ok := byUser[req.RequesterID]; ok {
			a.RequestCount++
			if req.Status == models.StatusApproved || req.Status == models.StatusExpired {
				a.ApprovedCount++
			}
			if a.LastRequestAt == nil || req.CreatedAt.After(*a.LastRequestAt) {
				t := req.CreatedAt
				a.LastRequestAt = &t
			}
		}
		if req.ApproverID != nil {
			if a, ok := byUser[*req.ApproverID]; ok {
				a.ReviewedCount++
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].RequestCount != result[j].RequestCount {
			return result[i].RequestCount > result[j].RequestCount
		}
		return result[i].User.Username < result[j].User.Username
	})
	return result, nil
}

// RequestRepository implements repositories.RequestRepository
type RequestRepository struct {
	store *Store
}

// Create inserts a request and sets its ID
func (r *RequestRepository) Create(ctx context.Context, req *models.Request) error {
	s := r.store
	tx := s.txFrom(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.SecretName != nil && r.nameOwnedLocked(tx, *req.SecretName) {
		return fmt.Errorf("secret name %q: %w", *req.SecretName, repositories.ErrDuplicate)
	}

	s.nextRequestID++
	req.ID = s.nextRequestID
	stored := req.Clone()
	if tx != nil {
		tx.staged[req.ID] = stored
		tx.created[req.ID] = true
		return nil
	}
	s.requests[req.ID] = stored
	return nil
}

// GetByID retrieves a request by ID
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*models.Request, error) {
	s := r.store
	tx := s.txFrom(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	return r.getLocked(tx, id)
}

// GetByIDForUpdate retrieves a request and holds its row lock until the transaction ends.
// Outside a transaction it behaves like GetByID.
func (r *RequestRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.Request, error) {
	s := r.store
	tx := s.txFrom(ctx)
	if tx != nil && !tx.locked[id] && !tx.created[id] {
		s.mu.Lock()
		_, exists := s.requests[id]
		s.mu.Unlock()
		if !exists {
			return nil, fmt.Errorf("request %d: %w", id, repositories.ErrNotFound)
		}
		if err := s.lockRow(ctx, id); err != nil {
			return nil, err
		}
		tx.locked[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return r.getLocked(tx, id)
}

// GetBySecretName retrieves the request that owns a live secret name
func (r *RequestRepository) GetBySecretName(ctx context.Context, name string) (*models.Request, error) {
	s := r.store
	tx := s.txFrom(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := r.findByNameLocked(tx, name)
	if !ok {
		return nil, fmt.Errorf("request %v: %w", name, repositories.ErrNotFound)
	}
	return r.getLocked(tx, id)
}

// GetBySecretNameForUpdate retrieves the owner of a secret name and locks its row.
// The owner is re-checked after the lock is acquired.
func (r *RequestRepository) GetBySecretNameForUpdate(ctx context.Context, name string) (*models.Request, error) {
	s := r.store
	tx := s.txFrom(ctx)

	s.mu.Lock()
	id, ok := r.findByNameLocked(tx, name)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("request %v: %w", name, repositories.ErrNotFound)
	}

	req, err := r.GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.SecretName == nil || *req.SecretName != name {
		return nil, fmt.Errorf("request %v: %w", name, repositories.ErrNotFound)
	}
	return req, nil
}

// List returns requests newest first together with the unpaged total
func (r *RequestRepository) List(ctx context.Context, filter repositories.RequestFilter) ([]*models.Request, int, error) {
	s := r.store
	tx := s.txFrom(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.Request
	for _, req := range r.visibleLocked(tx) {
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		if filter.RequesterID != nil && req.RequesterID != *filter.RequesterID {
			continue
		}
		matched = append(matched, req)
	}
	sortNewestFirst(matched)

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*models.Request, 0, len(matched))
	for _, req := range matched {
		out = append(out, r.withUsernamesLocked(req))
	}
	return out, total, nil
}

// ListLiveSecrets returns approved requests that still hold a secret name
func (r *RequestRepository) ListLiveSecrets(ctx context.Context) ([]*models.Request, error) {
	s := r.store
	tx := s.txFrom(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	var live []*models.Request
	for _, req := range r.visibleLocked(tx) {
		if req.HasLiveSecret() {
			live = append(live, req)
		}
	}
	sortNewestFirst(live)

	out := make([]*models.Request, 0, len(live))
	for _, req := range live {
		out = append(out, r.withUsernamesLocked(req))
	}
	return out, nil
}

// ReserveSecretName claims a name permanently once the transaction commits.
// A name held by another open transaction is reported as a duplicate without waiting.
func (r *RequestRepository) ReserveSecretName(ctx context.Context, name string) error {
	s := r.store
	tx := s.txFrom(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.names[name]; ok {
		return fmt.Errorf("secret name %q: %w", name, repositories.ErrDuplicate)
	}
	if _, ok := s.reserved[name]; ok {
		return fmt.Errorf("secret name %q: %w", name, repositories.ErrDuplicate)
	}
	if tx == nil {
		s.names[name] = struct{}{}
		return nil
	}
	s.reserved[name] = tx
	tx.names = append(tx.names, name)
	return nil
}

// Update persists status, secret name, approver and resource changes
func (r *RequestRepository) Update(ctx context.Context, req *models.Request) error {
	s := r.store
	tx := s.txFrom(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := r.getLocked(tx, req.ID)
	if err != nil {
		return err
	}
	if req.SecretName != nil && current.SecretNameValue() != *req.SecretName && r.nameOwnedLocked(tx, *req.SecretName) {
		return fmt.Errorf("secret name %q: %w", *req.SecretName, repositories.ErrDuplicate)
	}

	updated := current.Clone()
	updated.Resource = req.Resource
	updated.Status = req.Status
	updated.SecretName = req.Clone().SecretName
	updated.ApproverID = req.Clone().ApproverID
	updated.UpdatedAt = req.UpdatedAt
	updated.Requester = ""
	updated.Approver = nil

	if tx != nil {
		tx.staged[req.ID] = updated
		return nil
	}
	s.requests[req.ID] = updated
	return nil
}

// CountByStatus returns the number of requests per status
func (r *RequestRepository) CountByStatus(ctx context.Context) (map[models.RequestStatus]int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := map[models.RequestStatus]int{
		models.StatusPending:  0,
		models.StatusApproved: 0,
		models.StatusRejected: 0,
		models.StatusExpired:  0,
	}
	for _, req := range s.requests {
		counts[req.Status]++
	}
	return counts, nil
}

// CountByDay returns per-day, per-status counts of requests created since the given time
func (r *RequestRepository) CountByDay(ctx context.Context, since time.Time) ([]*repositories.DailyCount, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		day    string
		status models.RequestStatus
	}
	counts := make(map[key]int)
	for _, req := range s.requests {
		if req.CreatedAt.Before(since) {
			continue
		}
		counts[key{req.CreatedAt.UTC().Format("2006-01-02"), req.Status}]++
	}

	result := make([]*repositories.DailyCount, 0, len(counts))
	for k, n := range counts {
		result = append(result, &repositories.DailyCount{Date: k.day, Status: k.status, Count: n})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date < result[j].Date
		}
		return result[i].Status < result[j].Status
	})
	return result, nil
}

// getLocked returns a copy of the request as seen by tx. Caller holds s.mu.
func (r *RequestRepository) getLocked(tx *Transaction, id int64) (*models.Request, error) {
	s := r.store
	if tx != nil {
		if req, ok := tx.staged[id]; ok {
			return r.withUsernamesLocked(req), nil
		}
	}
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %d: %w", id, repositories.ErrNotFound)
	}
	return r.withUsernamesLocked(req), nil
}

// visibleLocked returns the requests visible to tx. Caller holds s.mu.
func (r *RequestRepository) visibleLocked(tx *Transaction) []*models.Request {
	s := r.store
	out := make([]*models.Request, 0, len(s.requests))
	for id, req := range s.requests {
		if tx != nil {
			if staged, ok := tx.staged[id]; ok {
				out = append(out, staged)
				continue
			}
		}
		out = append(out, req)
	}
	if tx != nil {
		for id := range tx.created {
			out = append(out, tx.staged[id])
		}
	}
	return out
}

func (r *RequestRepository) findByNameLocked(tx *Transaction, name string) (int64, bool) {
	for _, req := range r.visibleLocked(tx) {
		if req.SecretName != nil && *req.SecretName == name {
			return req.ID, true
		}
	}
	return 0, false
}

func (r *RequestRepository) nameOwnedLocked(tx *Transaction, name string) bool {
	_, ok := r.findByNameLocked(tx, name)
	return ok
}

func (r *RequestRepository) withUsernamesLocked(req *models.Request) *models.Request {
	s := r.store
	c := req.Clone()
	if u, ok := s.users[c.RequesterID]; ok {
		c.Requester = u.Username
	}
	if c.ApproverID != nil {
		if u, ok := s.users[*c.ApproverID]; ok {
			name := u.Username
			c.Approver = &name
		}
	}
	return c
}

func sortNewestFirst(reqs []*models.Request) {
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
		}
		return reqs[i].ID > reqs[j].ID
	})
}

// AuditRepository implements repositories.AuditRepository
type AuditRepository struct {
	store *Store
}

// Insert appends an entry; inside a transaction it is applied on commit
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	s := r.store
	tx := s.txFrom(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAuditID++
	log.ID = s.nextAuditID
	c := *log
	if tx != nil {
		tx.audit = append(tx.audit, &c)
		return nil
	}
	s.audit = append(s.audit, &c)
	return nil
}

// List returns entries most recent first
func (r *AuditRepository) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	all := r.newestFirstLocked(func(*models.AuditLog) bool { return true })
	if offset >= len(all) {
		return []*models.AuditLog{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ListByRequest returns every entry for a request, most recent first
func (r *AuditRepository) ListByRequest(ctx context.Context, requestID int64) ([]*models.AuditLog, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	return r.newestFirstLocked(func(l *models.AuditLog) bool {
		return l.RequestID != nil && *l.RequestID == requestID
	}), nil
}

// Count returns the total number of entries
func (r *AuditRepository) Count(ctx context.Context) (int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audit), nil
}

func (r *AuditRepository) newestFirstLocked(keep func(*models.AuditLog) bool) []*models.AuditLog {
	s := r.store
	out := make([]*models.AuditLog, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		if keep(s.audit[i]) {
			c := *s.audit[i]
			out = append(out, &c)
		}
	}
	return out
}
