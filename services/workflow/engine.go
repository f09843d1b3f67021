// Package workflow implements the access request lifecycle: creation, review,
// secret issuance and every later read or change of an issued secret.
//
// Each mutation runs in one ledger transaction that locks the request row,
// talks to the secret store while the lock is held, stages its audit entry and
// commits. Notifications and post-commit audit writes happen only after the
// commit returns.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/repositories"
	"github.com/upb/secretmanager/secretstore"
	"github.com/upb/secretmanager/services"
	"github.com/upb/secretmanager/services/audit"
	"github.com/upb/secretmanager/services/leakcheck"
	"go.uber.org/zap"
)

// Engine orchestrates the ledger, the secret store, the audit recorder and the notifier
type Engine struct {
	repos    *repositories.Repositories
	txMgr    repositories.TransactionManager
	store    secretstore.Store
	recorder *audit.Recorder
	notifier Notifier
	metrics  Metrics
	names    *NameGenerator
	logger   *zap.Logger
}

// NewEngine creates a workflow engine. notifier and metrics may be nil.
func NewEngine(
	repos *repositories.Repositories,
	txMgr repositories.TransactionManager,
	store secretstore.Store,
	recorder *audit.Recorder,
	notifier Notifier,
	metrics Metrics,
	logger *zap.Logger,
) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Engine{
		repos:    repos,
		txMgr:    txMgr,
		store:    store,
		recorder: recorder,
		notifier: notifier,
		metrics:  metrics,
		names:    NewNameGenerator(),
		logger:   logger,
	}
}

// ResolveUser returns the local mirror of the caller, creating it on first sight.
// The cached role is refreshed but never used for authorization.
func (e *Engine) ResolveUser(ctx context.Context, id *models.Identity) (*models.User, error) {
	if id == nil || id.Username == "" {
		return nil, services.ErrUnauthenticated
	}
	user, err := e.repos.Users.FindOrCreate(ctx, id.Username, id.Email, id.Role)
	if err != nil {
		return nil, services.WrapInternal("failed to resolve user", err)
	}
	return user, nil
}

// CreateRequest files a pending request owned by the caller
func (e *Engine) CreateRequest(ctx context.Context, id *models.Identity, in CreateRequestInput) (req *models.Request, err error) {
	defer func() { e.record("create", err) }()

	if id == nil {
		return nil, services.ErrUnauthenticated
	}
	resource := strings.TrimSpace(in.Resource)
	reason := strings.TrimSpace(in.Reason)
	if resource == "" || reason == "" {
		return nil, services.Validation("resource and reason are required")
	}
	if err := refuseCredentials("resource", resource); err != nil {
		return nil, err
	}
	if err := refuseCredentials("reason", reason); err != nil {
		return nil, err
	}

	user, err := e.ResolveUser(ctx, id)
	if err != nil {
		return nil, err
	}

	req = models.NewRequest(user.ID, resource, reason)
	entry := models.NewAuditLog(models.AuditActionRequestCreated, user.Username).
		WithActorUser(user.ID).
		WithDetailsf("Request created for resource: %s", resource)

	err = services.WithTransaction(ctx, e.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		if err := e.repos.Requests.Create(ctx, req); err != nil {
			return err
		}
		entry.WithRequest(req.ID)
		return e.recorder.Stage(ctx, entry)
	})
	if err != nil {
		return nil, asDomain("failed to create request", err)
	}
	req.Requester = user.Username

	e.recorder.Committed(entry)
	e.notifier.NewRequest(req.Clone())

	e.logger.Info("request created",
		zap.Int64("request_id", req.ID),
		zap.String("actor", user.Username),
		zap.String("resource", resource))
	return req, nil
}

// ListRequests pages through requests newest first.
// Plain users only ever see their own requests.
func (e *Engine) ListRequests(ctx context.Context, id *models.Identity, in ListRequestsInput) (*RequestList, error) {
	user, err := e.ResolveUser(ctx, id)
	if err != nil {
		return nil, err
	}

	filter := repositories.RequestFilter{
		Limit:  in.Limit,
		Offset: in.Offset,
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if in.Status != "" {
		status := models.RequestStatus(in.Status)
		if !status.Valid() {
			return nil, services.Validation(fmt.Sprintf("unknown status %q", in.Status))
		}
		filter.Status = &status
	}
	if !id.CanApprove() {
		filter.RequesterID = &user.ID
	}

	items, total, err := e.repos.Requests.List(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to list requests", err)
	}
	if items == nil {
		items = []*models.Request{}
	}
	return &RequestList{Requests: items, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// GetRequest returns one request if the caller may see it
func (e *Engine) GetRequest(ctx context.Context, id *models.Identity, requestID int64) (*models.Request, error) {
	user, err := e.ResolveUser(ctx, id)
	if err != nil {
		return nil, err
	}

	req, err := e.repos.Requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, asDomain("failed to get request", err)
	}
	if !id.CanApprove() && req.RequesterID != user.ID {
		return nil, services.ErrForbidden
	}
	return req, nil
}

// ApproveRequest writes the payload to the secret store and approves the request.
// The store write completes before the status change commits; if it fails the
// request stays pending and nothing is audited or announced.
func (e *Engine) ApproveRequest(ctx context.Context, id *models.Identity, requestID int64, payload map[string]interface{}) (req *models.Request, err error) {
	defer func() { e.record("approve", err) }()

	if id == nil {
		return nil, services.ErrUnauthenticated
	}
	if !id.CanApprove() {
		return nil, services.ErrApproverOnly
	}
	if len(payload) == 0 {
		return nil, services.Validation("secret data must be a non-empty object")
	}

	user, err := e.ResolveUser(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		entry   *models.AuditLog
		written string
	)
	req, err = services.WithTransactionResult(ctx, e.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.Request, error) {
		req, err := e.repos.Requests.GetByIDForUpdate(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != models.StatusPending {
			return nil, services.ErrInvalidStatus.WithDetail("status", req.Status)
		}

		name := e.names.Next(req.ID)
		if err := e.repos.Requests.ReserveSecretName(ctx, name); err != nil {
			return nil, err
		}
		if err := e.store.Write(ctx, name, payload); err != nil {
			e.logger.Warn("secret store write failed, request left pending",
				zap.Int64("request_id", req.ID),
				zap.String("secret_name", name),
				zap.Error(err))
			return nil, services.ErrStoreWriteFailed.Wrap(err)
		}
		written = name

		if err := req.Approve(user.ID, name); err != nil {
			return nil, services.ErrInvalidStatus
		}
		if err := e.repos.Requests.Update(ctx, req); err != nil {
			return nil, err
		}

		entry = models.NewAuditLog(models.AuditActionRequestApproved, user.Username).
			WithActorUser(user.ID).
			WithRequest(req.ID).
			WithDetailsf("Request approved and secret created: %s", name)
		if err := e.recorder.Stage(ctx, entry); err != nil {
			return nil, err
		}
		return req, nil
	})
	if err != nil {
		if written != "" {
			e.logger.Error("approval not committed after secret write, store entry orphaned",
				zap.Int64("request_id", requestID),
				zap.String("secret_name", written),
				zap.Error(err))
		}
		return nil, asDomain("failed to approve request", err)
	}
	approver := user.Username
	req.Approver = &approver

	e.recorder.Committed(entry)
	e.notifier.RequestStatusChanged(req.RequesterID, req.ID, models.StatusApproved, approvedMessage)

	e.logger.Info("request approved",
		zap.Int64("request_id", req.ID),
		zap.String("actor", user.Username),
		zap.String("secret_name", req.SecretNameValue()))
	return req, nil
}

// RejectRequest declines a pending request. An empty reason is recorded as "Request rejected".
func (e *Engine) RejectRequest(ctx context.Context, id *models.Identity, requestID int64, reason string) (req *models.Request, err error) {
	defer func() { e.record("reject", err) }()

	if id == nil {
		return nil, services.ErrUnauthenticated
	}
	if !id.CanApprove() {
		return nil, services.ErrApproverOnly
	}

	reason = strings.TrimSpace(reason)
	if err := refuseCredentials("reason", reason); err != nil {
		return nil, err
	}

	user, err := e.ResolveUser(ctx, id)
	if err != nil {
		return nil, err
	}

	message := reason
	details := "Request rejected: " + reason
	if reason == "" {
		message = defaultRejectText
		details = defaultRejectText
	}

	var entry *models.AuditLog
	req, err = services.WithTransactionResult(ctx, e.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.Request, error) {
		req, err := e.repos.Requests.GetByIDForUpdate(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if err := req.Reject(user.ID); err != nil {
			return nil, services.ErrInvalidStatus.WithDetail("status", req.Status)
		}
		if err := e.repos.Requests.Update(ctx, req); err != nil {
			return nil, err
		}

		entry = models.NewAuditLog(models.AuditActionRequestRejected, user.Username).
			WithActorUser(user.ID).
			WithRequest(req.ID).
			WithDetails(details)
		if err := e.recorder.Stage(ctx, entry); err != nil {
			return nil, err
		}
		return req, nil
	})
	if err != nil {
		return nil, asDomain("failed to reject request", err)
	}
	approver := user.Username
	req.Approver = &approver

	e.recorder.Committed(entry)
	e.notifier.RequestStatusChanged(req.RequesterID, req.ID, models.StatusRejected, message)

	e.logger.Info("request rejected",
		zap.Int64("request_id", req.ID),
		zap.String("actor", user.Username))
	return req, nil
}

// GetSecret returns the payload behind a live secret name.
// Access is gated on the ledger: a retired name is not found even if the store still holds it.
func (e *Engine) GetSecret(ctx context.Context, id *models.Identity, name string) (secret *SecretValue, err error) {
	defer func() { e.record("access", err) }()

	user, err := e.ResolveUser(ctx, id)
	if err != nil {
		return nil, err
	}

	req, err := e.repos.Requests.GetBySecretName(ctx, name)
	if err != nil {
		return nil, asSecretDomain("failed to look up secret", err)
	}
	if req.Status != models.StatusApproved {
		return nil, services.ErrInvalidStatus.WithDetail("status", req.Status)
	}
	if !id.CanApprove() && req.RequesterID != user.ID {
		return nil, services.ErrNotSecretHolder
	}

	data, err := e.store.Read(ctx, name)
	if err != nil {
		if errors.Is(err, secretstore.ErrNotFound) {
			e.logger.Error("live secret pointer has no payload in the store",
				zap.Int64("request_id", req.ID),
				zap.String("secret_name", name))
			return nil, services.ErrStoreReadFailed.Wrap(err).WithDetail("secret_name", name)
		}
		return nil, services.ErrStoreReadFailed.Wrap(err)
	}

	entry := models.NewAuditLog(models.AuditActionSecretAccessed, user.Username).
		WithActorUser(user.ID).
		WithRequest(req.ID).
		WithDetailsf("Secret accessed: %s", name)
	e.recordOutsideTx(ctx, entry)
	e.notifier.SecretAccess(req.RequesterID, name, true)

	e.logger.Info("secret accessed",
		zap.Int64("request_id", req.ID),
		zap.String("actor", user.Username),
		zap.String("secret_name", name))
	return &SecretValue{Name: name, RequestID: req.ID, Data: data}, nil
}

// AdminCreateSecret stores a secret under a chosen name and records it as an approved request owned by the admin
func (e *Engine) AdminCreateSecret(ctx context.Context, id *models.Identity, in AdminCreateSecretInput) (req *models.Request, err error) {
	defer func() { e.record("admin_create", err) }()

	if err := requireAdmin(id); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if err := validateSecretName(name); err != nil {
		return nil, err
	}
	if len(in.Data) == 0 {
		return nil, services.Validation("secret data must be a non-empty object")
	}

	user, err := e.ResolveUser(ctx, id)
	if err != nil {
		return nil, err
	}

	resource := strings.TrimSpace(in.Description)
	if err := refuseCredentials("description", resource); err != nil {
		return nil, err
	}
	if resource == "" {
		resource = "Admin-created secret: " + name
	}

	var (
		entry   *models.AuditLog
		written bool
	)
	req, err = services.WithTransactionResult(ctx, e.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.Request, error) {
		if _, err := e.repos.Requests.GetBySecretNameForUpdate(ctx, name); err == nil {
			return nil, services.ErrSecretNameTaken.WithDetail("name", name)
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return nil, err
		}
		if err := e.repos.Requests.ReserveSecretName(ctx, name); err != nil {
			return nil, err
		}
		if err := e.store.Write(ctx, name, in.Data); err != nil {
			return nil, services.ErrStoreWriteFailed.Wrap(err)
		}
		written = true

		req := models.NewRequest(user.ID, resource, adminCreatedReason)
		if err := req.Approve(user.ID, name); err != nil {
			return nil, services.ErrInvalidStatus
		}
		if err := e.repos.Requests.Create(ctx, req); err != nil {
			return nil, err
		}

		entry = models.NewAuditLog(models.AuditActionSecretCreated, user.Username).
			WithActorUser(user.ID).
			WithRequest(req.ID).
			WithDetailsf("Admin created secret: %s", name)
		if err := e.recorder.Stage(ctx, entry); err != nil {
			return nil, err
		}
		return req, nil
	})
	if err != nil {
		if written {
			e.logger.Error("secret creation not committed after secret write, store entry orphaned",
				zap.String("secret_name", name),
				zap.Error(err))
		}
		return nil, asDomain("failed to create secret", err)
	}
	req.Requester = user.Username
	req.Approver = &req.Requester

	e.recorder.Committed(entry)

	e.logger.Info("secret created by admin",
		zap.Int64("request_id", req.ID),
		zap.String("actor", user.Username),
		zap.String("secret_name", name))
	return req, nil
}

// UpdateSecret replaces the payload of a live secret and optionally rewrites its description
func (e *Engine) UpdateSecret(ctx context.Context, id *models.Identity, name string, in UpdateSecretInput) (err error) {
	defer func() { e.record("update", err) }()

	if err := requireAdmin(id); err != nil {
		return err
	}
	if len(in.Data) == 0 {
		return services.Validation("secret data must be a non-empty object")
	}
	if in.Description != nil {
		if err := refuseCredentials("description", *in.Description); err != nil {
			return err
		}
	}
	return e.rewriteSecret(ctx, id, name, in.Data, in.Description, models.AuditActionSecretUpdated, "Secret updated: %s")
}

// RotateSecret replaces the payload of a live secret without touching the request
func (e *Engine) RotateSecret(ctx context.Context, id *models.Identity, name string, payload map[string]interface{}) (err error) {
	defer func() { e.record("rotate", err) }()

	if err := requireAdmin(id); err != nil {
		return err
	}
	if len(payload) == 0 {
		return services.Validation("secret data must be a non-empty object")
	}
	return e.rewriteSecret(ctx, id, name, payload, nil, models.AuditActionSecretRotated, "Secret rotated: %s")
}

func (e *Engine) rewriteSecret(ctx context.Context, id *models.Identity, name string, payload map[string]interface{}, description *string, action models.AuditAction, details string) error {
	user, err := e.ResolveUser(ctx, id)
	if err != nil {
		return err
	}

	var entry *models.AuditLog
	err = services.WithTransaction(ctx, e.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		req, err := e.repos.Requests.GetBySecretNameForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if err := e.store.Write(ctx, name, payload); err != nil {
			return services.ErrStoreWriteFailed.Wrap(err)
		}
		if description != nil && strings.TrimSpace(*description) != "" {
			req.Resource = strings.TrimSpace(*description)
			if err := e.repos.Requests.Update(ctx, req); err != nil {
				return err
			}
		}

		entry = models.NewAuditLog(action, user.Username).
			WithActorUser(user.ID).
			WithRequest(req.ID).
			WithDetailsf(details, name)
		return e.recorder.Stage(ctx, entry)
	})
	if err != nil {
		return asSecretDomain("failed to write secret", err)
	}

	e.recorder.Committed(entry)
	e.logger.Info("secret rewritten",
		zap.String("action", string(action)),
		zap.String("actor", user.Username),
		zap.String("secret_name", name))
	return nil
}

// RetireSecret revokes access to a secret by clearing the ledger pointer and expiring the request.
// The store has no delete primitive, so the payload bytes stay where they are.
func (e *Engine) RetireSecret(ctx context.Context, id *models.Identity, name string) (err error) {
	defer func() { e.record("retire", err) }()

	if err := requireAdmin(id); err != nil {
		return err
	}
	user, err := e.ResolveUser(ctx, id)
	if err != nil {
		return err
	}

	var entry *models.AuditLog
	req, err := services.WithTransactionResult(ctx, e.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.Request, error) {
		req, err := e.repos.Requests.GetBySecretNameForUpdate(ctx, name)
		if err != nil {
			return nil, err
		}
		if err := req.Retire(); err != nil {
			return nil, services.ErrInvalidStatus.WithDetail("status", req.Status)
		}
		if err := e.repos.Requests.Update(ctx, req); err != nil {
			return nil, err
		}

		entry = models.NewAuditLog(models.AuditActionSecretDeleted, user.Username).
			WithActorUser(user.ID).
			WithRequest(req.ID).
			WithDetailsf("Secret deleted: %s", name)
		if err := e.recorder.Stage(ctx, entry); err != nil {
			return nil, err
		}
		return req, nil
	})
	if err != nil {
		return asSecretDomain("failed to retire secret", err)
	}

	e.recorder.Committed(entry)
	e.notifier.RequestStatusChanged(req.RequesterID, req.ID, models.StatusExpired, retiredMessage)

	e.logger.Info("secret retired",
		zap.Int64("request_id", req.ID),
		zap.String("actor", user.Username),
		zap.String("secret_name", name))
	return nil
}

// ListSecrets returns every live secret pointer flagged with whether the store still lists it
func (e *Engine) ListSecrets(ctx context.Context, id *models.Identity) ([]*SecretSummary, error) {
	if id == nil {
		return nil, services.ErrUnauthenticated
	}
	if !id.CanApprove() {
		return nil, services.ErrApproverOnly
	}
	if _, err := e.ResolveUser(ctx, id); err != nil {
		return nil, err
	}

	live, err := e.repos.Requests.ListLiveSecrets(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list secrets", err)
	}
	names, err := e.store.List(ctx)
	if err != nil {
		return nil, services.ErrStoreReadFailed.Wrap(err)
	}
	stored := make(map[string]struct{}, len(names))
	for _, n := range names {
		stored[n] = struct{}{}
	}

	result := make([]*SecretSummary, 0, len(live))
	for _, req := range live {
		name := req.SecretNameValue()
		_, ok := stored[name]
		if !ok {
			e.logger.Warn("ledger points at a secret missing from the store",
				zap.Int64("request_id", req.ID),
				zap.String("secret_name", name))
		}
		result = append(result, &SecretSummary{
			Name:          name,
			RequestID:     req.ID,
			Resource:      req.Resource,
			Requester:     req.Requester,
			Approver:      req.Approver,
			CreatedAt:     req.CreatedAt,
			UpdatedAt:     req.UpdatedAt,
			ExistsInStore: ok,
		})
	}
	return result, nil
}

// recordOutsideTx audits an operation that changed nothing in the ledger.
// A failed write is alerted on and never returned to the caller.
func (e *Engine) recordOutsideTx(ctx context.Context, entry *models.AuditLog) {
	if err := e.recorder.Stage(ctx, entry); err != nil {
		e.recorder.Failed(entry, err)
		return
	}
	e.recorder.Committed(entry)
}

func (e *Engine) record(action string, err error) {
	e.metrics.RecordTransition(action, outcome(err))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case services.IsExternalError(err):
		return "store_error"
	case services.IsInternalError(err), services.IsAuditError(err), services.GetErrorType(err) == "":
		return "error"
	default:
		return "denied"
	}
}

func requireAdmin(id *models.Identity) error {
	if id == nil {
		return services.ErrUnauthenticated
	}
	if !id.IsAdmin() {
		return services.ErrAdminOnly
	}
	return nil
}

func validateSecretName(name string) error {
	switch {
	case name == "":
		return services.Validation("secret name is required")
	case len(name) > 255:
		return services.Validation("secret name must be at most 255 characters")
	case strings.ContainsAny(name, "/ \t\n"):
		return services.Validation("secret name must not contain slashes or whitespace")
	}
	return nil
}

// refuseCredentials rejects free text that would put credential material in the ledger
func refuseCredentials(field, text string) error {
	if kinds := leakcheck.Kinds(text); len(kinds) > 0 {
		return services.Validation(field+" must not contain credentials, store them as secret data").
			WithDetail("field", field).
			WithDetail("detected", kinds)
	}
	return nil
}

// asDomain maps repository errors onto the domain taxonomy and leaves domain errors untouched
func asDomain(message string, err error) error {
	var domainErr *services.DomainError
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, repositories.ErrNotFound):
		return services.ErrRequestNotFound
	case errors.Is(err, repositories.ErrDuplicate):
		return services.ErrSecretNameTaken
	}
	return services.WrapInternal(message, err)
}

// asSecretDomain is asDomain for operations addressed by secret name
func asSecretDomain(message string, err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		var domainErr *services.DomainError
		if !errors.As(err, &domainErr) {
			return services.ErrSecretNotFound
		}
	}
	return asDomain(message, err)
}
