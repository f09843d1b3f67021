// Package analytics serves read-only reports over the ledger and the audit trail
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/repositories"
	"github.com/upb/secretmanager/services"
	"go.uber.org/zap"
)

const (
	// DefaultAuditLimit is the audit page size when none is given
	DefaultAuditLimit = 100

	// MaxAuditLimit caps the audit page size
	MaxAuditLimit = 1000

	recentActivitySize = 10
	overviewDays       = 7
)

var periods = map[string]int{"7d": 7, "30d": 30, "90d": 90}

// StatusCounts holds request totals per status
type StatusCounts struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Expired  int `json:"expired"`
}

// DayTotal is the number of requests created on one day
type DayTotal struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Overview is the dashboard summary
type Overview struct {
	Requests       StatusCounts       `json:"requests"`
	TotalUsers     int                `json:"total_users"`
	LiveSecrets    int                `json:"live_secrets"`
	ApprovalRate   float64            `json:"approval_rate"`
	RequestsByDate []DayTotal         `json:"requests_by_date"`
	RecentActivity []*models.AuditLog `json:"recent_activity"`
}

// RequestTrend is the per-day breakdown over a period
type RequestTrend struct {
	Period  string                     `json:"period"`
	Since   time.Time                  `json:"since"`
	Daily   []*repositories.DailyCount `json:"daily"`
	Summary StatusCounts               `json:"summary"`
}

// UserReport lists users with their activity
type UserReport struct {
	Users   []*repositories.UserActivity `json:"users"`
	Summary map[models.UserRole]int      `json:"summary"`
}

// AuditPage is one page of the audit trail
type AuditPage struct {
	Entries []*models.AuditLog `json:"entries"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

// Service computes reports
type Service struct {
	repos  *repositories.Repositories
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates a new analytics service
func NewService(repos *repositories.Repositories, logger *zap.Logger) *Service {
	return &Service{
		repos:  repos,
		now:    time.Now,
		logger: logger,
	}
}

// Overview returns status counts, totals, the approval rate, the last week of
// daily request counts and the most recent audit entries
func (s *Service) Overview(ctx context.Context, id *models.Identity) (*Overview, error) {
	if err := requireApprover(id); err != nil {
		return nil, err
	}

	byStatus, err := s.repos.Requests.CountByStatus(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to count requests", err)
	}
	users, err := s.repos.Users.Count(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to count users", err)
	}
	live, err := s.repos.Requests.ListLiveSecrets(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list live secrets", err)
	}
	since := startOfDay(s.now()).AddDate(0, 0, -(overviewDays - 1))
	daily, err := s.repos.Requests.CountByDay(ctx, since)
	if err != nil {
		return nil, services.WrapInternal("failed to count requests by day", err)
	}
	recent, err := s.repos.AuditLogs.List(ctx, recentActivitySize, 0)
	if err != nil {
		return nil, services.WrapInternal("failed to list audit entries", err)
	}
	if recent == nil {
		recent = []*models.AuditLog{}
	}

	counts := toStatusCounts(byStatus)
	return &Overview{
		Requests:       counts,
		TotalUsers:     users,
		LiveSecrets:    len(live),
		ApprovalRate:   approvalRate(counts),
		RequestsByDate: perDay(daily, since, overviewDays),
		RecentActivity: recent,
	}, nil
}

// Requests returns daily per-status counts for 7d, 30d or 90d. The default period is 30d.
func (s *Service) Requests(ctx context.Context, id *models.Identity, period string) (*RequestTrend, error) {
	if err := requireApprover(id); err != nil {
		return nil, err
	}
	if period == "" {
		period = "30d"
	}
	days, ok := periods[period]
	if !ok {
		return nil, services.Validation(fmt.Sprintf("period must be one of 7d, 30d, 90d; got %q", period))
	}

	since := startOfDay(s.now()).AddDate(0, 0, -(days - 1))
	daily, err := s.repos.Requests.CountByDay(ctx, since)
	if err != nil {
		return nil, services.WrapInternal("failed to count requests by day", err)
	}
	if daily == nil {
		daily = []*repositories.DailyCount{}
	}

	byStatus := make(map[models.RequestStatus]int)
	for _, d := range daily {
		byStatus[d.Status] += d.Count
	}
	return &RequestTrend{
		Period:  period,
		Since:   since,
		Daily:   daily,
		Summary: toStatusCounts(byStatus),
	}, nil
}

// Users returns every known user with request and review counts
func (s *Service) Users(ctx context.Context, id *models.Identity) (*UserReport, error) {
	if err := requireApprover(id); err != nil {
		return nil, err
	}

	activity, err := s.repos.Users.ListActivity(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list user activity", err)
	}
	if activity == nil {
		activity = []*repositories.UserActivity{}
	}

	summary := map[models.UserRole]int{models.RoleUser: 0, models.RoleApprover: 0, models.RoleAdmin: 0}
	for _, a := range activity {
		summary[a.User.Role]++
	}
	return &UserReport{Users: activity, Summary: summary}, nil
}

// Audit pages through the audit trail most recent first
func (s *Service) Audit(ctx context.Context, id *models.Identity, limit, offset int) (*AuditPage, error) {
	if id == nil {
		return nil, services.ErrUnauthenticated
	}
	if !id.IsAdmin() {
		return nil, services.ErrAdminOnly
	}
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	if limit > MaxAuditLimit {
		limit = MaxAuditLimit
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.repos.AuditLogs.List(ctx, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to list audit entries", err)
	}
	total, err := s.repos.AuditLogs.Count(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to count audit entries", err)
	}
	if entries == nil {
		entries = []*models.AuditLog{}
	}
	return &AuditPage{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}

func requireApprover(id *models.Identity) error {
	if id == nil {
		return services.ErrUnauthenticated
	}
	if !id.CanApprove() {
		return services.ErrApproverOnly
	}
	return nil
}

func toStatusCounts(byStatus map[models.RequestStatus]int) StatusCounts {
	c := StatusCounts{
		Pending:  byStatus[models.StatusPending],
		Approved: byStatus[models.StatusApproved],
		Rejected: byStatus[models.StatusRejected],
		Expired:  byStatus[models.StatusExpired],
	}
	c.Total = c.Pending + c.Approved + c.Rejected + c.Expired
	return c
}

// approvalRate is approved over reviewed, in percent with one decimal.
// Expired requests were approved before retirement and count as approved.
func approvalRate(c StatusCounts) float64 {
	approved := c.Approved + c.Expired
	reviewed := approved + c.Rejected
	if reviewed == 0 {
		return 0
	}
	return math.Round(float64(approved)*1000/float64(reviewed)) / 10
}

// perDay folds per-status counts into one total per day, filling empty days with zero
func perDay(daily []*repositories.DailyCount, since time.Time, days int) []DayTotal {
	totals := make(map[string]int)
	for _, d := range daily {
		totals[d.Date] += d.Count
	}
	out := make([]DayTotal, 0, days)
	for i := 0; i < days; i++ {
		date := since.AddDate(0, 0, i).Format("2006-01-02")
		out = append(out, DayTotal{Date: date, Count: totals[date]})
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
