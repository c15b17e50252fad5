package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/scholarflow-api/internal/authz"
	"github.com/noah-isme/scholarflow-api/internal/ledger"
	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/internal/wallet"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

const registryCacheKey = "registry:stats"

// ScholarFlowConfig tunes the service.
type ScholarFlowConfig struct {
	PackageID   string
	RegistryTTL time.Duration
}

// ScholarFlowService is the per-identity entry point for every grant, application
// and marketplace operation. Mutations go through the caller's session and the ledger;
// session state is only ever derived from ledger receipts.
type ScholarFlowService struct {
	ledger    ledger.Ledger
	sessions  *SessionService
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    ScholarFlowConfig
	now       func() time.Time
}

// NewScholarFlowService wires the service.
func NewScholarFlowService(l ledger.Ledger, sessions *SessionService, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg ScholarFlowConfig) *ScholarFlowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.RegistryTTL <= 0 {
		cfg.RegistryTTL = time.Minute
	}
	return &ScholarFlowService{
		ledger:    l,
		sessions:  sessions,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RegisterStudent sets or replaces the caller's profile.
func (s *ScholarFlowService) RegisterStudent(ctx context.Context, address string, req models.RegisterStudentPayload) (*models.StudentProfile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	cmd := s.command(models.CommandRegisterStudent, address)
	cmd.Register = &req
	receipt, err := s.mutate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return receipt.Profile, nil
}

// SubmitGrantApplication files a pending application for the caller.
func (s *ScholarFlowService) SubmitGrantApplication(ctx context.Context, address string, req models.SubmitApplicationPayload) (*models.GrantApplication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}
	if !req.RequestedAmount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "requested amount must be greater than zero")
	}
	cmd := s.command(models.CommandSubmitGrantApp, address)
	cmd.Submit = &req
	receipt, err := s.mutate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return receipt.Application, nil
}

// PurchaseItem pays for a catalog item from the caller's wallet.
func (s *ScholarFlowService) PurchaseItem(ctx context.Context, address string, req models.PurchaseItemPayload) (*models.StudentWallet, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid purchase payload")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be greater than zero")
	}
	cmd := s.command(models.CommandPurchaseItem, address)
	cmd.Purchase = &req
	receipt, err := s.mutate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return receipt.Wallet, nil
}

// CreateGrant opens a grant owned by the capability holder.
func (s *ScholarFlowService) CreateGrant(ctx context.Context, capability *authz.Capability, req models.CreateGrantPayload) (*models.Grant, error) {
	if !capability.CanCreateGrant() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only grant owners and admins can create grants")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grant payload")
	}
	switch {
	case !req.TotalFunding.IsPositive():
		return nil, appErrors.Clone(appErrors.ErrValidation, "total funding must be greater than zero")
	case !req.MaxGrantPerStudent.IsPositive():
		return nil, appErrors.Clone(appErrors.ErrValidation, "max grant per student must be greater than zero")
	case req.MaxGrantPerStudent.GreaterThan(req.TotalFunding):
		return nil, appErrors.Clone(appErrors.ErrValidation, "max grant per student cannot exceed total funding")
	case !req.ApplicationDeadline.After(s.now()):
		return nil, appErrors.Clone(appErrors.ErrValidation, "application deadline must be in the future")
	}
	cmd := s.command(models.CommandCreateGrant, capability.Holder())
	cmd.Create = &req
	receipt, err := s.mutate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return receipt.Grant, nil
}

// ApproveApplication approves a pending application and moves the funds.
// An unknown id is a no-op reported as Changed=false.
func (s *ScholarFlowService) ApproveApplication(ctx context.Context, capability *authz.Capability, applicationID string) (*models.ReviewResult, error) {
	return s.review(ctx, capability, models.CommandApproveGrantApp, applicationID, "")
}

// RejectApplication rejects a pending application. No funds move.
func (s *ScholarFlowService) RejectApplication(ctx context.Context, capability *authz.Capability, applicationID, note string) (*models.ReviewResult, error) {
	return s.review(ctx, capability, models.CommandRejectGrantApp, applicationID, note)
}

func (s *ScholarFlowService) review(ctx context.Context, capability *authz.Capability, kind models.CommandKind, applicationID, note string) (*models.ReviewResult, error) {
	if !isReviewer(capability) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only grant owners and admins can review applications")
	}
	if !s.sessions.Connected(capability.Holder()) {
		return nil, appErrors.ErrNotConnected
	}
	result := &models.ReviewResult{ApplicationID: applicationID}

	apps, err := s.ledger.Applications(ctx, models.ApplicationFilter{ID: applicationID})
	if err != nil {
		return nil, err
	}
	if len(apps) == 0 {
		return result, nil
	}
	grant, err := s.ledger.Grant(ctx, apps[0].GrantID)
	if err != nil {
		return nil, err
	}
	if !capability.CanReview(*grant) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot review applications of another owner's grant")
	}

	cmd := s.command(kind, capability.Holder())
	cmd.Review = &models.ReviewPayload{ApplicationID: applicationID, Note: note}
	if err := s.validator.Struct(cmd.Review); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	receipt, err := s.mutate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	result.Changed = receipt.Changed
	result.Application = receipt.Application
	result.Grant = receipt.Grant
	result.Digest = receipt.Digest
	return result, nil
}

// VerifyStudent marks a student's documents verified. Admin only.
func (s *ScholarFlowService) VerifyStudent(ctx context.Context, capability *authz.Capability, studentAddress string) (*models.StudentProfile, error) {
	if !capability.CanVerifyStudents() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can verify students")
	}
	cmd := s.command(models.CommandVerifyStudent, capability.Holder())
	cmd.Verify = &models.VerifyStudentPayload{StudentAddress: wallet.NormalizeAddress(studentAddress)}
	receipt, err := s.mutate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return receipt.Profile, nil
}

// ListApplications is the reviewer view: admins see everything, grant owners their own grants.
func (s *ScholarFlowService) ListApplications(ctx context.Context, capability *authz.Capability, filter models.ApplicationFilter) ([]models.GrantApplication, error) {
	switch capability.Role() {
	case models.RoleAdmin:
	case models.RoleGrantOwner:
		filter.GrantOwner = capability.Holder()
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only grant owners and admins can list applications")
	}
	if filter.Status != "" && filter.Status != models.ApplicationPending &&
		filter.Status != models.ApplicationApproved && filter.Status != models.ApplicationRejected {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown application status")
	}
	if filter.StudentAddress != "" {
		filter.StudentAddress = wallet.NormalizeAddress(filter.StudentAddress)
	}
	return s.ledger.Applications(ctx, filter)
}

// ClearError dismisses the caller's current error.
func (s *ScholarFlowService) ClearError(_ context.Context, address string) error {
	return s.sessions.ClearError(address)
}

// State assembles everything a client renders: the caller's session plus shared catalogs.
func (s *ScholarFlowService) State(ctx context.Context, address string) (*models.SessionState, error) {
	address = wallet.NormalizeAddress(address)
	state := &models.SessionState{
		CurrentAddress: address,
		Applications:   []models.GrantApplication{},
	}
	view, err := s.sessions.View(address)
	switch {
	case err == nil:
		state.IsConnected = true
		state.Role = view.Role
		state.Loading = view.Loading
		state.Error = view.Error
		state.Applications = view.Applications
		state.StudentProfile = view.Profile
		state.StudentWallet = view.Wallet
		state.ConnectedAt = view.ConnectedAt
	case !errors.Is(err, appErrors.ErrNotConnected):
		return nil, err
	}

	catalog, err := s.ledger.Snapshot(ctx, "")
	if err != nil {
		return nil, err
	}
	state.Grants = catalog.Grants
	state.Stores = catalog.Stores

	stats, err := s.Registry(ctx)
	if err != nil {
		s.logger.Warn("registry unavailable for session state", zap.Error(err))
	} else {
		state.SystemStats = stats
	}
	return state, nil
}

// Grants lists every grant.
func (s *ScholarFlowService) Grants(ctx context.Context) ([]models.Grant, error) {
	catalog, err := s.ledger.Snapshot(ctx, "")
	if err != nil {
		return nil, err
	}
	return catalog.Grants, nil
}

// Grant fetches one grant.
func (s *ScholarFlowService) Grant(ctx context.Context, id string) (*models.Grant, error) {
	return s.ledger.Grant(ctx, id)
}

// Stores lists the marketplace.
func (s *ScholarFlowService) Stores(ctx context.Context) ([]models.EducationalStore, error) {
	catalog, err := s.ledger.Snapshot(ctx, "")
	if err != nil {
		return nil, err
	}
	return catalog.Stores, nil
}

// Registry returns the aggregate counters, cached for RegistryTTL.
func (s *ScholarFlowService) Registry(ctx context.Context) (*models.SystemRegistry, error) {
	stats, _, err := s.CachedRegistry(ctx)
	return stats, err
}

// CachedRegistry is Registry that also reports whether the value came from cache.
func (s *ScholarFlowService) CachedRegistry(ctx context.Context) (*models.SystemRegistry, bool, error) {
	var cached models.SystemRegistry
	if s.cache.Get(ctx, registryCacheKey, &cached) {
		return &cached, true, nil
	}
	stats, err := s.ledger.Stats(ctx)
	if err != nil {
		return nil, false, err
	}
	s.cache.Set(ctx, registryCacheKey, stats, s.config.RegistryTTL)
	return stats, false, nil
}

func (s *ScholarFlowService) command(kind models.CommandKind, sender string) models.Command {
	return models.Command{
		ID:       uuid.NewString(),
		Kind:     kind,
		Sender:   wallet.NormalizeAddress(sender),
		Target:   kind.Target(s.config.PackageID),
		IssuedAt: s.now(),
	}
}

// mutate runs cmd through the sender's session and the ledger.
func (s *ScholarFlowService) mutate(ctx context.Context, cmd models.Command) (*models.Receipt, error) {
	receipt, err := s.sessions.Run(ctx, cmd.Sender, func(ctx context.Context) (*models.Receipt, error) {
		start := time.Now()
		receipt, err := s.ledger.Execute(ctx, cmd)
		s.metrics.ObserveLedgerCommand(cmd.Kind, commandOutcome(receipt, err), time.Since(start))
		return receipt, err
	})
	if err != nil {
		if !errors.Is(err, appErrors.ErrNotConnected) {
			s.logger.Warn("ledger command failed",
				zap.String("command_id", cmd.ID),
				zap.String("kind", string(cmd.Kind)),
				zap.String("sender", cmd.Sender),
				zap.Error(err),
			)
		}
		return nil, err
	}
	if receipt.Changed {
		s.cache.Invalidate(ctx, "registry:*")
	}
	return receipt, nil
}

func commandOutcome(receipt *models.Receipt, err error) string {
	switch {
	case err != nil:
		return "error"
	case receipt != nil && !receipt.Changed:
		return "noop"
	default:
		return "ok"
	}
}

func isReviewer(capability *authz.Capability) bool {
	role := capability.Role()
	return role == models.RoleAdmin || role == models.RoleGrantOwner
}
