package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/scholarflow-api/internal/models"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

// Engine is the authoritative local ledger. Commands are serialized so every
// invariant check and its write happen against the same state.
type Engine struct {
	store     Store
	packageID string
	validate  *validator.Validate
	authority Authority
	logger    *zap.Logger
	now       func() time.Time

	mu sync.Mutex
}

// Authority reports the role an address is entitled to. The engine consults it
// for grant creation, review and verification so a command that reaches the
// ledger without passing the HTTP layer is still held to the role rules.
type Authority interface {
	Entitled(address string) models.Role
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithValidator shares a validator instance.
func WithValidator(v *validator.Validate) EngineOption {
	return func(e *Engine) {
		if v != nil {
			e.validate = v
		}
	}
}

// WithAuthority sets the role registry. Without one every privileged command is refused.
func WithAuthority(a Authority) EngineOption {
	return func(e *Engine) {
		e.authority = a
	}
}

// NewEngine constructs an Engine over the store.
func NewEngine(store Store, packageID string, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:     store,
		packageID: packageID,
		validate:  validator.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PackageID returns the package commands must target.
func (e *Engine) PackageID() string {
	return e.packageID
}

// Execute validates and applies a command, returning the resulting state.
func (e *Engine) Execute(ctx context.Context, cmd models.Command) (*models.Receipt, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = e.now()
	}
	if cmd.Sender == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "command sender is required")
	}
	if cmd.Target != cmd.Kind.Target(e.packageID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown command target %q", cmd.Target))
	}
	if err := e.authorize(cmd); err != nil {
		e.logger.Warn("ledger command refused",
			zap.String("kind", string(cmd.Kind)),
			zap.String("sender", cmd.Sender),
		)
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		receipt *models.Receipt
		err     error
	)
	switch cmd.Kind {
	case models.CommandRegisterStudent:
		receipt, err = e.registerStudent(ctx, cmd)
	case models.CommandSubmitGrantApp:
		receipt, err = e.submitApplication(ctx, cmd)
	case models.CommandPurchaseItem:
		receipt, err = e.purchaseItem(ctx, cmd)
	case models.CommandCreateGrant:
		receipt, err = e.createGrant(ctx, cmd)
	case models.CommandApproveGrantApp, models.CommandRejectGrantApp:
		receipt, err = e.review(ctx, cmd)
	case models.CommandVerifyStudent:
		receipt, err = e.verifyStudent(ctx, cmd)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported command %q", cmd.Kind))
	}
	if err != nil {
		return nil, err
	}

	digest, err := Digest(cmd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to digest command")
	}
	receipt.CommandID = cmd.ID
	receipt.Kind = cmd.Kind
	receipt.Digest = digest
	receipt.ExecutedAt = e.now()

	e.logger.Debug("ledger command executed",
		zap.String("command_id", cmd.ID),
		zap.String("kind", string(cmd.Kind)),
		zap.String("sender", cmd.Sender),
		zap.Bool("changed", receipt.Changed),
	)
	return receipt, nil
}

// authorize checks the sender's entitled role for privileged kinds. Grant
// ownership for reviews is checked in review once the grant is loaded.
func (e *Engine) authorize(cmd models.Command) error {
	var allowed []models.Role
	switch cmd.Kind {
	case models.CommandCreateGrant, models.CommandApproveGrantApp, models.CommandRejectGrantApp:
		allowed = []models.Role{models.RoleAdmin, models.RoleGrantOwner}
	case models.CommandVerifyStudent:
		allowed = []models.Role{models.RoleAdmin}
	default:
		return nil
	}
	role := e.entitled(cmd.Sender)
	for _, r := range allowed {
		if role == r {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("sender may not issue %s", cmd.Kind))
}

func (e *Engine) entitled(address string) models.Role {
	if e.authority == nil {
		return ""
	}
	return e.authority.Entitled(address)
}

func (e *Engine) registerStudent(ctx context.Context, cmd models.Command) (*models.Receipt, error) {
	p := cmd.Register
	if p == nil {
		return nil, missingPayload(cmd.Kind)
	}
	if err := e.validate.Struct(p); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	profile := &models.StudentProfile{
		ID:             "profile_" + cmd.Sender,
		StudentAddress: cmd.Sender,
		Name:           strings.TrimSpace(p.Name),
		Age:            p.Age,
		Demographic:    p.Demographic,
		EducationLevel: p.EducationLevel,
		UpdatedAt:      e.now(),
	}
	existing, err := e.store.GetProfile(ctx, cmd.Sender)
	switch {
	case err == nil:
		profile.ID = existing.ID
		profile.TotalGrantsReceived = existing.TotalGrantsReceived
	case !errors.Is(err, ErrRecordNotFound):
		return nil, storeFailure(err, "failed to load student profile")
	}

	if err := e.store.SaveProfile(ctx, profile); err != nil {
		return nil, storeFailure(err, "failed to save student profile")
	}
	return &models.Receipt{Changed: true, Profile: profile}, nil
}

func (e *Engine) submitApplication(ctx context.Context, cmd models.Command) (*models.Receipt, error) {
	p := cmd.Submit
	if p == nil {
		return nil, missingPayload(cmd.Kind)
	}
	if err := e.validate.Struct(p); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}
	if !p.RequestedAmount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "requested amount must be greater than zero")
	}

	grant, err := e.store.GetGrant(ctx, p.GrantID)
	if err != nil {
		return nil, lookupFailure(err, "grant not found", "failed to load grant")
	}
	now := e.now()
	if !grant.AcceptsApplications(now) {
		return nil, appErrors.Clone(appErrors.ErrGrantClosed, "grant is closed or past its application deadline")
	}
	if p.RequestedAmount.GreaterThan(grant.MaxGrantPerStudent) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("requested amount exceeds the maximum of %s per student", grant.MaxGrantPerStudent))
	}

	pending, err := e.store.ListApplications(ctx, models.ApplicationFilter{
		GrantID:        grant.ID,
		StudentAddress: cmd.Sender,
		Status:         models.ApplicationPending,
	})
	if err != nil {
		return nil, storeFailure(err, "failed to check pending applications")
	}
	if len(pending) > 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a pending application for this grant already exists")
	}

	app := &models.GrantApplication{
		ID:                   uuid.NewString(),
		GrantID:              grant.ID,
		StudentAddress:       cmd.Sender,
		ApplicationText:      strings.TrimSpace(p.ApplicationText),
		RequestedAmount:      p.RequestedAmount,
		ApplicationTimestamp: now,
		Status:               models.ApplicationPending,
	}
	if err := e.store.InsertApplication(ctx, app); err != nil {
		return nil, storeFailure(err, "failed to store application")
	}
	return &models.Receipt{Changed: true, Application: app}, nil
}

func (e *Engine) purchaseItem(ctx context.Context, cmd models.Command) (*models.Receipt, error) {
	p := cmd.Purchase
	if p == nil {
		return nil, missingPayload(cmd.Kind)
	}
	if err := e.validate.Struct(p); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid purchase payload")
	}
	if !p.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be greater than zero")
	}

	store, err := e.store.GetStore(ctx, p.StoreID)
	if err != nil {
		return nil, lookupFailure(err, "store not found", "failed to load store")
	}
	item, ok := store.Item(p.ItemID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "item not found")
	}
	if !item.IsAvailable {
		return nil, appErrors.Clone(appErrors.ErrConflict, "item is not available")
	}
	if !p.Amount.Equal(item.Price) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("amount does not match item price %s", item.Price))
	}

	wallet, err := e.store.GetWallet(ctx, cmd.Sender)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, appErrors.ErrNoWallet
		}
		return nil, storeFailure(err, "failed to load wallet")
	}
	if wallet.AvailableBalance.LessThan(p.Amount) {
		return nil, appErrors.Clone(appErrors.ErrInsufficientFunds, fmt.Sprintf("available balance %s is below %s", wallet.AvailableBalance, p.Amount))
	}

	record := models.SpendingRecord{
		Amount:          p.Amount,
		MerchantAddress: store.Owner,
		MerchantType:    store.MerchantType(),
		ItemDescription: item.Name,
		Timestamp:       e.now(),
	}
	wallet.AvailableBalance = wallet.AvailableBalance.Sub(p.Amount)
	if err := e.store.CommitPurchase(ctx, wallet, record); err != nil {
		return nil, storeFailure(err, "failed to record purchase")
	}
	wallet.SpendingHistory = append(wallet.SpendingHistory, record)
	return &models.Receipt{Changed: true, Wallet: wallet}, nil
}

func (e *Engine) createGrant(ctx context.Context, cmd models.Command) (*models.Receipt, error) {
	p := cmd.Create
	if p == nil {
		return nil, missingPayload(cmd.Kind)
	}
	if err := e.validate.Struct(p); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grant payload")
	}
	now := e.now()
	switch {
	case !p.TotalFunding.IsPositive():
		return nil, appErrors.Clone(appErrors.ErrValidation, "total funding must be greater than zero")
	case !p.MaxGrantPerStudent.IsPositive():
		return nil, appErrors.Clone(appErrors.ErrValidation, "max grant per student must be greater than zero")
	case p.MaxGrantPerStudent.GreaterThan(p.TotalFunding):
		return nil, appErrors.Clone(appErrors.ErrValidation, "max grant per student cannot exceed total funding")
	case !p.ApplicationDeadline.After(now):
		return nil, appErrors.Clone(appErrors.ErrValidation, "application deadline must be in the future")
	}

	grant := &models.Grant{
		ID:                   uuid.NewString(),
		GrantOwner:           cmd.Sender,
		Title:                strings.TrimSpace(p.Title),
		Description:          strings.TrimSpace(p.Description),
		TotalFunding:         p.TotalFunding,
		RemainingFunding:     p.TotalFunding,
		TargetDemographic:    p.TargetDemographic,
		TargetEducationLevel: p.TargetEducationLevel,
		MaxGrantPerStudent:   p.MaxGrantPerStudent,
		ApplicationDeadline:  p.ApplicationDeadline.UTC(),
		IsActive:             true,
		ApprovedStudents:     []string{},
		CreatedAt:            now,
	}
	if err := e.store.InsertGrant(ctx, grant); err != nil {
		return nil, storeFailure(err, "failed to store grant")
	}
	return &models.Receipt{Changed: true, Grant: grant}, nil
}

// review handles approve and reject. An unknown application id is not an error:
// the receipt reports Changed=false and nothing is written.
func (e *Engine) review(ctx context.Context, cmd models.Command) (*models.Receipt, error) {
	p := cmd.Review
	if p == nil {
		return nil, missingPayload(cmd.Kind)
	}
	if err := e.validate.Struct(p); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}

	app, err := e.store.GetApplication(ctx, p.ApplicationID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return &models.Receipt{Changed: false}, nil
		}
		return nil, storeFailure(err, "failed to load application")
	}
	if app.Status != models.ApplicationPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("application already %s", app.Status))
	}

	grant, err := e.store.GetGrant(ctx, app.GrantID)
	if err != nil {
		return nil, lookupFailure(err, "grant not found", "failed to load grant")
	}
	if e.entitled(cmd.Sender) != models.RoleAdmin && !strings.EqualFold(grant.GrantOwner, cmd.Sender) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the grant owner or an admin may review this application")
	}

	now := e.now()
	reviewer := cmd.Sender
	app.ReviewedBy = &reviewer
	app.ReviewedAt = &now
	if note := strings.TrimSpace(p.Note); note != "" {
		app.ReviewNote = &note
	}

	effects := ReviewEffects{}
	if cmd.Kind == models.CommandRejectGrantApp {
		app.Status = models.ApplicationRejected
	} else {
		if grant.RemainingFunding.LessThan(app.RequestedAmount) {
			return nil, appErrors.Clone(appErrors.ErrInsufficientGrant, fmt.Sprintf("grant has %s remaining, %s requested", grant.RemainingFunding, app.RequestedAmount))
		}
		app.Status = models.ApplicationApproved
		grant.RemainingFunding = grant.RemainingFunding.Sub(app.RequestedAmount)
		if !grant.HasApproved(app.StudentAddress) {
			grant.ApprovedStudents = append(grant.ApprovedStudents, app.StudentAddress)
		}
		effects.Grant = grant

		wallet, err := e.store.GetWallet(ctx, app.StudentAddress)
		switch {
		case errors.Is(err, ErrRecordNotFound):
			wallet = &models.StudentWallet{
				ID:               models.WalletID(app.StudentAddress),
				StudentAddress:   app.StudentAddress,
				AvailableBalance: decimal.Zero,
				TotalReceived:    decimal.Zero,
				SpendingHistory:  []models.SpendingRecord{},
			}
		case err != nil:
			return nil, storeFailure(err, "failed to load wallet")
		}
		wallet.AvailableBalance = wallet.AvailableBalance.Add(app.RequestedAmount)
		wallet.TotalReceived = wallet.TotalReceived.Add(app.RequestedAmount)
		effects.Wallet = wallet

		profile, err := e.store.GetProfile(ctx, app.StudentAddress)
		switch {
		case err == nil:
			profile.TotalGrantsReceived++
			profile.UpdatedAt = now
			effects.Profile = profile
		case !errors.Is(err, ErrRecordNotFound):
			return nil, storeFailure(err, "failed to load student profile")
		}
	}
	effects.Application = *app

	if err := e.store.CommitReview(ctx, effects); err != nil {
		if errors.Is(err, ErrStaleState) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "application was reviewed concurrently")
		}
		return nil, storeFailure(err, "failed to commit review")
	}
	return &models.Receipt{
		Changed:     true,
		Application: app,
		Grant:       effects.Grant,
		Wallet:      effects.Wallet,
		Profile:     effects.Profile,
	}, nil
}

func (e *Engine) verifyStudent(ctx context.Context, cmd models.Command) (*models.Receipt, error) {
	p := cmd.Verify
	if p == nil {
		return nil, missingPayload(cmd.Kind)
	}
	if err := e.validate.Struct(p); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}
	profile, err := e.store.GetProfile(ctx, p.StudentAddress)
	if err != nil {
		return nil, lookupFailure(err, "student not registered", "failed to load student profile")
	}
	now := e.now()
	profile.DocumentsVerified = true
	profile.VerificationTimestamp = &now
	profile.UpdatedAt = now
	if err := e.store.SaveProfile(ctx, profile); err != nil {
		return nil, storeFailure(err, "failed to save student profile")
	}
	return &models.Receipt{Changed: true, Profile: profile}, nil
}

// Snapshot returns the address-scoped state plus the shared catalogs.
// An empty address returns only the catalogs.
func (e *Engine) Snapshot(ctx context.Context, address string) (*models.LedgerSnapshot, error) {
	snap := &models.LedgerSnapshot{Applications: []models.GrantApplication{}}
	var err error
	if address != "" {
		if err = e.loadIdentity(ctx, snap, address); err != nil {
			return nil, err
		}
	}
	if snap.Grants, err = e.store.ListGrants(ctx); err != nil {
		return nil, storeFailure(err, "failed to load grants")
	}
	if snap.Stores, err = e.store.ListStores(ctx); err != nil {
		return nil, storeFailure(err, "failed to load stores")
	}
	return snap, nil
}

func (e *Engine) loadIdentity(ctx context.Context, snap *models.LedgerSnapshot, address string) error {
	profile, err := e.store.GetProfile(ctx, address)
	switch {
	case err == nil:
		snap.Profile = profile
	case !errors.Is(err, ErrRecordNotFound):
		return storeFailure(err, "failed to load student profile")
	}

	wallet, err := e.store.GetWallet(ctx, address)
	switch {
	case err == nil:
		snap.Wallet = wallet
	case !errors.Is(err, ErrRecordNotFound):
		return storeFailure(err, "failed to load wallet")
	}

	if snap.Applications, err = e.store.ListApplications(ctx, models.ApplicationFilter{StudentAddress: address}); err != nil {
		return storeFailure(err, "failed to load applications")
	}
	return nil
}

// Applications lists applications matching the filter.
func (e *Engine) Applications(ctx context.Context, filter models.ApplicationFilter) ([]models.GrantApplication, error) {
	apps, err := e.store.ListApplications(ctx, filter)
	if err != nil {
		return nil, storeFailure(err, "failed to load applications")
	}
	return apps, nil
}

// Grant loads a single grant.
func (e *Engine) Grant(ctx context.Context, id string) (*models.Grant, error) {
	grant, err := e.store.GetGrant(ctx, id)
	if err != nil {
		return nil, lookupFailure(err, "grant not found", "failed to load grant")
	}
	return grant, nil
}

// Stats returns the aggregate registry counters.
func (e *Engine) Stats(ctx context.Context) (*models.SystemRegistry, error) {
	stats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, storeFailure(err, "failed to compute registry")
	}
	stats.ID = models.RegistryID
	return stats, nil
}

// CloseExpiredGrants deactivates grants whose deadline has passed and returns their ids.
func (e *Engine) CloseExpiredGrants(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids, err := e.store.CloseExpiredGrants(ctx, e.now())
	if err != nil {
		return nil, storeFailure(err, "failed to close expired grants")
	}
	return ids, nil
}

func missingPayload(kind models.CommandKind) error {
	return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("missing payload for %s", kind))
}

func lookupFailure(err error, notFound, internal string) error {
	if errors.Is(err, ErrRecordNotFound) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return storeFailure(err, internal)
}

func storeFailure(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
