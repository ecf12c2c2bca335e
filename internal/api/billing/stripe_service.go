package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	stripesub "github.com/stripe/stripe-go/v82/subscription"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rooftops-ai/entitlements/config"
	"github.com/rooftops-ai/entitlements/internal/api/subscription"
	"github.com/rooftops-ai/entitlements/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

// Service reconciles Stripe's state into the subscription store and opens
// checkout/portal sessions. The store mutates ONLY through this reconciler
// and the user's downgrade cancellation; nothing else writes subscriptions.
type Service interface {
	// ProcessEvent applies one verified webhook event. A nil return means the
	// event is fully absorbed (including events we deliberately ignore); an
	// error tells the caller to answer 500 so Stripe redelivers.
	ProcessEvent(ctx context.Context, event stripe.Event) error

	// CreateCheckoutSession opens a Stripe Checkout session for a paid tier
	// and returns the redirect URL.
	CreateCheckoutSession(ctx context.Context, userID uuid.UUID, email string, tier types.PlanTier, annual bool) (string, error)

	// CreatePortalSession opens the Stripe billing portal for an existing
	// billing customer and returns the redirect URL.
	CreatePortalSession(ctx context.Context, userID uuid.UUID) (string, error)
}

type ServiceImpl struct {
	logger *slog.Logger
	cfg    config.StripeConfig
	prices *PriceCatalog
	repo   subscription.Repository
	cache  subscription.Cache

	// Stripe API calls are function fields so tests can run without the
	// network or a real key.
	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	createPortalSession   func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	fetchSubscription     func(id string) (*subscriptionSnapshot, error)
}

func NewBillingService(cfg config.StripeConfig, prices *PriceCatalog, repo subscription.Repository, cache subscription.Cache, logger *slog.Logger) *ServiceImpl {
	stripe.Key = cfg.SecretKey
	return &ServiceImpl{
		logger:                logger,
		cfg:                   cfg,
		prices:                prices,
		repo:                  repo,
		cache:                 cache,
		createCheckoutSession: stripesession.New,
		createPortalSession:   portalsession.New,
		fetchSubscription:     fetchStripeSubscription,
	}
}

// subscriptionSnapshot is the provider-neutral view of a Stripe subscription
// that the reconciler works from, whether it came from a webhook payload or a
// follow-up API fetch.
type subscriptionSnapshot struct {
	ID                string
	CustomerID        string
	Status            types.SubscriptionStatus
	PriceID           string
	CancelAtPeriodEnd bool
	PeriodStart       time.Time
	PeriodEnd         time.Time
	Metadata          map[string]string
}

func fetchStripeSubscription(id string) (*subscriptionSnapshot, error) {
	s, err := stripesub.Get(id, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch stripe subscription %s: %w", id, err)
	}
	snap := &subscriptionSnapshot{
		ID:                s.ID,
		Status:            types.SubscriptionStatus(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		snap.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		if item.Price != nil {
			snap.PriceID = item.Price.ID
		}
		snap.PeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		snap.PeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	return snap, nil
}

// checkoutSessionEvent is the minimal slice of checkout.session.completed we
// act on.
type checkoutSessionEvent struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// subscriptionEvent is the minimal slice of customer.subscription.* payloads.
// Period bounds are read from the first item, falling back to the top-level
// fields older API versions carry.
type subscriptionEvent struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

func (e *subscriptionEvent) snapshot() subscriptionSnapshot {
	snap := subscriptionSnapshot{
		ID:                e.ID,
		CustomerID:        e.Customer,
		Status:            types.SubscriptionStatus(e.Status),
		CancelAtPeriodEnd: e.CancelAtPeriodEnd,
		Metadata:          e.Metadata,
	}
	start, end := e.CurrentPeriodStart, e.CurrentPeriodEnd
	if len(e.Items.Data) > 0 {
		item := e.Items.Data[0]
		snap.PriceID = item.Price.ID
		if item.CurrentPeriodStart != 0 {
			start, end = item.CurrentPeriodStart, item.CurrentPeriodEnd
		}
	}
	if start != 0 {
		snap.PeriodStart = time.Unix(start, 0).UTC()
	}
	if end != 0 {
		snap.PeriodEnd = time.Unix(end, 0).UTC()
	}
	return snap
}

// invoiceEvent covers both the legacy top-level subscription reference and
// the newer parent.subscription_details location.
type invoiceEvent struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (e *invoiceEvent) subscriptionID() string {
	if e.Subscription != "" {
		return e.Subscription
	}
	return e.Parent.SubscriptionDetails.Subscription
}

func (s *ServiceImpl) ProcessEvent(ctx context.Context, event stripe.Event) error {
	ctx, span := otel.Tracer("BillingService").Start(ctx, "ProcessEvent", trace.WithAttributes(
		attribute.String("stripe.event.type", string(event.Type)),
		attribute.String("stripe.event.id", event.ID),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "ProcessEvent"),
		slog.String("eventType", string(event.Type)), slog.String("eventID", event.ID))

	var err error
	switch event.Type {
	case "checkout.session.completed":
		var sess checkoutSessionEvent
		if jsonErr := json.Unmarshal(event.Data.Raw, &sess); jsonErr != nil {
			err = fmt.Errorf("decode checkout.session: %w", jsonErr)
			break
		}
		err = s.handleCheckoutCompleted(ctx, sess)

	case "customer.subscription.updated":
		var sub subscriptionEvent
		if jsonErr := json.Unmarshal(event.Data.Raw, &sub); jsonErr != nil {
			err = fmt.Errorf("decode subscription: %w", jsonErr)
			break
		}
		err = s.handleSubscriptionUpdated(ctx, sub.snapshot())

	case "customer.subscription.deleted":
		var sub subscriptionEvent
		if jsonErr := json.Unmarshal(event.Data.Raw, &sub); jsonErr != nil {
			err = fmt.Errorf("decode subscription: %w", jsonErr)
			break
		}
		err = s.handleSubscriptionDeleted(ctx, sub.snapshot())

	case "invoice.payment_succeeded":
		var inv invoiceEvent
		if jsonErr := json.Unmarshal(event.Data.Raw, &inv); jsonErr != nil {
			err = fmt.Errorf("decode invoice: %w", jsonErr)
			break
		}
		err = s.handlePaymentSucceeded(ctx, inv)

	case "invoice.payment_failed":
		var inv invoiceEvent
		if jsonErr := json.Unmarshal(event.Data.Raw, &inv); jsonErr != nil {
			err = fmt.Errorf("decode invoice: %w", jsonErr)
			break
		}
		err = s.handlePaymentFailed(ctx, inv)

	default:
		l.DebugContext(ctx, "Ignoring unhandled webhook event type")
		span.SetStatus(codes.Ok, "Event type ignored")
		return nil
	}

	if err != nil {
		l.ErrorContext(ctx, "Webhook event processing failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Event processing failed")
		return err
	}

	span.SetStatus(codes.Ok, "Event processed")
	return nil
}

func (s *ServiceImpl) handleCheckoutCompleted(ctx context.Context, sess checkoutSessionEvent) error {
	l := s.logger.With(slog.String("method", "handleCheckoutCompleted"), slog.String("sessionID", sess.ID))

	if sess.Mode != "" && sess.Mode != "subscription" {
		l.DebugContext(ctx, "Ignoring non-subscription checkout session")
		return nil
	}

	userID, err := uuid.Parse(sess.Metadata["userId"])
	if err != nil {
		// Redelivery cannot fix missing metadata, so absorb the event.
		l.ErrorContext(ctx, "Checkout session has no usable userId metadata", slog.Any("error", err))
		return nil
	}
	if sess.Subscription == "" {
		l.ErrorContext(ctx, "Checkout session has no subscription reference")
		return nil
	}

	snap, err := s.fetchSubscription(sess.Subscription)
	if err != nil {
		return fmt.Errorf("resolve subscription after checkout: %w", err)
	}

	tier := types.NormalizePlanTier(sess.Metadata["planType"])
	if tier == types.PlanFree {
		tier = s.prices.TierForPrice(snap.PriceID)
	}
	if tier == types.PlanFree {
		l.ErrorContext(ctx, "Checkout resolved to free tier, refusing to store",
			slog.String("priceID", snap.PriceID))
		return nil
	}

	customerID := sess.Customer
	if customerID == "" {
		customerID = snap.CustomerID
	}

	// Upsert keyed on user_id keeps redelivered and out-of-order checkout
	// events idempotent.
	sub, err := s.repo.Upsert(ctx, types.CreateSubscriptionParams{
		UserID:               userID,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: snap.ID,
		Status:               snap.Status,
		PlanType:             tier,
		CurrentPeriodStart:   snap.PeriodStart,
		CurrentPeriodEnd:     snap.PeriodEnd,
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(ctx, sub.UserID)
	l.InfoContext(ctx, "Subscription activated from checkout",
		slog.String("userID", userID.String()), slog.String("plan", string(tier)))
	return nil
}

func (s *ServiceImpl) handleSubscriptionUpdated(ctx context.Context, snap subscriptionSnapshot) error {
	l := s.logger.With(slog.String("method", "handleSubscriptionUpdated"), slog.String("stripeSubscriptionID", snap.ID))

	stored, err := s.repo.GetByStripeID(ctx, snap.ID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			// The checkout event may not have landed yet. Recover from the
			// subscription's own metadata when it names the user.
			if rawUser, ok := snap.Metadata["userId"]; ok {
				if userID, parseErr := uuid.Parse(rawUser); parseErr == nil {
					return s.upsertFromSnapshot(ctx, userID, snap)
				}
			}
			l.WarnContext(ctx, "Update event for unknown subscription, deferring to later events")
			return nil
		}
		return err
	}

	newTier := s.prices.TierForPrice(snap.PriceID)
	params := types.UpdateSubscriptionParams{
		Status:             &snap.Status,
		CancelAtPeriodEnd:  &snap.CancelAtPeriodEnd,
		CurrentPeriodStart: &snap.PeriodStart,
		CurrentPeriodEnd:   &snap.PeriodEnd,
	}

	periodAdvanced := snap.PeriodStart.After(stored.CurrentPeriodStart)

	switch {
	case periodAdvanced && stored.ScheduledPlanType != nil:
		// Period rollover commits the staged downgrade. The event's price is
		// authoritative for what the new period actually bills, but a payload
		// without a resolvable price must not commit a free downgrade the user
		// never chose.
		commitTier := newTier
		if commitTier == types.PlanFree {
			commitTier = *stored.ScheduledPlanType
		}
		params.PlanType = &commitTier
		params.ClearScheduledPlan = true
		l.InfoContext(ctx, "Committing scheduled downgrade on period rollover",
			slog.String("from", string(stored.PlanType)), slog.String("to", string(commitTier)))

	case newTier.IsUpgradeFrom(stored.PlanType):
		// Upgrades take effect immediately and void any staged downgrade.
		params.PlanType = &newTier
		params.ClearScheduledPlan = true
		l.InfoContext(ctx, "Applying immediate upgrade",
			slog.String("from", string(stored.PlanType)), slog.String("to", string(newTier)))

	case newTier != types.PlanFree && stored.PlanType.IsUpgradeFrom(newTier):
		// Downgrades are staged; the user keeps the paid-for tier until the
		// current period ends.
		params.ScheduledPlanType = &newTier
		l.InfoContext(ctx, "Staging downgrade until period end",
			slog.String("current", string(stored.PlanType)), slog.String("scheduled", string(newTier)))
	}

	sub, err := s.repo.Update(ctx, snap.ID, params)
	if err != nil {
		return err
	}

	s.cache.Invalidate(ctx, sub.UserID)
	return nil
}

func (s *ServiceImpl) upsertFromSnapshot(ctx context.Context, userID uuid.UUID, snap subscriptionSnapshot) error {
	tier := s.prices.TierForPrice(snap.PriceID)
	if tier == types.PlanFree {
		return nil
	}
	sub, err := s.repo.Upsert(ctx, types.CreateSubscriptionParams{
		UserID:               userID,
		StripeCustomerID:     snap.CustomerID,
		StripeSubscriptionID: snap.ID,
		Status:               snap.Status,
		PlanType:             tier,
		CurrentPeriodStart:   snap.PeriodStart,
		CurrentPeriodEnd:     snap.PeriodEnd,
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, sub.UserID)
	return nil
}

func (s *ServiceImpl) handleSubscriptionDeleted(ctx context.Context, snap subscriptionSnapshot) error {
	l := s.logger.With(slog.String("method", "handleSubscriptionDeleted"), slog.String("stripeSubscriptionID", snap.ID))

	status := types.StatusCanceled
	sub, err := s.repo.Update(ctx, snap.ID, types.UpdateSubscriptionParams{
		Status:             &status,
		ClearScheduledPlan: true,
	})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			l.WarnContext(ctx, "Delete event for unknown subscription, nothing to do")
			return nil
		}
		return err
	}

	s.cache.Invalidate(ctx, sub.UserID)
	l.InfoContext(ctx, "Subscription canceled", slog.String("userID", sub.UserID.String()))
	return nil
}

func (s *ServiceImpl) handlePaymentSucceeded(ctx context.Context, inv invoiceEvent) error {
	l := s.logger.With(slog.String("method", "handlePaymentSucceeded"), slog.String("invoiceID", inv.ID))

	subID := inv.subscriptionID()
	if subID == "" {
		l.DebugContext(ctx, "Invoice without subscription reference, ignoring")
		return nil
	}

	// A paid invoice means the subscription is current again; the fresh fetch
	// also carries the new period bounds after a renewal.
	snap, err := s.fetchSubscription(subID)
	if err != nil {
		return fmt.Errorf("resolve subscription after payment: %w", err)
	}
	return s.handleSubscriptionUpdated(ctx, *snap)
}

func (s *ServiceImpl) handlePaymentFailed(ctx context.Context, inv invoiceEvent) error {
	l := s.logger.With(slog.String("method", "handlePaymentFailed"), slog.String("invoiceID", inv.ID))

	subID := inv.subscriptionID()
	if subID == "" {
		l.DebugContext(ctx, "Invoice without subscription reference, ignoring")
		return nil
	}

	status := types.StatusPastDue
	sub, err := s.repo.Update(ctx, subID, types.UpdateSubscriptionParams{Status: &status})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			l.WarnContext(ctx, "Payment failure for unknown subscription, nothing to do")
			return nil
		}
		return err
	}

	s.cache.Invalidate(ctx, sub.UserID)
	l.WarnContext(ctx, "Subscription marked past_due after failed payment",
		slog.String("userID", sub.UserID.String()))
	return nil
}

func (s *ServiceImpl) CreateCheckoutSession(ctx context.Context, userID uuid.UUID, email string, tier types.PlanTier, annual bool) (string, error) {
	_, span := otel.Tracer("BillingService").Start(ctx, "CreateCheckoutSession", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("subscription.plan", string(tier)),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "CreateCheckoutSession"), slog.String("userID", userID.String()))

	priceID := s.prices.PriceFor(tier, annual)
	if priceID == "" {
		span.SetStatus(codes.Error, "Tier not purchasable")
		return "", fmt.Errorf("plan %s is not purchasable: %w", tier, types.ErrNotFound)
	}

	metadata := map[string]string{
		"userId":   userID.String(),
		"planType": string(tier),
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		ClientReferenceID: stripe.String(userID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		// Mirror the metadata onto the subscription itself so later
		// subscription events can identify the user without the session.
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
		Metadata: metadata,
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	sess, err := s.createCheckoutSession(params)
	if err != nil {
		l.ErrorContext(ctx, "Failed to create checkout session", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Checkout session creation failed")
		return "", fmt.Errorf("error creating checkout session: %w", err)
	}
	if sess == nil || sess.URL == "" {
		span.SetStatus(codes.Error, "Empty checkout URL")
		return "", fmt.Errorf("billing provider returned empty checkout URL")
	}

	l.InfoContext(ctx, "Checkout session created", slog.String("plan", string(tier)))
	span.SetStatus(codes.Ok, "Checkout session created")
	return sess.URL, nil
}

func (s *ServiceImpl) CreatePortalSession(ctx context.Context, userID uuid.UUID) (string, error) {
	ctx, span := otel.Tracer("BillingService").Start(ctx, "CreatePortalSession", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "CreatePortalSession"), slog.String("userID", userID.String()))

	stored, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			l.ErrorContext(ctx, "Failed to look up subscription for portal", slog.Any("error", err))
		}
		span.SetStatus(codes.Error, "No billing customer")
		return "", err
	}

	sess, err := s.createPortalSession(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(stored.StripeCustomerID),
		ReturnURL: stripe.String(s.cfg.PortalReturnURL),
	})
	if err != nil {
		l.ErrorContext(ctx, "Failed to create portal session", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Portal session creation failed")
		return "", fmt.Errorf("error creating portal session: %w", err)
	}
	if sess == nil || sess.URL == "" {
		span.SetStatus(codes.Error, "Empty portal URL")
		return "", fmt.Errorf("billing provider returned empty portal URL")
	}

	span.SetStatus(codes.Ok, "Portal session created")
	return sess.URL, nil
}
