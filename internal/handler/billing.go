package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/calebmorrow/hearthside/internal/auth"
	"github.com/calebmorrow/hearthside/internal/billing"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
)

// maxWebhookBody bounds Stripe webhook payloads.
const maxWebhookBody = 65536

type BillingHandler struct {
	subs    *store.SubscriptionStore
	usage   *store.UsageStore
	users   *store.UserStore
	spaces  *store.SpaceStore
	client  *billing.Client
	gate    *billing.Gate
	baseURL string
	logger  *slog.Logger
}

func NewBillingHandler(
	subs *store.SubscriptionStore,
	usage *store.UsageStore,
	us *store.UserStore,
	sps *store.SpaceStore,
	client *billing.Client,
	gate *billing.Gate,
	baseURL string,
	logger *slog.Logger,
) *BillingHandler {
	return &BillingHandler{
		subs:    subs,
		usage:   usage,
		users:   us,
		spaces:  sps,
		client:  client,
		gate:    gate,
		baseURL: baseURL,
		logger:  logger,
	}
}

// Subscription returns the space's plan, subscription state, and the
// current period's usage against its caps.
func (h *BillingHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	plan, err := h.gate.Plan(spaceID)
	if err != nil {
		h.logger.Error("get plan", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load subscription")
		return
	}

	sub, err := h.subs.GetBySpaceID(spaceID)
	if err != nil {
		h.logger.Error("get subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load subscription")
		return
	}

	counters, err := h.usage.ListByPeriod(spaceID, store.CurrentPeriod(time.Now().UTC()))
	if err != nil {
		h.logger.Error("list usage", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load subscription")
		return
	}
	usage := make(map[string]int64, len(counters))
	for _, c := range counters {
		usage[c.Metric] = c.Count
	}

	writeData(w, http.StatusOK, map[string]any{
		"plan":         plan,
		"subscription": sub,
		"usage":        usage,
		"limits":       h.gate.Limits(plan),
	})
}

// Checkout starts a Stripe checkout for the plus plan and returns the
// URL to redirect the member to. Admin only.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	if h.client == nil {
		writeError(w, http.StatusBadRequest, "billing is not configured")
		return
	}

	sub, err := h.subs.GetBySpaceID(ac.SpaceID)
	if err != nil {
		h.logger.Error("get subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start checkout")
		return
	}
	if sub == nil {
		sub, err = h.subs.Create(ac.SpaceID, model.PlanFree)
		if err != nil {
			h.logger.Error("create subscription row", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to start checkout")
			return
		}
	}
	if sub.Plan == model.PlanPlus && sub.Status != model.SubStatusCanceled {
		writeError(w, http.StatusBadRequest, "space is already on the plus plan")
		return
	}

	customerID := sub.StripeCustomerID
	if customerID == "" {
		user, err := h.users.GetByID(ac.UserID)
		if err != nil || user == nil {
			h.logger.Error("get user for checkout", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to start checkout")
			return
		}
		space, err := h.spaces.GetByID(ac.SpaceID)
		if err != nil || space == nil {
			h.logger.Error("get space for checkout", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to start checkout")
			return
		}
		customerID, err = h.client.CreateCustomer(user.Email, space.Name)
		if err != nil {
			h.logger.Error("create stripe customer", "error", err)
			writeError(w, http.StatusBadGateway, "failed to start checkout")
			return
		}
		if err := h.subs.UpdateStripeCustomerID(sub.ID, customerID); err != nil {
			h.logger.Error("save stripe customer id", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to start checkout")
			return
		}
	}

	url, err := h.client.CreateCheckoutSession(customerID, h.client.PlusPriceID())
	if err != nil {
		h.logger.Error("create checkout session", "error", err)
		writeError(w, http.StatusBadGateway, "failed to start checkout")
		return
	}

	writeData(w, http.StatusOK, map[string]string{"checkout_url": url})
}

// Portal opens the Stripe billing portal for an existing customer.
// Admin only.
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	if h.client == nil {
		writeError(w, http.StatusBadRequest, "billing is not configured")
		return
	}

	sub, err := h.subs.GetBySpaceID(spaceID)
	if err != nil {
		h.logger.Error("get subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to open billing portal")
		return
	}
	if sub == nil || sub.StripeCustomerID == "" {
		writeError(w, http.StatusBadRequest, "space has no billing history")
		return
	}

	url, err := h.client.CreateBillingPortalSession(sub.StripeCustomerID, h.baseURL+"/settings/billing")
	if err != nil {
		h.logger.Error("create portal session", "error", err)
		writeError(w, http.StatusBadGateway, "failed to open billing portal")
		return
	}

	writeData(w, http.StatusOK, map[string]string{"portal_url": url})
}

// Webhook receives Stripe events. The signature is checked before any
// parsing; unknown event types are acknowledged and dropped.
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		http.Error(w, "billing not configured", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.client.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(event)
	case "invoice.paid":
		h.handleInvoicePaid(event)
	case "invoice.payment_failed":
		h.handleInvoicePaymentFailed(event)
	case "customer.subscription.updated":
		h.handleSubscriptionUpdated(event)
	case "customer.subscription.deleted":
		h.handleSubscriptionDeleted(event)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *BillingHandler) handleCheckoutCompleted(event stripe.Event) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("webhook: unmarshal checkout session", "error", err)
		return
	}
	if sess.Customer == nil || sess.Subscription == nil {
		h.logger.Error("webhook: checkout session missing customer or subscription")
		return
	}

	sub, err := h.subs.GetByStripeCustomerID(sess.Customer.ID)
	if err != nil {
		h.logger.Error("webhook: get subscription by customer", "error", err)
		return
	}
	if sub == nil {
		h.logger.Error("webhook: no subscription row for customer", "customer_id", sess.Customer.ID)
		return
	}

	if err := h.subs.Activate(sub.ID, sess.Subscription.ID, model.PlanPlus, nil); err != nil {
		h.logger.Error("webhook: activate subscription", "error", err)
		return
	}
	h.logger.Info("webhook: plus plan activated", "space_id", sub.SpaceID)
}

// subscriptionIDFromInvoice extracts the subscription ID from an
// invoice's parent.
func subscriptionIDFromInvoice(invoice stripe.Invoice) string {
	if invoice.Parent != nil &&
		invoice.Parent.SubscriptionDetails != nil &&
		invoice.Parent.SubscriptionDetails.Subscription != nil {
		return invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

func (h *BillingHandler) handleInvoicePaid(event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("webhook: unmarshal invoice", "error", err)
		return
	}

	subID := subscriptionIDFromInvoice(invoice)
	if subID == "" {
		return
	}

	sub, err := h.subs.GetByStripeSubID(subID)
	if err != nil || sub == nil {
		if err != nil {
			h.logger.Error("webhook: get subscription for invoice.paid", "error", err)
		}
		return
	}

	if err := h.subs.UpdateStatus(sub.ID, model.SubStatusActive); err != nil {
		h.logger.Error("webhook: update subscription status", "error", err)
	}
	if invoice.PeriodEnd > 0 {
		periodEnd := time.Unix(invoice.PeriodEnd, 0).UTC()
		if err := h.subs.UpdatePeriodEnd(sub.ID, &periodEnd); err != nil {
			h.logger.Error("webhook: update period end", "error", err)
		}
	}
}

func (h *BillingHandler) handleInvoicePaymentFailed(event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("webhook: unmarshal invoice", "error", err)
		return
	}

	subID := subscriptionIDFromInvoice(invoice)
	if subID == "" {
		return
	}

	sub, err := h.subs.GetByStripeSubID(subID)
	if err != nil || sub == nil {
		return
	}

	// Past due keeps the plus plan; Stripe retries and either recovers
	// the invoice or cancels the subscription.
	if err := h.subs.UpdateStatus(sub.ID, model.SubStatusPastDue); err != nil {
		h.logger.Error("webhook: update subscription status to past_due", "error", err)
	}
}

// mapStripeStatus folds Stripe's subscription states into the three this
// app tracks.
func mapStripeStatus(s stripe.SubscriptionStatus) string {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return model.SubStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return model.SubStatusPastDue
	default:
		return model.SubStatusCanceled
	}
}

func (h *BillingHandler) handleSubscriptionUpdated(event stripe.Event) {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		h.logger.Error("webhook: unmarshal subscription", "error", err)
		return
	}

	sub, err := h.subs.GetByStripeSubID(stripeSub.ID)
	if err != nil || sub == nil {
		return
	}

	if err := h.subs.UpdateStatus(sub.ID, mapStripeStatus(stripeSub.Status)); err != nil {
		h.logger.Error("webhook: update subscription status", "error", err)
	}
	if err := h.subs.SetCancelAtPeriodEnd(sub.ID, stripeSub.CancelAtPeriodEnd); err != nil {
		h.logger.Error("webhook: set cancel at period end", "error", err)
	}
}

func (h *BillingHandler) handleSubscriptionDeleted(event stripe.Event) {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		h.logger.Error("webhook: unmarshal subscription", "error", err)
		return
	}

	sub, err := h.subs.GetByStripeSubID(stripeSub.ID)
	if err != nil || sub == nil {
		return
	}

	if err := h.subs.Downgrade(sub.ID); err != nil {
		h.logger.Error("webhook: downgrade subscription", "error", err)
		return
	}
	h.logger.Info("webhook: space downgraded to free", "space_id", sub.SpaceID)
}
