package billing

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/tiersync/handler"
	"github.com/dmitrymomot/tiersync/pkg/binder"
	"github.com/dmitrymomot/tiersync/pkg/subscription"
)

func (s *Service) webhook(ctx handler.Context, req webhookRequest) handler.Response {
	result, err := s.reconciler.HandleWebhook(ctx, req.Provider, req.Payload, req.Signature)
	if err != nil {
		s.recorder.ObserveWebhook(string(req.Provider), "rejected")
		return handler.Fail(err)
	}
	s.recorder.ObserveWebhook(string(req.Provider), string(result.Status))

	return handler.JSON(webhookResponse{
		Received: true,
		Status:   string(result.Status),
		EventID:  result.EventID,
	})
}

func (s *Service) checkout(ctx handler.Context, req checkoutRequest) handler.Response {
	res, err := s.orchestrator.CreateCheckout(ctx, req.toDomain())
	if err != nil {
		return handler.Fail(err)
	}

	return handler.JSON(checkoutResponse{
		URL:        res.URL,
		SessionID:  res.SessionID,
		CustomerID: res.ExternalCustomerID,
		Provider:   string(res.Provider),
		Tier:       string(res.Tier),
		ExpiresAt:  timeOrNil(res.ExpiresAt),
	}, handler.WithJSONStatus(http.StatusCreated))
}

func (s *Service) show(ctx handler.Context, req userRequest) handler.Response {
	sub, err := subscription.Get(ctx, s.store, req.UserID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(newSubscriptionResponse(sub))
}

func (s *Service) manage(ctx handler.Context, req manageRequest) handler.Response {
	action, err := subscription.ParseAction(req.Action)
	if err != nil {
		return handler.Fail(err)
	}

	res, err := s.manager.Manage(ctx, action, req.UserID, req.ReturnURL)
	if err != nil {
		return handler.Fail(err)
	}

	resp := manageResponse{Action: string(res.Action), URL: res.URL}
	if res.Sync != nil {
		s.recorder.ObserveSync(string(res.Sync.Outcome))
		sync := newSyncResponse(res.Sync)
		resp.Sync = &sync
	}
	return handler.JSON(resp)
}

func (s *Service) sync(ctx handler.Context, req userRequest) handler.Response {
	res, err := s.manager.Sync(ctx, req.UserID)
	if err != nil {
		return handler.Fail(err)
	}
	s.recorder.ObserveSync(string(res.Outcome))
	return handler.JSON(newSyncResponse(res))
}

func (s *Service) assignOverride(ctx handler.Context, req overrideRequest) handler.Response {
	tier, err := subscription.ParseTier(req.Tier)
	if err != nil {
		return handler.Fail(err)
	}

	sub, err := s.manager.AssignManual(ctx, subscription.ManualAssignment{
		ActorID:   req.ActorID,
		UserID:    req.UserID,
		Tier:      tier,
		PeriodEnd: req.PeriodEnd,
		Reason:    req.Reason,
	})
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(newSubscriptionResponse(sub))
}

func (s *Service) clearOverride(ctx handler.Context, req clearOverrideRequest) handler.Response {
	sub, err := s.manager.ClearOverride(ctx, req.ActorID, req.UserID, req.Reason)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(newSubscriptionResponse(sub))
}

// bindWebhook keeps the payload as raw bytes; signatures are computed over
// the exact body the provider sent.
func (s *Service) bindWebhook(r *http.Request, v any) error {
	req, ok := v.(*webhookRequest)
	if !ok {
		return fmt.Errorf("billing: webhook binder got %T", v)
	}

	req.Provider = subscription.ProviderName(chi.URLParam(r, "provider"))
	header, ok := s.signatureHeaders[req.Provider]
	if !ok {
		return subscription.ErrUnknownProvider
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodyBytes+1))
	if err != nil {
		return errors.Join(ErrInvalidBody, err)
	}
	if int64(len(payload)) > s.maxBodyBytes {
		return fmt.Errorf("%w: limit is %d bytes", binder.ErrBodyTooLarge, s.maxBodyBytes)
	}

	req.Payload = payload
	req.Signature = r.Header.Get(header)
	return nil
}

// requireActor runs before the body is decoded so anonymous admin calls are
// refused without inspecting their payload.
func requireActor(r *http.Request, _ any) error {
	if strings.TrimSpace(r.Header.Get(ActorHeader)) == "" {
		return ErrMissingActor
	}
	return nil
}

// validateRequest checks the bound request against its validate tags.
func (s *Service) validateRequest(_ *http.Request, v any) error {
	if err := s.validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
