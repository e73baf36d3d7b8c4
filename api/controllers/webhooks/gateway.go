package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/amaruortiz/vendora-backend/api/responses"
	"github.com/amaruortiz/vendora-backend/internal/payments"
	pkgerrors "github.com/amaruortiz/vendora-backend/pkg/errors"
	"github.com/amaruortiz/vendora-backend/pkg/gateway"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
	"github.com/amaruortiz/vendora-backend/pkg/metrics"
)

const (
	signatureHeader = "X-Gateway-Signature"
	replayGuardTTL  = 7 * 24 * time.Hour
)

type gatewayEvent struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	Reference string `json:"reference"`
}

type secretSource interface {
	WebhookSecret() string
}

type replayGuard interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookEventKey(provider, eventID string) string
}

// GatewayWebhook receives asynchronous charge notifications. The webhook
// and the buyer redirect race to the same verification path; whichever
// arrives second becomes a no-op.
func GatewayWebhook(svc payments.Service, secrets secretSource, guard replayGuard, pipeline *metrics.PipelineMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		if secrets == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "gateway client unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(signatureHeader))
		if !gateway.VerifySignature(secrets.WebhookSecret(), payload, signature) {
			pipeline.IncWebhookEvent("rejected")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
			return
		}

		var event gatewayEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload"))
			return
		}
		if event.EventID == "" || event.Reference == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event_id and reference are required"))
			return
		}

		if guard != nil {
			key := guard.WebhookEventKey("gateway", event.EventID)
			fresh, err := guard.SetNX(ctx, key, "1", replayGuardTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check replay guard"))
				return
			}
			if !fresh {
				pipeline.IncWebhookEvent("replay")
				responses.WriteSuccess(w, nil)
				return
			}

			if _, err := svc.VerifyByReference(ctx, event.Reference); err != nil {
				// Release the guard so the gateway's retry is not dropped.
				_ = guard.Del(context.WithoutCancel(ctx), key)
				pipeline.IncWebhookEvent("error")
				responses.WriteError(ctx, logg, w, err)
				return
			}
		} else if _, err := svc.VerifyByReference(ctx, event.Reference); err != nil {
			pipeline.IncWebhookEvent("error")
			responses.WriteError(ctx, logg, w, err)
			return
		}

		pipeline.IncWebhookEvent("processed")
		if logg != nil {
			logg.Info(logg.WithField(ctx, "event_id", event.EventID), "gateway webhook processed")
		}
		responses.WriteSuccess(w, nil)
	}
}
