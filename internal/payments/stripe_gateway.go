package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"

	"github.com/buypoint/checkout/internal/currency"
	"github.com/buypoint/checkout/internal/domain"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripePaymentMethodAPI interface {
	New(params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

type stripeClients struct {
	intents        stripePaymentIntentAPI
	paymentMethods stripePaymentMethodAPI
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey    string
	AccountID string
	Timeout   time.Duration
	// ZapLogger receives the stripe-go client's own diagnostics.
	ZapLogger *zap.Logger
	Logger    StripeLogger
	Clients   *stripeClients
}

// StripeGateway implements CardGateway with confirmed Stripe PaymentIntents.
type StripeGateway struct {
	api     stripeClients
	account string
	timeout time.Duration
	logger  StripeLogger
}

// NewStripeGateway constructs a Stripe backed gateway.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, stripeBackends(cfg))
		clients = stripeClients{
			intents:        sc.PaymentIntents,
			paymentMethods: sc.PaymentMethods,
		}
	}
	if clients.intents == nil || clients.paymentMethods == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

func stripeBackends(cfg StripeGatewayConfig) *stripe.Backends {
	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(2),
	}
	if cfg.Timeout > 0 {
		backendCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.ZapLogger != nil {
		backendCfg.LeveledLogger = cfg.ZapLogger.Named("stripe").Sugar()
	}
	return &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}
}

// Open creates and confirms a PaymentIntent for the descriptor. A declined card is
// returned as a *GatewayError wrapping domain.ErrGatewayRejected.
func (g *StripeGateway) Open(ctx context.Context, intent IntentDescriptor) (GatewayResult, error) {
	if g == nil {
		return GatewayResult{}, errors.New("stripe: gateway is nil")
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	methodID, err := g.paymentMethod(ctx, intent)
	if err != nil {
		return GatewayResult{}, err
	}

	code := strings.ToUpper(strings.TrimSpace(intent.Currency))
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(currency.MinorUnits(intent.Amount, code)),
		Currency:      stripe.String(strings.ToLower(code)),
		PaymentMethod: stripe.String(methodID),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(intent.Description),
		Metadata:      intentMetadata(intent),
	}
	// A client-supplied PaymentMethod (bank or saved card) already carries its type.
	if strings.TrimSpace(intent.PaymentToken) == "" {
		params.PaymentMethodTypes = stripe.StringSlice([]string{string(stripe.PaymentMethodTypeCard)})
	}
	if name := strings.TrimSpace(intent.MerchantName); name != "" {
		params.StatementDescriptorSuffix = stripe.String(truncate(name, 22))
	}
	if email := strings.TrimSpace(intent.Email); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	params.Context = ctx
	if key := strings.TrimSpace(intent.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}

	pi, err := g.api.intents.New(params)
	if err != nil {
		classified := ClassifyError(err)
		g.logger(ctx, "payments.stripe.intent.failed", map[string]any{
			"orderId": intent.OrderID,
			"error":   classified.Error(),
		})
		return GatewayResult{}, classified
	}

	result := intentResult(pi)
	g.logger(ctx, "payments.stripe.intent.confirmed", map[string]any{
		"orderId":       intent.OrderID,
		"paymentIntent": pi.ID,
		"status":        pi.Status,
	})
	return result, nil
}

func (g *StripeGateway) paymentMethod(ctx context.Context, intent IntentDescriptor) (string, error) {
	if token := strings.TrimSpace(intent.PaymentToken); token != "" {
		return token, nil
	}
	if intent.Card == nil {
		return "", fmt.Errorf("%w: card details or payment token required", domain.ErrInvalidArgument)
	}
	params := &stripe.PaymentMethodParams{
		Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
		Card: &stripe.PaymentMethodCardParams{
			Number:   stripe.String(intent.Card.Number),
			ExpMonth: stripe.Int64(int64(intent.Card.ExpiryMonth)),
			ExpYear:  stripe.Int64(int64(intent.Card.ExpiryYear)),
			CVC:      stripe.String(intent.Card.CVV),
		},
		BillingDetails: &stripe.PaymentMethodBillingDetailsParams{},
	}
	if name := strings.TrimSpace(intent.Card.HolderName); name != "" {
		params.BillingDetails.Name = stripe.String(name)
	}
	if email := strings.TrimSpace(intent.Email); email != "" {
		params.BillingDetails.Email = stripe.String(email)
	}
	if phone := strings.TrimSpace(intent.Phone); phone != "" {
		params.BillingDetails.Phone = stripe.String(phone)
	}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	pm, err := g.api.paymentMethods.New(params)
	if err != nil {
		return "", ClassifyError(err)
	}
	return pm.ID, nil
}

func intentResult(pi *stripe.PaymentIntent) GatewayResult {
	result := GatewayResult{
		PaymentID: pi.ID,
		Amount:    pi.Amount,
		Currency:  strings.ToUpper(string(pi.Currency)),
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture:
		result.Status = StatusSucceeded
	default:
		result.Status = StatusFailed
		result.FailureCode = string(pi.Status)
		result.FailureMessage = "payment was not completed"
		if lastErr := pi.LastPaymentError; lastErr != nil {
			if lastErr.DeclineCode != "" {
				result.FailureCode = string(lastErr.DeclineCode)
			} else if lastErr.Code != "" {
				result.FailureCode = string(lastErr.Code)
			}
			if lastErr.Msg != "" {
				result.FailureMessage = lastErr.Msg
			}
		}
	}
	return result
}

func intentMetadata(intent IntentDescriptor) map[string]string {
	meta := map[string]string{
		"order_id": intent.OrderID,
		"method":   string(intent.Method),
	}
	if intent.ThemeColor != "" {
		meta["theme_color"] = intent.ThemeColor
	}
	if intent.Phone != "" {
		meta["contact"] = intent.Phone
	}
	return meta
}

func truncate(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return value[:n]
}
