package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/buypoint/checkout/internal/handlers"
	"github.com/buypoint/checkout/internal/payments"
	"github.com/buypoint/checkout/internal/platform/auth"
	"github.com/buypoint/checkout/internal/platform/breaker"
	"github.com/buypoint/checkout/internal/platform/config"
	pfirestore "github.com/buypoint/checkout/internal/platform/firestore"
	"github.com/buypoint/checkout/internal/platform/idempotency"
	"github.com/buypoint/checkout/internal/platform/observability"
	"github.com/buypoint/checkout/internal/repositories"
	firestoreRepo "github.com/buypoint/checkout/internal/repositories/firestore"
	"github.com/buypoint/checkout/internal/services"
)

const tracerName = "github.com/buypoint/checkout/internal/services"

// Repositories bundles the persistence contracts the services depend upon.
type Repositories struct {
	Carts     repositories.CartRepository
	Orders    repositories.OrderRepository
	Payments  repositories.PaymentRepository
	Addresses repositories.AddressRepository
}

func (r Repositories) validate() error {
	var errs []error
	if r.Carts == nil {
		errs = append(errs, errors.New("cart repository is required"))
	}
	if r.Orders == nil {
		errs = append(errs, errors.New("order repository is required"))
	}
	if r.Payments == nil {
		errs = append(errs, errors.New("payment repository is required"))
	}
	if r.Addresses == nil {
		errs = append(errs, errors.New("address repository is required"))
	}
	return errors.Join(errs...)
}

// NewFirestoreRepositories builds the Firestore-backed repositories over one provider.
func NewFirestoreRepositories(provider *pfirestore.Provider) (Repositories, error) {
	carts, err := firestoreRepo.NewCartRepository(provider)
	if err != nil {
		return Repositories{}, err
	}
	orders, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return Repositories{}, err
	}
	paymentsRepo, err := firestoreRepo.NewPaymentRepository(provider)
	if err != nil {
		return Repositories{}, err
	}
	addresses, err := firestoreRepo.NewAddressRepository(provider)
	if err != nil {
		return Repositories{}, err
	}
	return Repositories{Carts: carts, Orders: orders, Payments: paymentsRepo, Addresses: addresses}, nil
}

// Infrastructure carries the clients constructed by main. Events and Metrics are optional.
type Infrastructure struct {
	Logger      *zap.Logger
	Gateway     payments.CardGateway
	Idempotency idempotency.Store
	Events      services.OrderEventPublisher
	Metrics     *observability.CheckoutMetrics
	Health      repositories.HealthRepository
	Clock       func() time.Time
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Addresses services.AddressService
	Orders    services.OrderHistoryService
	Checkout  services.CheckoutService
	Sessions  *services.SessionRegistry
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories Repositories
	Services     Services

	logger *zap.Logger
	keys   idempotency.Store
	health repositories.HealthRepository
	now    func() time.Time
}

// NewContainer constructs the runtime dependencies. Tests supply in-memory repositories and
// infrastructure; production wiring passes the Firestore set.
func NewContainer(ctx context.Context, cfg config.Config, repos Repositories, infra Infrastructure) (*Container, error) {
	if err := repos.validate(); err != nil {
		return nil, fmt.Errorf("di: %w", err)
	}
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}

	c := &Container{
		Config:       cfg,
		Repositories: repos,
		logger:       logger,
		keys:         infra.Idempotency,
		health:       infra.Health,
		now:          clock,
	}
	svc, err := c.buildServices(ctx, infra)
	if err != nil {
		return nil, err
	}
	c.Services = svc
	return c, nil
}

func (c *Container) buildServices(_ context.Context, infra Infrastructure) (Services, error) {
	var svc Services
	cfg := c.Config

	var cartMetrics services.CartMetrics
	var checkoutMetrics services.CheckoutMetrics
	if infra.Metrics != nil {
		cartMetrics = infra.Metrics
		checkoutMetrics = infra.Metrics
	}

	addresses, err := services.NewAddressService(services.AddressServiceDeps{
		Addresses: c.Repositories.Addresses,
		Clock:     c.now,
		Logger:    observability.EventLogger(c.logger.Named("addresses")),
	})
	if err != nil {
		return svc, fmt.Errorf("di: address service: %w", err)
	}
	svc.Addresses = addresses

	orders, err := services.NewOrderHistoryService(services.OrderHistoryServiceDeps{
		Orders:   c.Repositories.Orders,
		Payments: c.Repositories.Payments,
		Events:   infra.Events,
		Clock:    c.now,
		Logger:   observability.EventLogger(c.logger.Named("orders")),
	})
	if err != nil {
		return svc, fmt.Errorf("di: order history service: %w", err)
	}
	svc.Orders = orders

	checkout, err := services.NewCheckoutOrchestrator(services.CheckoutOrchestratorDeps{
		Orders:           c.Repositories.Orders,
		Payments:         c.Repositories.Payments,
		Gateway:          infra.Gateway,
		Idempotency:      infra.Idempotency,
		Events:           infra.Events,
		Metrics:          checkoutMetrics,
		Tracer:           otel.Tracer(tracerName),
		Clock:            c.now,
		Logger:           observability.EventLogger(c.logger.Named("checkout")),
		MerchantName:     cfg.Checkout.MerchantName,
		MerchantVPA:      cfg.Checkout.MerchantUPIID,
		ThemeColor:       cfg.Checkout.ThemeColor,
		UPIResultTimeout: cfg.Checkout.UPIResultTimeout,
		IdempotencyTTL:   cfg.Idempotency.TTL,
	})
	if err != nil {
		return svc, fmt.Errorf("di: checkout orchestrator: %w", err)
	}
	svc.Checkout = checkout

	cartLogger := c.logger.Named("cart")
	cartBreaker := breaker.New(breaker.Settings{
		Name:                "cart-remote",
		ConsecutiveFailures: uint32(cfg.Cart.BreakerFailures),
		OpenTimeout:         cfg.Cart.BreakerOpenTimeout,
		OnStateChange: func(name, from, to string) {
			cartLogger.Warn("breaker state change",
				zap.String("breaker", name),
				zap.String("from", from),
				zap.String("to", to),
			)
		},
	})
	sessions, err := services.NewSessionRegistry(services.SessionRegistryDeps{
		Carts:             c.Repositories.Carts,
		Breaker:           cartBreaker,
		Clock:             c.now,
		Logger:            observability.EventLogger(cartLogger),
		Metrics:           cartMetrics,
		RemoteTimeout:     cfg.Cart.RemoteTimeout,
		ReconcileInterval: cfg.Cart.ReconcileInterval,
		DisableWatch:      !cfg.Cart.WatchRemote,
	})
	if err != nil {
		return svc, fmt.Errorf("di: session registry: %w", err)
	}
	svc.Sessions = sessions

	return svc, nil
}

// Router builds the HTTP router with every route group mounted behind authn.
func (c *Container) Router(authn *auth.Authenticator, build handlers.BuildInfo, middlewares ...func(http.Handler) http.Handler) chi.Router {
	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(build), handlers.WithHealthClock(c.now)}
	if c.health != nil {
		healthOpts = append(healthOpts, handlers.WithHealthRepository(c.health))
	}

	sessions := c.Services.Sessions
	cart := handlers.NewCartHandlers(authn, sessions)
	addresses := handlers.NewAddressHandlers(authn, c.Services.Addresses)
	checkout := handlers.NewCheckoutHandlers(authn, sessions, c.Services.Checkout, c.Services.Addresses,
		handlers.WithIdempotencyHeader(c.Config.Idempotency.Header),
	)
	orders := handlers.NewOrderHandlers(authn, c.Services.Orders)
	session := handlers.NewSessionHandlers(authn, sessions)

	return handlers.NewRouter(
		handlers.WithRequestTimeout(c.Config.Server.RequestTimeout),
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithCartRoutes(cart.Routes),
		handlers.WithAddressRoutes(addresses.Routes),
		handlers.WithCheckoutRoutes(checkout.Routes),
		handlers.WithOrderRoutes(orders.Routes),
		handlers.WithSessionRoutes(session.Routes),
	)
}

// RunIdempotencyCleanup deletes expired idempotency keys every interval until ctx ends.
func (c *Container) RunIdempotencyCleanup(ctx context.Context) {
	if c.keys == nil {
		return
	}
	interval := c.Config.Idempotency.CleanupInterval
	if interval <= 0 {
		return
	}
	logger := c.logger.Named("idempotency")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := c.keys.CleanupExpired(ctx, c.now(), c.Config.Idempotency.CleanupBatchSize)
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency keys expired", zap.Int("removed", removed))
			}
		}
	}
}

// Close ends every live session. Clients owned by main are closed there.
func (c *Container) Close(context.Context) error {
	if c == nil || c.Services.Sessions == nil {
		return nil
	}
	c.Services.Sessions.Close()
	return nil
}
