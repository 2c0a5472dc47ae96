package api

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/walletrecovery/internal/handlers"
	"github.com/charlesng35/walletrecovery/internal/middleware"
	"github.com/charlesng35/walletrecovery/internal/monitoring"
	"github.com/charlesng35/walletrecovery/internal/services"
)

// RateLimit caps code-sending routes per account.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// Dependencies carries the services the router mounts. Everything is built once at startup.
// A nil TwoFactor leaves the /2fa routes unregistered.
type Dependencies struct {
	Verifier  middleware.OwnershipVerifier
	TwoFactor *services.TwoFactorService
	Methods   *services.RecoveryMethodService
	Health    *monitoring.HealthManager

	RateStore      middleware.RateStore
	RateLimit      RateLimit
	AllowedOrigins []string
	EnableMetrics  bool
}

// NewRouter builds the Gin engine, wires middleware and registers the recovery routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Verifier == nil {
		return nil, errors.New("api: ownership verifier must be provided")
	}
	if deps.Methods == nil {
		return nil, errors.New("api: recovery method service must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(deps.AllowedOrigins...))

	r.GET("/health", handlers.Health(deps.Health))
	if deps.EnableMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	owned := r.Group("/")
	owned.Use(middleware.AccountOwnership(deps.Verifier))

	limited := middleware.RateLimit(deps.RateStore, deps.RateLimit.Requests, deps.RateLimit.Window)

	if deps.TwoFactor != nil {
		twoFactor := handlers.NewTwoFactorHandler(deps.TwoFactor)
		tfa := owned.Group("/2fa")
		{
			tfa.POST("/getAccessKey", twoFactor.GetAccessKey)
			tfa.POST("/init", limited, twoFactor.Init)
			tfa.POST("/send", limited, twoFactor.Send)
			tfa.POST("/verify", twoFactor.Verify)
		}
	}

	methods := handlers.NewRecoveryMethodHandler(deps.Methods)
	account := owned.Group("/account")
	{
		account.POST("/recoveryMethods", methods.List)
		account.POST("/initializeRecoveryMethod", limited, methods.Initialize)
		account.POST("/validateSecurityCode", methods.ValidateSecurityCode)
		account.POST("/seedPhraseAdded", methods.SeedPhraseAdded)
		account.POST("/ledgerKeyAdded", methods.LedgerKeyAdded)
		account.POST("/deleteRecoveryMethod", methods.Delete)
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
