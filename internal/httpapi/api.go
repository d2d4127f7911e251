// Package httpapi wires the marketplace's internal packages into an HTTP
// surface: a thin router exercising core.State's operations end to end,
// following the teacher gateway's registerRoutes/middleware-chain shape
// (cmd/gateway/main.go) rather than inventing a new composition style.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/decent-stuff/decent-cloud/infrastructure/logging"
	"github.com/decent-stuff/decent-cloud/infrastructure/metrics"
	"github.com/decent-stuff/decent-cloud/infrastructure/middleware"
	"github.com/decent-stuff/decent-cloud/internal/agent"
	"github.com/decent-stuff/decent-cloud/internal/contract"
	"github.com/decent-stuff/decent-cloud/internal/core"
	"github.com/decent-stuff/decent-cloud/internal/search"
)

// API bundles the dependencies every handler group needs. It holds no
// ledger/account state of its own: all of that lives in core.State, threaded
// in by reference per spec §9.
type API struct {
	Core      *core.State
	Contracts *contract.Store
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	Offerings search.Schema
	NowNs     func() uint64
}

// New constructs an API. offerings is the allow-listed field schema the
// search endpoint compiles filter strings against; it is the caller's
// responsibility to execute the compiled SQL against the read model.
func New(state *core.State, contracts *contract.Store, logger *logging.Logger, m *metrics.Metrics, offerings search.Schema) *API {
	return &API{
		Core:      state,
		Contracts: contracts,
		Logger:    logger,
		Metrics:   m,
		Offerings: offerings,
		NowNs:     func() uint64 { return uint64(time.Now().UnixNano()) },
	}
}

// NewRouter builds the full route table behind the teacher's standard
// middleware chain: logging, panic recovery, metrics, request timeout, rate
// limiting, request validation, CORS, security headers, and a body-size cap,
// in that order,
// matching cmd/gateway/main.go's layering.
func (a *API) NewRouter(cors *middleware.CORSConfig, maxBodyBytes int64) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.LoggingMiddleware(a.Logger))
	router.Use(middleware.NewRecoveryMiddleware(a.Logger).Handler)
	if a.Metrics != nil {
		router.Use(middleware.MetricsMiddleware("decent-cloud", a.Metrics))
	}
	router.Use(middleware.NewTimeoutMiddleware(30 * time.Second).Handler)
	router.Use(middleware.NewRateLimiterWithWindow(600, time.Minute, 50, a.Logger).Handler)
	router.Use(middleware.NewValidationMiddleware(middleware.DefaultValidationConfig()).Handler)
	router.Use(middleware.NewCORSMiddleware(cors).Handler)
	router.Use(middleware.NewSecurityHeadersMiddleware(middleware.DefaultSecurityHeaders()).Handler)
	router.Use(middleware.NewBodyLimitMiddleware(maxBodyBytes).Handler)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/version", handleVersion).Methods(http.MethodGet)

	health := middleware.NewHealthChecker("decent-cloud")
	router.HandleFunc("/healthz", health.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/transfers", a.handleCreateTransfer).Methods(http.MethodPost)

	v1.HandleFunc("/sync/pull", a.handleSyncPull).Methods(http.MethodGet)
	v1.HandleFunc("/sync/push", a.handleSyncPush).Methods(http.MethodPost)
	v1.HandleFunc("/sync/authorize-push", a.handleSyncAuthorizePush).Methods(http.MethodPost)

	v1.HandleFunc("/contracts", a.handleCreateContract).Methods(http.MethodPost)
	v1.HandleFunc("/contracts", a.handleListContracts).Methods(http.MethodGet)
	v1.HandleFunc("/contracts/{id}", a.handleGetContract).Methods(http.MethodGet)
	v1.HandleFunc("/contracts/{id}/accept", a.handleContractTransition(transitionAccept)).Methods(http.MethodPost)
	v1.HandleFunc("/contracts/{id}/reject", a.handleContractTransition(transitionReject)).Methods(http.MethodPost)
	v1.HandleFunc("/contracts/{id}/cancel", a.handleContractTransition(transitionCancel)).Methods(http.MethodPost)
	v1.HandleFunc("/contracts/{id}/provisioning", a.handleContractTransition(transitionMarkProvisioning)).Methods(http.MethodPost)
	v1.HandleFunc("/contracts/{id}/provisioned", a.handleContractTransition(transitionAttachProvisioningDetails)).Methods(http.MethodPost)
	v1.HandleFunc("/contracts/{id}/activate", a.handleContractTransition(transitionActivate)).Methods(http.MethodPost)
	v1.HandleFunc("/contracts/{id}/complete", a.handleContractTransition(transitionComplete)).Methods(http.MethodPost)
	v1.HandleFunc("/contracts/{id}/extend", a.handleExtendContract).Methods(http.MethodPost)

	v1.HandleFunc("/agents/pools", a.handleCreatePool).Methods(http.MethodPost)
	v1.HandleFunc("/agents/pools", a.handleListPools).Methods(http.MethodGet)
	v1.HandleFunc("/agents/pools/{id}/setup-tokens", a.handleCreateSetupToken).Methods(http.MethodPost)
	v1.HandleFunc("/agents/register", a.handleRegisterAgent).Methods(http.MethodPost)
	v1.HandleFunc("/agents/heartbeat", a.handleHeartbeat).Methods(http.MethodPost)
	v1.HandleFunc("/agents/heartbeat/ws", a.handleHeartbeatStream)

	v1.HandleFunc("/search", a.handleSearch).Methods(http.MethodGet)

	return router
}

// permission satisfies the agent.Authenticator's expectation that handlers
// explicitly name the permission a delegated route requires.
const (
	permHeartbeat = agent.PermHeartbeat
)
