/*
Package api serves the rollup over HTTP.

The identity of the caller of every mutating endpoint is read from the
X-Caller-Address header, which must be set by the gateway hosting the node
after authenticating the request.  Amounts are decimal strings and hashes
are 0x prefixed hex strings.

Mutations are serialized with a write lock and queries take the read lock,
so a query never observes a half committed operation.
*/
package api

import (
	"errors"
	"net/http"
	"sync"

	"zkrollup/database/historydb"
	"zkrollup/metric"
	"zkrollup/rollup"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CallerHeader is the header carrying the address of the caller
const CallerHeader = "X-Caller-Address"

// API serves HTTP requests to allow external interaction with the rollup
type API struct {
	rollup    *rollup.Controller
	historyDB *historydb.HistoryDB
	validate  *validator.Validate
	version   string
	mu        sync.RWMutex
}

// Config wraps the parameters needed to start the API
type Config struct {
	Version string
	Server  *gin.Engine
	Rollup  *rollup.Controller
	// HistoryDB is optional, without it GET /v1/batches is not available
	HistoryDB *historydb.HistoryDB
}

// NewAPI sets the endpoints and the appropriate handlers, but doesn't start the server
func NewAPI(setup Config) (*API, error) {
	if setup.Server == nil {
		return nil, errors.New("cannot serve the API without a server")
	}
	if setup.Rollup == nil {
		return nil, errors.New("cannot serve the API without a rollup controller")
	}
	a := &API{
		rollup:    setup.Rollup,
		historyDB: setup.HistoryDB,
		validate:  newValidator(),
		version:   setup.Version,
	}

	setup.Server.Use(metric.PrometheusMiddleware())
	setup.Server.NoRoute(a.noRoute)
	setup.Server.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := setup.Server.Group("/v1")
	v1.GET("/health", a.getHealth)
	v1.GET("/state", a.getState)

	// Accounts
	v1.POST("/accounts", a.postAccount)
	v1.GET("/accounts/:accountIndex", a.getAccount)
	v1.GET("/accounts/:accountIndex/proof", a.getAccountProof)
	v1.POST("/accounts/:accountIndex/deposits", a.postDeposit)
	v1.POST("/accounts/:accountIndex/withdrawals", a.postWithdrawal)
	v1.GET("/identities/:address", a.getIdentity)

	// Batches
	v1.POST("/batches", a.postBatch)
	v1.POST("/batches/preview", a.postBatchPreview)
	v1.GET("/batches", a.getBatches)
	v1.GET("/batches/:batchNum", a.getBatch)
	v1.GET("/batches/:batchNum/accounts/:accountIndex/proof", a.getBatchAccountProof)

	// Admin
	v1.POST("/admin/pause", a.postPause)
	v1.POST("/admin/unpause", a.postUnpause)
	v1.POST("/admin/owner", a.postOwner)

	return a, nil
}

func (a *API) noRoute(c *gin.Context) {
	errorResponse(c, http.StatusNotFound, "route not found")
}

func (a *API) getHealth(c *gin.Context) {
	successResponse(c, http.StatusOK, "healthy", gin.H{"version": a.version})
}
