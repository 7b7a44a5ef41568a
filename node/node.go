/*
Package node does the initialization of all the required objects to run a
rollup node from its configuration: the StateDB with the configured state
tree, the rollup Controller, the optional HistoryDB in PostgreSQL and the
HTTP servers of the API and the metrics.
*/
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"zkrollup/api"
	"zkrollup/commitment"
	"zkrollup/common"
	"zkrollup/config"
	dbUtils "zkrollup/database"
	"zkrollup/database/historydb"
	"zkrollup/database/statedb"
	"zkrollup/log"
	"zkrollup/rollup"
	"zkrollup/signer"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Node is the rollup node
type Node struct {
	cfg        *config.Node
	sdb        *statedb.StateDB
	controller *rollup.Controller
	sqlConn    *sqlx.DB
	historyDB  *historydb.HistoryDB
	apiServer  *http.Server
	// metricsServer is nil when the metrics are only served by the API
	metricsServer *http.Server
}

// NewNode creates a Node
func NewNode(cfg *config.Node, version string) (*Node, error) {
	hasher, err := commitment.NewHasher(cfg.Rollup.Hasher)
	if err != nil {
		return nil, common.Wrap(err)
	}
	verifier, err := signer.NewVerifier(cfg.Rollup.SignatureScheme)
	if err != nil {
		return nil, common.Wrap(err)
	}
	sdb, err := statedb.NewStateDB(statedb.Config{
		Path:    cfg.StateDB.Path,
		Keep:    cfg.StateDB.Keep,
		NLevels: cfg.StateDB.NLevels,
		Hasher:  hasher,
	})
	if err != nil {
		return nil, common.Wrap(err)
	}
	n := &Node{cfg: cfg, sdb: sdb}

	// rollup.History must stay a nil interface when there is no HistoryDB
	var history rollup.History
	if cfg.PostgreSQL.Enabled {
		n.sqlConn, err = dbUtils.InitSQLDB(
			cfg.PostgreSQL.Port,
			cfg.PostgreSQL.Host,
			cfg.PostgreSQL.User,
			cfg.PostgreSQL.Password,
			cfg.PostgreSQL.Name,
		)
		if err != nil {
			n.close()
			return nil, common.Wrap(fmt.Errorf("dbUtils.InitSQLDB: %w", err))
		}
		n.sqlConn.SetMaxOpenConns(cfg.PostgreSQL.MaxOpenConns)
		apiConnCon := dbUtils.NewAPIConnectionController(
			cfg.API.MaxSQLConnections,
			cfg.API.SQLConnectionTimeout,
		)
		n.historyDB = historydb.NewHistoryDB(n.sqlConn, n.sqlConn, apiConnCon)
		history = n.historyDB
	}

	n.controller, err = rollup.NewController(rollup.Config{
		Owner:         cfg.OwnerAddress(),
		FeeAccountIdx: cfg.FeeAccountIdx(),
	}, sdb, verifier, PayoutLogger{}, history)
	if err != nil {
		n.close()
		return nil, common.Wrap(err)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if len(cfg.API.CORSAllowOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.API.CORSAllowOrigins
		corsCfg.AddAllowHeaders(api.CallerHeader)
		engine.Use(cors.New(corsCfg))
	}
	if _, err := api.NewAPI(api.Config{
		Version:   version,
		Server:    engine,
		Rollup:    n.controller,
		HistoryDB: n.historyDB,
	}); err != nil {
		n.close()
		return nil, common.Wrap(err)
	}
	n.apiServer = &http.Server{
		Addr:         cfg.API.Address,
		Handler:      engine,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}
	if cfg.Metrics.Address != "" && cfg.Metrics.Address != cfg.API.Address {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		n.metricsServer = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: cfg.API.ReadTimeout,
		}
	}
	log.Infow("node initialized",
		"hasher", hasher.Name(),
		"signatureScheme", cfg.Rollup.SignatureScheme,
		"nLevels", sdb.Tree().NLevels(),
		"historyDB", n.historyDB != nil,
	)
	return n, nil
}

// Controller returns the rollup Controller of the node
func (n *Node) Controller() *rollup.Controller {
	return n.controller
}

// APIHandler returns the handler of the API server
func (n *Node) APIHandler() http.Handler {
	return n.apiServer.Handler
}

func (n *Node) servers() []*http.Server {
	servers := []*http.Server{n.apiServer}
	if n.metricsServer != nil {
		servers = append(servers, n.metricsServer)
	}
	return servers
}

// Run serves the API and the metrics until ctx is done or a server fails,
// then shuts down the servers and closes the databases
func (n *Node) Run(ctx context.Context) error {
	defer n.close()
	servers := n.servers()
	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			log.Infow("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return common.Wrap(fmt.Errorf("server %s: %w", srv.Addr, err))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Stopping node...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Errorw("server shutdown", "addr", srv.Addr, "err", err)
			}
		}
		return nil
	})
	return g.Wait()
}

func (n *Node) close() {
	if n.sqlConn != nil {
		if err := n.sqlConn.Close(); err != nil {
			log.Errorw("closing PostgreSQL", "err", err)
		}
	}
	n.sdb.Close()
}
