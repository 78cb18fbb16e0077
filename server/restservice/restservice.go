package restservice

import (
	"context"
	"errors"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"argela.com/bpsim/datamodel"
	"argela.com/bpsim/server/dhcp"
	"argela.com/bpsim/server/eventcenter"
	"argela.com/bpsim/server/metrics"
	"argela.com/bpsim/server/storm"
)

// The container for REST API settings. It contains the struct tags with the
// CLI flags specification.
type RestAPISettings struct {
	CleanupTimeout time.Duration `long:"rest-cleanup-timeout" description:"The waiting period before killing idle connections" default:"10s"`
	Host           string        `long:"rest-host" description:"The IP to listen on" default:"" env:"BPSIM_REST_HOST"`
	Port           int           `long:"rest-port" description:"The port to listen on for connections" default:"8080" env:"BPSIM_REST_PORT"`
	ListenLimit    int           `long:"rest-listen-limit" description:"Limits the number of outstanding requests"`
	KeepAlive      time.Duration `long:"rest-keep-alive" description:"Sets the TCP keep-alive timeouts on accepted connections" default:"3m"`
	ReadTimeout    time.Duration `long:"rest-read-timeout" description:"The maximum duration before timing out reading the request" default:"30s"`
	WriteTimeout   time.Duration `long:"rest-write-timeout" description:"The maximum duration before timing out writing the response; the SSE connections are closed when it elapses so it is disabled by default" default:"0s"`
}

// Storm operations used by the REST API.
type StormController interface {
	Start(request datamodel.StormRequest) (*datamodel.StormStatus, error)
	Cancel() bool
	Wait()
	Status() datamodel.StormStatus
	IsRunning() bool
	Info() string
}

var _ StormController = (*storm.Controller)(nil)

// Runtime information and settings for RestAPI service.
type RestAPI struct {
	Settings         *RestAPISettings
	Engine           *dhcp.Engine
	Storm            StormController
	EventCenter      eventcenter.EventCenter
	MetricsCollector metrics.Collector

	// Returns the description of the host. It is replaced in the tests.
	hostInfo func() *datamodel.HostInfo

	HTTPServer   *http.Server
	srvListener  net.Listener
	handler      http.Handler
	hasListeners bool
	Host         string // actual host for listening
	Port         int    // actual port for listening
}

// Instantiates RestAPI structure.
//
// The arguments are specified in no particular order. The function
// detects their types and assigns them to appropriate RestAPI fields.
//
// Accepted pointers:
// - *RestAPISettings,
// - *dhcp.Engine,
// - *storm.Controller.
//
// Accepted interfaces:
// - eventcenter.EventCenter,
// - metrics.Collector.
//
// The engine and the storm controller are mandatory.
func NewRestAPI(args ...interface{}) (*RestAPI, error) {
	api := &RestAPI{
		hostInfo: collectHostInfo,
	}

	for i, arg := range args {
		argType := reflect.TypeOf(arg)

		// If the interface is nil the TypeOf returns nil. Move to
		// the next argument.
		if argType == nil {
			continue
		}

		if argType.Kind() != reflect.Ptr {
			return nil, pkgerrors.Errorf("non-pointer argument specified for NewRestAPI at position %d", i)
		}

		if reflect.ValueOf(arg).IsNil() {
			continue
		}

		if argType.Elem().Kind() != reflect.Struct {
			return nil, pkgerrors.Errorf("pointer to non-struct argument specified for NewRestAPI at position %d", i)
		}

		// Check if the specified argument is an interface.
		if argType.Implements(reflect.TypeOf((*eventcenter.EventCenter)(nil)).Elem()) {
			api.EventCenter = arg.(eventcenter.EventCenter)
			continue
		}
		if argType.Implements(reflect.TypeOf((*metrics.Collector)(nil)).Elem()) {
			api.MetricsCollector = arg.(metrics.Collector)
			continue
		}

		// Check if the specified argument is one of our supported structures.
		if argType.AssignableTo(reflect.TypeOf((*RestAPISettings)(nil))) {
			api.Settings = arg.(*RestAPISettings)
			continue
		}
		if argType.AssignableTo(reflect.TypeOf((*dhcp.Engine)(nil))) {
			api.Engine = arg.(*dhcp.Engine)
			continue
		}
		if argType.AssignableTo(reflect.TypeOf((*storm.Controller)(nil))) {
			api.Storm = arg.(*storm.Controller)
			continue
		}
		return nil, pkgerrors.Errorf("unknown argument type %s specified for NewRestAPI", argType.Elem().Name())
	}

	if api.Engine == nil {
		return nil, pkgerrors.New("dhcp.Engine parameter is required in NewRestAPI call")
	}
	if api.Storm == nil {
		return nil, pkgerrors.New("storm.Controller parameter is required in NewRestAPI call")
	}
	if api.Settings == nil {
		api.Settings = &RestAPISettings{}
	}
	return api, nil
}

// Creates the gin router serving the API.
func (r *RestAPI) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	api.GET("/version", r.getVersion)

	dhcpGroup := api.Group("/dhcp")
	dhcpGroup.POST("", r.simulate)
	dhcpGroup.GET("/list", r.listSessions)
	dhcpGroup.GET("/stats", r.getStatistics)
	dhcpGroup.POST("/seed", r.seedIdleSessions)
	dhcpGroup.POST("/clear", r.clearAll)
	dhcpGroup.GET("/info", r.getSystemInfo)

	dhcpGroup.POST("/storm", r.startStorm)
	dhcpGroup.GET("/storm", r.getStormStatus)
	dhcpGroup.DELETE("/storm", r.cancelStorm)
	return router
}

// Returns the handler serving the API, the SSE and the metrics.
func (r *RestAPI) Handler() http.Handler {
	if r.handler == nil {
		r.handler = r.GlobalMiddleware(r.newRouter())
	}
	return r.handler
}

// Serve the API.
func (r *RestAPI) Serve() (err error) {
	if !r.hasListeners {
		if err = r.Listen(); err != nil {
			return err
		}
	}

	s := r.Settings

	httpServer := new(http.Server)
	r.HTTPServer = httpServer
	httpServer.ReadTimeout = s.ReadTimeout
	httpServer.WriteTimeout = s.WriteTimeout
	httpServer.SetKeepAlivesEnabled(int64(s.KeepAlive) > 0)
	if s.ListenLimit > 0 {
		r.srvListener = netutil.LimitListener(r.srvListener, s.ListenLimit)
	}
	if int64(s.CleanupTimeout) > 0 {
		httpServer.IdleTimeout = s.CleanupTimeout
	}
	httpServer.Handler = r.Handler()

	log.WithFields(log.Fields{
		"address": "http://" + r.srvListener.Addr().String(),
	}).Info("Started serving bpsim REST API")
	if err := httpServer.Serve(r.srvListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return pkgerrors.Wrap(err, "problem serving")
	}
	log.Info("Stopped serving bpsim REST API")
	return nil
}

// Listen creates the listener for the server.
func (r *RestAPI) Listen() error {
	if r.hasListeners {
		return nil
	}

	s := r.Settings
	listener, err := net.Listen("tcp", net.JoinHostPort(s.Host, strconv.Itoa(s.Port)))
	if err != nil {
		return pkgerrors.Wrap(err, "problem occurred while starting to listen using RESTful API")
	}

	host, port, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		return pkgerrors.Wrap(err, "problem with address")
	}
	r.Host = host
	if r.Port, err = strconv.Atoi(port); err != nil {
		return pkgerrors.Wrap(err, "problem with address")
	}
	r.srvListener = listener
	r.hasListeners = true
	return nil
}

// Shutdown the HTTP handler of the REST API.
func (r *RestAPI) Shutdown() {
	log.Info("Stopping RESTful API Service")
	if r.HTTPServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		r.HTTPServer.SetKeepAlivesEnabled(false)
		if err := r.HTTPServer.Shutdown(ctx); err != nil {
			log.Warnf("Could not gracefully shut down the server: %v", err)
		}
	}
	log.Info("Stopped RESTful API Service")
}
