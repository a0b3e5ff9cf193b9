package pvnet

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pvacms/model"
)

// Handlers is the CMS Service's contract with the transport, kept narrow
// so pvnet never imports cms.
type Handlers interface {
	Create(ctx context.Context, ccr model.CertCreationRequest, creds model.Credentials) (pemBundle string, err error)
	GetStatus(ctx context.Context, issuerID string, serial uint64) (StatusValue, error)
	Revoke(ctx context.Context, issuerID string, serial uint64, desiredState string, creds model.Credentials) error
}

// CodedError is implemented by every error kind in that must
// surface as a stable text code over the wire rather than a bare 500.
type CodedError interface {
	error
	Code() string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The status PV transport is deliberately not same-origin
	// restricted: it is a trusted internal RPC surface, not a browser
	// endpoint.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the gin-backed PVA stand-in transport.
type Server struct {
	h    Handlers
	hubs *hubSet
	log  *zap.Logger
	eng  *gin.Engine
}

// NewServer builds the router. Call Publish whenever a certificate's
// status changes so MONITOR subscribers see it.
func NewServer(h Handlers, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{h: h, hubs: newHubSet(log), log: log}
	s.eng = gin.New()
	s.eng.Use(gin.Recovery(), s.requestID())
	s.routes()
	return s
}

// requestID stamps every request with a correlation ID before it reaches
// a handler. The ID is returned in the X-Request-Id response header and
// logged with a failed CREATE; it is not passed on to certstore.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

// Handler returns the http.Handler to serve over the mutual-TLS listener
// the caller configures (ALPN "pva/1", TLS >= 1.3, per ).
func (s *Server) Handler() http.Handler { return s.eng }

// SetHandlers binds the CMS's Handlers implementation after construction,
// letting the caller build the Server first (to hand it to cms.NewService
// as a Publisher) and wire the Service back in as its Handlers once it
// exists.
func (s *Server) SetHandlers(h Handlers) { s.h = h }

// Publish pushes a status change to every subscriber of pvName, used by
// the CMS after a commit and by the Cert Store's sweep callback.
func (s *Server) Publish(pvName string, v StatusValue) {
	s.hubs.Publish(pvName, v)
}

func (s *Server) routes() {
	s.eng.POST("/rpc/CERT:CREATE", s.handleCreate)
	s.eng.GET("/pv/CERT:STATUS/:issuerID/:serial", s.handleGetStatus)
	s.eng.GET("/monitor/CERT:STATUS/:issuerID/:serial", s.handleMonitorStatus)
	s.eng.GET("/monitor/CERT:STATUS/wildcard", s.handleMonitorWildcard)
	s.eng.POST("/rpc/CERT:REVOKE/:issuerID/:serial", s.handleRevoke)
	s.eng.PUT("/pv/CERT:STATUS/:issuerID/:serial", s.handleRevoke)
}

func credsFromRequest(r *http.Request) model.Credentials {
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		leaf := r.TLS.PeerCertificates[0]
		return model.Credentials{
			Method:  "x509",
			Account: leaf.Subject.CommonName,
			Claims:  map[string]string{"peer_cert_der": string(leaf.Raw)},
		}
	}
	if user, _, ok := r.BasicAuth(); ok {
		return model.Credentials{Method: "basic", Account: user}
	}
	return model.Credentials{Method: "anonymous"}
}

func (s *Server) handleCreate(c *gin.Context) {
	var dto CreateRequestDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "MalformedRequest", "message": err.Error()})
		return
	}
	ccr, err := dto.ToCertCreationRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "MalformedRequest", "message": err.Error()})
		return
	}
	creds := credsFromRequest(c.Request)
	pem, err := s.h.Create(c.Request.Context(), ccr, creds)
	if err != nil {
		s.log.Warn("pvnet: CREATE failed", zap.String("request_id", c.GetString("request_id")), zap.Error(err))
		writeError(c, err)
		return
	}
	c.String(http.StatusOK, pem)
}

func (s *Server) handleGetStatus(c *gin.Context) {
	issuerID := c.Param("issuerID")
	serial, ok := parseSerialHexParam(c.Param("serial"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "MalformedRequest", "message": "bad serial"})
		return
	}
	v, err := s.h.GetStatus(c.Request.Context(), issuerID, serial)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleMonitorStatus(c *gin.Context) {
	issuerID := c.Param("issuerID")
	serial, ok := parseSerialHexParam(c.Param("serial"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "MalformedRequest", "message": "bad serial"})
		return
	}
	pvName := model.MakeStatusPVName(issuerID, serial)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("pvnet: monitor upgrade failed", zap.Error(err))
		return
	}
	if v, err := s.h.GetStatus(c.Request.Context(), issuerID, serial); err == nil {
		_ = conn.WriteJSON(v)
	}
	h := s.hubs.hubFor(pvName)
	h.add(conn)
	go s.pumpUntilClosed(conn, h)
}

func (s *Server) handleMonitorWildcard(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("pvnet: wildcard monitor upgrade failed", zap.Error(err))
		return
	}
	s.hubs.wildcard.add(conn)
	go s.pumpUntilClosed(conn, s.hubs.wildcard)
}

// pumpUntilClosed only needs to notice when the peer goes away; MONITOR
// is push-only from the server's side.
func (s *Server) pumpUntilClosed(conn *websocket.Conn, h *hub) {
	defer h.remove(conn)
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleRevoke(c *gin.Context) {
	issuerID := c.Param("issuerID")
	serial, ok := parseSerialHexParam(c.Param("serial"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "MalformedRequest", "message": "bad serial"})
		return
	}
	var body RevokeRequestDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "MalformedRequest", "message": err.Error()})
		return
	}
	creds := credsFromRequest(c.Request)
	if err := s.h.Revoke(c.Request.Context(), issuerID, serial, body.DesiredState, creds); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func parseSerialHexParam(raw string) (uint64, bool) {
	if len(raw) != 16 {
		return 0, false
	}
	var serial uint64
	for _, r := range raw {
		var d uint64
		switch {
		case r >= '0' && r <= '9':
			d = uint64(r - '0')
		case r >= 'a' && r <= 'f':
			d = uint64(r-'a') + 10
		default:
			return 0, false
		}
		serial = serial<<4 | d
	}
	return serial, true
}

func writeError(c *gin.Context, err error) {
	if ce, ok := err.(CodedError); ok {
		status := http.StatusInternalServerError
		switch ce.Code() {
		case "MalformedRequest", "DuplicateSubject", "DuplicateKey":
			status = http.StatusBadRequest
		case "Unauthorized":
			status = http.StatusForbidden
		case "IllegalTransition":
			status = http.StatusConflict
		case "DbError":
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": ce.Code(), "message": ce.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": err.Error()})
}

// ShutdownTimeout bounds graceful drain of in-flight MONITOR connections.
const ShutdownTimeout = 5 * time.Second
