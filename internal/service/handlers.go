package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"

	"wg-tunnels/internal/core"
	"wg-tunnels/internal/manager"
	"wg-tunnels/internal/quickaction"
	"wg-tunnels/internal/wgconf"
)

// TunnelView is the JSON form of a tunnel. Config is the wg-quick text and
// is only filled in for single-tunnel responses.
type TunnelView struct {
	Name            string             `json:"name"`
	Status          core.TunnelStatus  `json:"status"`
	OnDemand        core.OnDemandRules `json:"on_demand"`
	OnDemandEnabled bool               `json:"on_demand_enabled"`
	Config          string             `json:"config,omitempty"`
}

func viewOf(t manager.Tunnel, withConfig bool) TunnelView {
	v := TunnelView{
		Name:            t.Name,
		Status:          t.Status,
		OnDemand:        t.OnDemand,
		OnDemandEnabled: t.OnDemandEnabled,
	}
	if withConfig && t.Config != nil {
		v.Config = t.Config.String()
	}
	return v
}

// StatusView is the response of GET /status.
type StatusView struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Tunnels       int    `json:"tunnels"`
	// Operational names the tunnel holding the VPN slot, if any.
	Operational string `json:"operational,omitempty"`
}

// TunnelRequest is the body of POST /tunnels and PUT /tunnels/:name.
type TunnelRequest struct {
	Name     string              `json:"name"`
	Config   string              `json:"config"`
	OnDemand *core.OnDemandRules `json:"on_demand,omitempty"`
}

// RemoveRequest is the body of POST /tunnels/remove.
type RemoveRequest struct {
	Names []string `json:"names"`
}

// RemoveResult reports a bulk removal. Errors maps names to messages.
type RemoveResult struct {
	Removed int               `json:"removed"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// MoveRequest is the body of POST /tunnels/:name/move.
type MoveRequest struct {
	To int `json:"to"`
}

// OnDemandRequest is the body of PUT /tunnels/:name/on-demand. Rules, when
// present, are applied before Enabled.
type OnDemandRequest struct {
	Enabled *bool               `json:"enabled,omitempty"`
	Rules   *core.OnDemandRules `json:"rules,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func statusFor(err error) int {
	var parseErr *wgconf.ParseError
	switch {
	case errors.Is(err, manager.ErrTunnelNotFound):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrTunnelAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, manager.ErrTunnelNameEmpty),
		errors.Is(err, manager.ErrConfigMissing),
		errors.Is(err, manager.ErrIndexOutOfRange),
		errors.As(err, &parseErr):
		return http.StatusBadRequest
	case errors.Is(err, manager.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), errorBody{Error: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: err.Error()})
}

func (s *Service) getStatus(c *gin.Context) {
	tunnels := s.mgr.Tunnels()
	st := StatusView{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Tunnels:       len(tunnels),
	}
	for _, t := range tunnels {
		if t.Status.IsOperational() {
			st.Operational = t.Name
			break
		}
	}
	c.JSON(http.StatusOK, st)
}

func (s *Service) listTunnels(c *gin.Context) {
	tunnels := s.mgr.Tunnels()
	out := make([]TunnelView, len(tunnels))
	for i, t := range tunnels {
		out[i] = viewOf(t, false)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Service) getTunnel(c *gin.Context) {
	t, ok := s.mgr.TunnelNamed(c.Param("name"))
	if !ok {
		fail(c, manager.ErrTunnelNotFound)
		return
	}
	c.JSON(http.StatusOK, viewOf(t, true))
}

func (s *Service) addTunnel(c *gin.Context) {
	var req TunnelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cfg, err := wgconf.ParseString(req.Config)
	if err != nil {
		badRequest(c, err)
		return
	}
	var rules core.OnDemandRules
	if req.OnDemand != nil {
		rules = *req.OnDemand
	}
	t, err := s.mgr.Add(c.Request.Context(), req.Name, cfg, rules)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(t, true))
}

func (s *Service) modifyTunnel(c *gin.Context) {
	name := c.Param("name")
	var req TunnelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	current, ok := s.mgr.TunnelNamed(name)
	if !ok {
		fail(c, manager.ErrTunnelNotFound)
		return
	}

	newName := req.Name
	if newName == "" {
		newName = name
	}
	var cfg *wgconf.Config
	if strings.TrimSpace(req.Config) != "" {
		parsed, err := wgconf.ParseString(req.Config)
		if err != nil {
			badRequest(c, err)
			return
		}
		cfg = parsed
	}
	rules := current.OnDemand
	if req.OnDemand != nil {
		rules = *req.OnDemand
	}

	if err := s.mgr.Modify(c.Request.Context(), name, newName, cfg, rules); err != nil {
		fail(c, err)
		return
	}
	t, ok := s.mgr.TunnelNamed(newName)
	if !ok {
		fail(c, manager.ErrTunnelNotFound)
		return
	}
	c.JSON(http.StatusOK, viewOf(t, true))
}

func (s *Service) removeTunnel(c *gin.Context) {
	if err := s.mgr.Remove(c.Request.Context(), c.Param("name")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Service) removeTunnels(c *gin.Context) {
	var req RemoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := s.mgr.RemoveMultiple(c.Request.Context(), req.Names)
	res := RemoveResult{Removed: len(req.Names)}
	for _, e := range multierr.Errors(err) {
		if res.Errors == nil {
			res.Errors = make(map[string]string)
		}
		var rmErr *manager.RemoveError
		if errors.As(e, &rmErr) {
			res.Errors[rmErr.Name] = rmErr.Err.Error()
		} else {
			res.Errors[""] = e.Error()
		}
		res.Removed--
	}
	if len(res.Errors) > 0 {
		c.JSON(http.StatusMultiStatus, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Service) moveTunnel(c *gin.Context) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	from := slices.Index(s.mgr.Names(), c.Param("name"))
	if from < 0 {
		fail(c, manager.ErrTunnelNotFound)
		return
	}
	if err := s.mgr.Move(c.Request.Context(), from, req.To); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.mgr.Names())
}

// activateTunnel starts an activation. With ?wait=true it blocks until the
// outcome is known and returns the tunnel, which is what the "activate and
// show" quick action needs.
func (s *Service) activateTunnel(c *gin.Context) {
	name := c.Param("name")
	if _, ok := s.mgr.TunnelNamed(name); !ok {
		fail(c, manager.ErrTunnelNotFound)
		return
	}
	wait, _ := strconv.ParseBool(c.Query("wait"))
	if !wait {
		s.mgr.StartActivation(name)
		c.JSON(http.StatusAccepted, gin.H{"tunnel": name})
		return
	}

	sub := s.mgr.Subscribe(
		core.EventActivationAttemptFailed,
		core.EventActivationFailed,
		core.EventActivationSucceeded,
	)
	defer sub.Close()
	s.mgr.StartActivation(name)

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.waitLimit)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, errorBody{Error: "timed out waiting for activation"})
			return
		case e, ok := <-sub.C:
			if !ok {
				fail(c, manager.ErrClosed)
				return
			}
			p, _ := e.Payload.(core.ActivationPayload)
			if p.Tunnel != name {
				continue
			}
			switch e.Type {
			case core.EventActivationSucceeded:
				t, _ := s.mgr.TunnelNamed(name)
				c.JSON(http.StatusOK, viewOf(t, true))
			case core.EventActivationAttemptFailed:
				body := errorBody{Error: p.Reason}
				status := http.StatusConflict
				var attempt *manager.ActivationAttemptError
				if errors.As(p.Err, &attempt) {
					body.Kind = attempt.Kind.String()
					switch attempt.Kind {
					case manager.KindTunnelNotFound:
						status = http.StatusNotFound
					case manager.KindInvalidConfiguration:
						status = http.StatusBadRequest
					}
				}
				c.AbortWithStatusJSON(status, body)
			default:
				c.AbortWithStatusJSON(http.StatusBadGateway, errorBody{Error: p.Reason, Kind: "activationFailed"})
			}
			return
		}
	}
}

func (s *Service) deactivateTunnel(c *gin.Context) {
	name := c.Param("name")
	if _, ok := s.mgr.TunnelNamed(name); !ok {
		fail(c, manager.ErrTunnelNotFound)
		return
	}
	s.mgr.StartDeactivation(name)
	c.JSON(http.StatusAccepted, gin.H{"tunnel": name})
}

func (s *Service) restartTunnel(c *gin.Context) {
	name := c.Param("name")
	if _, ok := s.mgr.TunnelNamed(name); !ok {
		fail(c, manager.ErrTunnelNotFound)
		return
	}
	s.mgr.Restart(name)
	c.JSON(http.StatusAccepted, gin.H{"tunnel": name})
}

func (s *Service) setOnDemand(c *gin.Context) {
	name := c.Param("name")
	var req OnDemandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if req.Rules != nil {
		if err := s.mgr.SetOnDemandRules(ctx, name, *req.Rules); err != nil {
			fail(c, err)
			return
		}
	}
	if req.Enabled != nil {
		if err := s.mgr.SetOnDemandEnabled(ctx, name, *req.Enabled); err != nil {
			fail(c, err)
			return
		}
	}
	t, ok := s.mgr.TunnelNamed(name)
	if !ok {
		fail(c, manager.ErrTunnelNotFound)
		return
	}
	c.JSON(http.StatusOK, viewOf(t, false))
}

func (s *Service) getRecents(c *gin.Context) {
	limit := quickaction.MaxItems
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	names := s.mgr.RecentNames(limit)
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, names)
}

func (s *Service) getQuickActions(c *gin.Context) {
	c.JSON(http.StatusOK, quickaction.FromSource(s.mgr, s.mgr.Names()))
}

func (s *Service) setOnDemandEngine(c *gin.Context) {
	if s.ondemand == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, errorBody{Error: "on-demand is not available"})
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.ondemand.SetEnabled(req.Enabled)
	core.Log.Infof("API", "On-demand engine enabled=%v", req.Enabled)
	c.JSON(http.StatusOK, gin.H{"enabled": req.Enabled})
}

func (s *Service) evaluateOnDemand(c *gin.Context) {
	if s.ondemand == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, errorBody{Error: "on-demand is not available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activated": s.ondemand.Evaluate()})
}

// streamEvents relays manager events as server-sent events until the client
// goes away. ?types= takes a comma-separated list of event type names.
func (s *Service) streamEvents(c *gin.Context) {
	var types []core.EventType
	if v := c.Query("types"); v != "" {
		for _, name := range strings.Split(v, ",") {
			t, err := core.ParseEventType(strings.TrimSpace(name))
			if err != nil {
				badRequest(c, err)
				return
			}
			types = append(types, t)
		}
	}

	sub := s.mgr.Subscribe(types...)
	defer sub.Close()

	startStream(c)
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case e, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(e.Type.String(), e)
			return true
		}
	})
}

// startStream sends the event-stream headers right away so clients see the
// response before the first event.
func startStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
}
