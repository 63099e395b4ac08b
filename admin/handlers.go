package admin

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wricardo/fastws/api"
)

// Router is the registration surface of a fastws server.
type Router interface {
	Get(path string, h api.HandlerFunc)
	Post(path string, h api.HandlerFunc)
	Delete(path string, h api.HandlerFunc)
}

// API serves the admin routes.
type API struct {
	service Service
}

// New creates the admin API.
func New(service Service) *API {
	return &API{service: service}
}

// Register adds the admin routes under prefix, e.g. "/admin".
func (a *API) Register(r Router, prefix string) {
	prefix = strings.TrimSuffix(prefix, "/")

	r.Get(prefix+"/status", a.handleStatus)
	r.Get(prefix+"/routes", a.handleRoutes)

	// Sessions ("close-idle" is POST only, so it never collides with {id})
	r.Get(prefix+"/sessions", a.handleListSessions)
	r.Post(prefix+"/sessions/close-idle", a.handleCloseIdle)
	r.Get(prefix+"/sessions/{id}", a.handleGetSession)
	r.Delete(prefix+"/sessions/{id}", a.handleCloseSession)

	r.Post(prefix+"/broadcast", a.handleBroadcast)
	r.Post(prefix+"/reload", a.handleReload)
}

func (a *API) handleStatus(req *api.Request, res *api.Response) error {
	status, err := a.service.Status(req.Context())
	if err != nil {
		return res.Error(http.StatusInternalServerError, err.Error())
	}
	return res.JSON(http.StatusOK, status)
}

func (a *API) handleRoutes(req *api.Request, res *api.Response) error {
	routes, err := a.service.Routes(req.Context())
	if err != nil {
		return res.Error(http.StatusInternalServerError, err.Error())
	}
	return res.JSON(http.StatusOK, map[string]interface{}{
		"count":  len(routes),
		"routes": routes,
	})
}

func (a *API) handleListSessions(req *api.Request, res *api.Response) error {
	sessions, err := a.service.ListSessions(req.Context())
	if err != nil {
		return res.Error(http.StatusInternalServerError, err.Error())
	}
	total := len(sessions)

	sortBy := req.QueryValue("sort") // "opened", "active" (default)
	order := req.QueryValue("order") // "asc", "desc" (default)
	limitStr := req.QueryValue("limit")

	if sortBy == "" {
		sortBy = "active"
	}
	if order == "" {
		order = "desc"
	}
	if sortBy != "active" && sortBy != "opened" {
		return res.Error(http.StatusBadRequest, fmt.Sprintf("invalid sort %q", sortBy))
	}
	if order != "asc" && order != "desc" {
		return res.Error(http.StatusBadRequest, fmt.Sprintf("invalid order %q", order))
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		var ti, tj time.Time
		if sortBy == "opened" {
			ti, tj = sessions[i].OpenedAt, sessions[j].OpenedAt
		} else {
			ti, tj = sessions[i].LastActive, sessions[j].LastActive
		}
		if order == "asc" {
			return ti.Before(tj)
		}
		return ti.After(tj)
	})

	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < len(sessions) {
			sessions = sessions[:l]
		}
	}

	return res.JSON(http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"total":    total,
		"sessions": sessions,
		"sort":     sortBy,
		"order":    order,
	})
}

func (a *API) handleGetSession(req *api.Request, res *api.Response) error {
	id := req.Param("id")

	session, err := a.service.GetSession(req.Context(), id)
	if err != nil {
		return res.Error(statusFor(err), err.Error())
	}
	return res.JSON(http.StatusOK, session)
}

func (a *API) handleCloseSession(req *api.Request, res *api.Response) error {
	id := req.Param("id")

	if err := a.service.CloseSession(req.Context(), id); err != nil {
		return res.Error(statusFor(err), err.Error())
	}
	return res.JSON(http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Session %s closed", id),
	})
}

func (a *API) handleCloseIdle(req *api.Request, res *api.Response) error {
	var body struct {
		MaxAge string `json:"max_age"`
	}
	if err := req.BindJSON(&body); err != nil {
		return res.Error(http.StatusBadRequest, "Invalid request body")
	}

	maxAge, err := time.ParseDuration(body.MaxAge)
	if err != nil || maxAge <= 0 {
		return res.Error(http.StatusBadRequest, fmt.Sprintf("invalid max_age %q", body.MaxAge))
	}

	closed, err := a.service.CloseIdle(req.Context(), maxAge)
	if err != nil {
		return res.Error(http.StatusInternalServerError, err.Error())
	}
	return res.JSON(http.StatusOK, map[string]interface{}{
		"closed":  closed,
		"max_age": maxAge.String(),
	})
}

func (a *API) handleBroadcast(req *api.Request, res *api.Response) error {
	var body BroadcastRequest
	if err := req.BindJSON(&body); err != nil {
		return res.Error(http.StatusBadRequest, "Invalid request body")
	}

	result, err := a.service.Broadcast(req.Context(), body)
	if err != nil {
		return res.Error(statusFor(err), err.Error())
	}
	return res.JSON(http.StatusOK, result)
}

func (a *API) handleReload(req *api.Request, res *api.Response) error {
	if err := a.service.Reload(req.Context()); err != nil {
		return res.Error(http.StatusInternalServerError, err.Error())
	}
	return res.JSON(http.StatusOK, map[string]string{
		"message": "reloaded",
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTopicRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
