package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hay-kot/nudge/internal/core/kv"
	"github.com/hay-kot/nudge/internal/nudge"
	"github.com/hay-kot/nudge/pkg/iojson"
)

type putDataRequest struct {
	Value string `json:"value"`
}

type dataResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type scheduleRequest struct {
	Title   string `json:"title" binding:"required"`
	Body    string `json:"body"`
	DelayMs uint64 `json:"delay_ms"`
}

type scheduleResponse struct {
	ID string `json:"id"`
}

// keyParam strips the leading slash gin leaves on catch-all parameters.
func keyParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, kv.ErrEmptyKey),
		errors.Is(err, nudge.ErrReservedKey),
		errors.Is(err, nudge.ErrBadPattern),
		errors.Is(err, nudge.ErrNegativeDelay),
		errors.Is(err, nudge.ErrDelayTooLarge):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.log.Error().Ctx(c.Request.Context()).Err(err).Msg("request failed")
	}

	c.AbortWithStatusJSON(status, iojson.Error{Message: err.Error()})
}

func (s *Server) listKeys(c *gin.Context) {
	keys, err := s.svc.ListData(c.Request.Context(), c.Query("match"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (s *Server) putData(c *gin.Context) {
	var req putDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, iojson.Error{Message: err.Error()})
		return
	}

	if err := s.svc.SaveData(c.Request.Context(), keyParam(c), req.Value); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getData(c *gin.Context) {
	key := keyParam(c)

	value, err := s.svc.LoadData(c.Request.Context(), key)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dataResponse{Key: key, Value: value})
}

func (s *Server) deleteData(c *gin.Context) {
	if err := s.svc.DeleteData(c.Request.Context(), keyParam(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) scheduleNotification(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, iojson.Error{Message: err.Error()})
		return
	}

	id, err := s.svc.ScheduleNotification(c.Request.Context(), req.Title, req.Body, req.DelayMs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, scheduleResponse{ID: id})
}

func (s *Server) listNotifications(c *gin.Context) {
	pending := s.svc.PendingNotifications()
	c.JSON(http.StatusOK, gin.H{
		"notifications": pending,
		"count":         len(pending),
	})
}

func (s *Server) cancelNotification(c *gin.Context) {
	if err := s.svc.CancelNotification(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) history(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, iojson.Error{Message: "limit must be an integer"})
			return
		}
		limit = n
	}

	events, err := s.svc.History(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
