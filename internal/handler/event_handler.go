package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/tms/internal/logic"
	"github.com/gin-gonic/gin"
)

// EventHandler 事件流接口，驱动实时动态页
type EventHandler struct {
	eventLogic *logic.EventLogic
}

// NewEventHandler 创建事件流接口
func NewEventHandler(eventLogic *logic.EventLogic) *EventHandler {
	return &EventHandler{eventLogic: eventLogic}
}

// GetFeed 游标式读取全局事件流
func (h *EventHandler) GetFeed(c *gin.Context) {
	after, _ := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	events, err := h.eventLogic.GetEventsAfter(after, limit)
	if err != nil {
		FailFromError(c, err)
		return
	}

	cursor := after
	if len(events) > 0 {
		cursor = events[len(events)-1].Id
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"cursor": cursor,
	})
}
