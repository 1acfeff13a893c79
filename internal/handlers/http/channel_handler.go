package http

import (
	"context"
	"net/http"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"
	"rillrec/pkg/errors"
	"rillrec/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ChannelNotifier is told about membership changes made through the API so
// it can push them to watchers.
type ChannelNotifier interface {
	ChannelChanged(info *domain.ChannelInfo)
	ChannelClosed(id domain.ChannelID)
}

type ChannelHandler struct {
	channels ports.ChannelService
	notifier ChannelNotifier
	logger   *zap.SugaredLogger
}

func NewChannelHandler(channels ports.ChannelService, notifier ChannelNotifier, logger *zap.SugaredLogger) *ChannelHandler {
	return &ChannelHandler{
		channels: channels,
		notifier: notifier,
		logger:   logger,
	}
}

func (h *ChannelHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/channels", h.CreateChannel)
		api.GET("/channels", h.ListChannels)
		api.GET("/channels/:id", h.GetChannel)
		api.DELETE("/channels/:id", h.CloseChannel)

		api.POST("/channels/:id/participants", h.Join)
		api.DELETE("/channels/:id/participants/:pid", h.Leave)
		api.POST("/channels/:id/participants/:pid/publish", h.Publish)
		api.POST("/channels/:id/participants/:pid/producers/:kind/pause", h.PauseProducer)
		api.POST("/channels/:id/participants/:pid/producers/:kind/resume", h.ResumeProducer)

		api.GET("/channels/:id/recording", h.RecordingStatus)
		api.POST("/channels/:id/recording/start", h.StartRecording)
		api.POST("/channels/:id/recording/stop", h.StopRecording)
		api.POST("/channels/:id/transcription/start", h.StartTranscription)
		api.POST("/channels/:id/transcription/stop", h.StopTranscription)
	}
}

func (h *ChannelHandler) CreateChannel(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request body"))
		return
	}
	if err := validation.ValidateName(req.Name, "name"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	info, err := h.channels.CreateChannel(c.Request.Context(), req.Name)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"channel": info,
	})
}

func (h *ChannelHandler) ListChannels(c *gin.Context) {
	channels, err := h.channels.ListChannels(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"channels": channels,
	})
}

func (h *ChannelHandler) GetChannel(c *gin.Context) {
	channelID, ok := channelParam(c)
	if !ok {
		return
	}

	info, err := h.channels.GetChannel(c.Request.Context(), channelID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"channel": info,
	})
}

func (h *ChannelHandler) CloseChannel(c *gin.Context) {
	channelID, ok := channelParam(c)
	if !ok {
		return
	}

	if err := h.channels.CloseChannel(c.Request.Context(), channelID); err != nil {
		c.Error(err)
		return
	}
	h.notifier.ChannelClosed(channelID)

	c.JSON(http.StatusOK, gin.H{
		"status": "closed",
	})
}

func (h *ChannelHandler) Join(c *gin.Context) {
	channelID, ok := channelParam(c)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request body"))
		return
	}
	if err := validation.ValidateName(req.Name, "name"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	participant, err := h.channels.Join(c.Request.Context(), channelID, req.Name)
	if err != nil {
		c.Error(err)
		return
	}
	h.channelChanged(c, channelID)

	c.JSON(http.StatusCreated, gin.H{
		"participant": participant,
	})
}

func (h *ChannelHandler) Leave(c *gin.Context) {
	channelID, participantID, ok := participantParams(c)
	if !ok {
		return
	}

	if err := h.channels.Leave(c.Request.Context(), channelID, participantID); err != nil {
		c.Error(err)
		return
	}
	h.channelChanged(c, channelID)

	c.JSON(http.StatusOK, gin.H{
		"status": "left",
	})
}

func (h *ChannelHandler) Publish(c *gin.Context) {
	channelID, participantID, ok := participantParams(c)
	if !ok {
		return
	}

	var req struct {
		SDP string `json:"sdp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request body"))
		return
	}
	if err := validation.ValidateOffer(req.SDP); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	answer, err := h.channels.Publish(c.Request.Context(), channelID, participantID, req.SDP)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sdp": answer,
	})
}

func (h *ChannelHandler) PauseProducer(c *gin.Context) {
	h.setProducerPaused(c, true)
}

func (h *ChannelHandler) ResumeProducer(c *gin.Context) {
	h.setProducerPaused(c, false)
}

func (h *ChannelHandler) setProducerPaused(c *gin.Context, paused bool) {
	channelID, participantID, ok := participantParams(c)
	if !ok {
		return
	}
	kind, err := domain.ParseStreamKind(c.Param("kind"))
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.channels.SetProducerPaused(c.Request.Context(), channelID, participantID, kind, paused); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kind":   kind,
		"paused": paused,
	})
}

func (h *ChannelHandler) RecordingStatus(c *gin.Context) {
	channelID, ok := channelParam(c)
	if !ok {
		return
	}

	status, state, err := h.channels.RecordingStatus(c.Request.Context(), channelID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recording": status,
		"state":     state,
	})
}

func (h *ChannelHandler) StartRecording(c *gin.Context) {
	h.toggle(c, "is_recording", h.channels.StartRecording)
}

func (h *ChannelHandler) StopRecording(c *gin.Context) {
	h.toggle(c, "is_recording", h.channels.StopRecording)
}

func (h *ChannelHandler) StartTranscription(c *gin.Context) {
	h.toggle(c, "is_transcribing", h.channels.StartTranscription)
}

func (h *ChannelHandler) StopTranscription(c *gin.Context) {
	h.toggle(c, "is_transcribing", h.channels.StopTranscription)
}

// toggle runs one of the recording intent switches and reports the
// resulting value of that intent.
func (h *ChannelHandler) toggle(c *gin.Context, field string, fn func(ctx context.Context, id domain.ChannelID) (bool, error)) {
	channelID, ok := channelParam(c)
	if !ok {
		return
	}

	value, err := fn(c.Request.Context(), channelID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		field: value,
	})
}

// channelChanged pushes the current channel info to watchers. A failed
// lookup only means there is nothing left to report.
func (h *ChannelHandler) channelChanged(c *gin.Context, channelID domain.ChannelID) {
	info, err := h.channels.GetChannel(c.Request.Context(), channelID)
	if err != nil {
		h.logger.Debugw("channel gone before change notification", "channel_id", channelID, "error", err)
		return
	}
	h.notifier.ChannelChanged(info)
}

func channelParam(c *gin.Context) (domain.ChannelID, bool) {
	id := c.Param("id")
	if err := validation.ValidateID(id, "channel id"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.ChannelID(id), true
}

func participantParams(c *gin.Context) (domain.ChannelID, domain.ParticipantID, bool) {
	channelID, ok := channelParam(c)
	if !ok {
		return "", "", false
	}
	pid := c.Param("pid")
	if err := validation.ValidateID(pid, "participant id"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return "", "", false
	}
	return channelID, domain.ParticipantID(pid), true
}
