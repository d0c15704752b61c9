package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/cryptalk/go-cryptalk-server/global"
	"github.com/cryptalk/go-cryptalk-server/metrics"
	"github.com/cryptalk/go-cryptalk-server/services"
	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

type MessagingApi struct {
	messageService *services.MessageService
	validate       *validator.Validate
	env            *types.Environment
}

func NewMessagingApi(messageService *services.MessageService, env *types.Environment) *MessagingApi {
	return &MessagingApi{
		messageService: messageService,
		validate:       validator.New(),
		env:            env,
	}
}

// Append an encrypted message
// @Summary Append an encrypted message to a conversation
// @Security Bearer
// @Description Stores ciphertext and iv only; the sender must hold a wrapped-key entry
// @Tags Messaging
// @Accept json
// @Produce json
// @Param id path string true "conversation id"
// @Param message body types.InputAppendMessage true "ciphertext and iv, base64"
// @Success 201 {object} types.EncryptedMessage
// @Failure 403 {object} api.ApiError "not a participant"
// @Failure 404 {object} api.ApiError "no such conversation"
// @Router /api/v1/conversations/{id}/messages [post]
func (ma *MessagingApi) AppendMessage(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		ApiErrorf(c, http.StatusUnauthorized, "not authenticated")
		return
	}

	var input types.InputAppendMessage
	if err := c.ShouldBindBodyWith(&input, binding.JSON); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid format")
		return
	}
	if err := ma.validate.Struct(input); err != nil {
		msg := ValidatorErrorToUser(err.(validator.ValidationErrors))
		ApiErrorf(c, http.StatusBadRequest, msg)
		return
	}

	message, err := ma.messageService.Append(c.Param("id"), userID.(string), &input)
	if err != nil {
		switch err {
		case types.ErrNotFound:
			ApiErrorf(c, http.StatusNotFound, "conversation not found")
		case types.ErrNotAParticipant:
			ApiErrorf(c, http.StatusForbidden, "not a participant")
		case types.ErrStorageUnavailable:
			ApiErrorf(c, http.StatusServiceUnavailable, "store unavailable")
		default:
			global.Logger.Log("MessagingApi.AppendMessage", err.Error())
			ApiErrorf(c, http.StatusInternalServerError, "failed to append message")
		}
		return
	}
	c.JSON(http.StatusCreated, message)
}

// List messages of a conversation
// @Summary List encrypted messages oldest to newest
// @Security Bearer
// @Tags Messaging
// @Produce json
// @Param id path string true "conversation id"
// @Param since query int false "only messages created after this timestamp (ms)"
// @Success 200 {object} types.OutputMessageBatch
// @Failure 403 {object} api.ApiError "not a participant"
// @Router /api/v1/conversations/{id}/messages [get]
func (ma *MessagingApi) ListMessages(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		ApiErrorf(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	conversationID := c.Param("id")
	if _, err := ma.messageService.GetConversationForUser(conversationID, userID.(string)); err != nil {
		abortMembership(c, err)
		return
	}

	since, _ := strconv.ParseInt(c.Query("since"), 10, 64)
	messages, err := ma.messageService.List(conversationID, since, 500)
	if err != nil {
		global.Logger.Log("MessagingApi.ListMessages", err.Error())
		ApiErrorf(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	c.JSON(http.StatusOK, types.OutputMessageBatch{ConversationID: conversationID, Messages: messages})
}

// Live message subscription
// @Summary Subscribe to new messages of a conversation (SSE)
// @Security Bearer
// @Description Sends the backlog since ?since= as a first batch, then one batch per new message
// @Tags Messaging
// @Produce text/event-stream
// @Param id path string true "conversation id"
// @Param since query int false "backlog watermark (ms)"
// @Router /api/v1/conversations/{id}/events [get]
func (ma *MessagingApi) SubscribeMessages(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		ApiErrorf(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	conversationID := c.Param("id")
	if _, err := ma.messageService.GetConversationForUser(conversationID, userID.(string)); err != nil {
		abortMembership(c, err)
		return
	}

	metrics.ActiveSubscriptions.Inc()
	defer metrics.ActiveSubscriptions.Dec()

	pubsub := ma.env.RedisClient.Subscribe(c.Request.Context(), services.ConvChannel(conversationID))
	defer pubsub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// replay the backlog first so the subscriber starts from a consistent point
	since, _ := strconv.ParseInt(c.Query("since"), 10, 64)
	backlog, bErr := ma.messageService.List(conversationID, since, 500)
	if bErr != nil {
		global.Logger.Log("MessagingApi.SubscribeMessages", "backlog failed", bErr.Error())
		ApiErrorf(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	c.SSEvent("batch", types.OutputMessageBatch{ConversationID: conversationID, Messages: backlog})
	c.Writer.Flush()

	ch := pubsub.Channel()
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			var stored types.EncryptedMessage
			if err := json.Unmarshal([]byte(msg.Payload), &stored); err != nil {
				global.Logger.Log("MessagingApi.SubscribeMessages", "bad event payload", err.Error())
				return true
			}
			c.SSEvent("batch", types.OutputMessageBatch{
				ConversationID: conversationID,
				Messages:       []*types.EncryptedMessage{&stored},
			})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Live conversation-list subscription
// @Summary Subscribe to conversation-list changes of the caller (SSE)
// @Security Bearer
// @Produce text/event-stream
// @Router /api/v1/events [get]
func (ma *MessagingApi) SubscribeConversationList(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		ApiErrorf(c, http.StatusUnauthorized, "not authenticated")
		return
	}

	metrics.ActiveSubscriptions.Inc()
	defer metrics.ActiveSubscriptions.Dec()

	pubsub := ma.env.RedisClient.Subscribe(c.Request.Context(), services.UserChannel(userID.(string)))
	defer pubsub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ch := pubsub.Channel()
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			var conversation types.Conversation
			if err := json.Unmarshal([]byte(msg.Payload), &conversation); err != nil {
				global.Logger.Log("MessagingApi.SubscribeConversationList", "bad event payload", err.Error())
				return true
			}
			c.SSEvent("conversation", &conversation)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func abortMembership(c *gin.Context, err error) {
	switch err {
	case types.ErrNotFound:
		ApiErrorf(c, http.StatusNotFound, "conversation not found")
	case types.ErrNotAParticipant:
		ApiErrorf(c, http.StatusForbidden, "not a participant")
	default:
		global.Logger.Log("MessagingApi", err.Error())
		ApiErrorf(c, http.StatusServiceUnavailable, "store unavailable")
	}
}
