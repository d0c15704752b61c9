package api

import (
	"net/http"

	"github.com/cryptalk/go-cryptalk-server/global"
	"github.com/cryptalk/go-cryptalk-server/services"
	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

type ConversationApi struct {
	conversationService *services.ConversationService
	validate            *validator.Validate
}

func NewConversationApi(conversationService *services.ConversationService) *ConversationApi {
	return &ConversationApi{
		conversationService: conversationService,
		validate:            validator.New(),
	}
}

// Create a conversation
// @Summary Create a conversation with per-participant wrapped keys
// @Security Bearer
// @Description Persists an immutable conversation record; fails with 424 when any participant has no published key and writes nothing
// @Tags Conversations
// @Accept json
// @Produce json
// @Param conversation body types.InputCreateConversation true "participants, wrapped keys, optional name"
// @Success 201 {object} types.Conversation
// @Failure 400 {object} api.ApiError "shape mismatch between participants and wrapped keys"
// @Failure 424 {object} api.ApiError "a participant has not published a key"
// @Router /api/v1/conversations [post]
func (ca *ConversationApi) CreateConversation(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		ApiErrorf(c, http.StatusUnauthorized, "not authenticated")
		return
	}

	var input types.InputCreateConversation
	if err := c.ShouldBindBodyWith(&input, binding.JSON); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid format")
		return
	}
	if err := ca.validate.Struct(input); err != nil {
		msg := ValidatorErrorToUser(err.(validator.ValidationErrors))
		ApiErrorf(c, http.StatusBadRequest, msg)
		return
	}

	conversation, err := ca.conversationService.Create(userID.(string), &input)
	if err != nil {
		switch err {
		case types.ErrBadRequest:
			ApiErrorf(c, http.StatusBadRequest, "wrapped keys must cover every participant exactly once")
		case types.ErrKeyNotFound:
			ApiErrorf(c, http.StatusFailedDependency, "a participant has not published a public key yet")
		case types.ErrStorageUnavailable:
			ApiErrorf(c, http.StatusServiceUnavailable, "store unavailable")
		default:
			global.Logger.Log("ConversationApi.CreateConversation", err.Error())
			ApiErrorf(c, http.StatusInternalServerError, "failed to create conversation")
		}
		return
	}
	c.JSON(http.StatusCreated, conversation)
}

// Fetch one conversation
// @Summary Get a conversation record
// @Security Bearer
// @Description Returns the record including the wrapped-key map; participants only
// @Tags Conversations
// @Produce json
// @Param id path string true "conversation id"
// @Success 200 {object} types.Conversation
// @Failure 403 {object} api.ApiError "not a participant"
// @Failure 404 {object} api.ApiError "no such conversation"
// @Router /api/v1/conversations/{id} [get]
func (ca *ConversationApi) GetConversation(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		ApiErrorf(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	conversation, err := ca.conversationService.Get(c.Param("id"))
	if err != nil {
		if err == types.ErrNotFound {
			ApiErrorf(c, http.StatusNotFound, "conversation not found")
			return
		}
		global.Logger.Log("ConversationApi.GetConversation", err.Error())
		ApiErrorf(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if !conversation.HasParticipant(userID.(string)) {
		ApiErrorf(c, http.StatusForbidden, "not a participant")
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// List the caller's conversations
// @Summary List conversations for the authenticated user
// @Security Bearer
// @Tags Conversations
// @Produce json
// @Success 200 {object} types.OutputConversationList
// @Router /api/v1/conversations [get]
func (ca *ConversationApi) ListConversations(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		ApiErrorf(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	conversations, err := ca.conversationService.ListByParticipant(userID.(string))
	if err != nil {
		global.Logger.Log("ConversationApi.ListConversations", err.Error())
		ApiErrorf(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	c.JSON(http.StatusOK, types.OutputConversationList{Conversations: conversations})
}
