package api

import (
	"net/http"
	"time"

	"github.com/cryptalk/go-cryptalk-server/global"
	"github.com/cryptalk/go-cryptalk-server/services"
	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
)

type DirectoryApi struct {
	directoryService *services.DirectoryService
	validate         *validator.Validate
	env              *types.Environment
}

func NewDirectoryApi(directoryService *services.DirectoryService, env *types.Environment) *DirectoryApi {
	return &DirectoryApi{
		directoryService: directoryService,
		validate:         validator.New(),
		env:              env,
	}
}

// Look up a published public key
// @Summary Get a user's published public key
// @Description Public directory lookup by user id
// @Tags Directory
// @Produce json
// @Param userId path string true "user id"
// @Success 200 {object} types.OutputPublicKey
// @Failure 404 {object} api.ApiError "no key published"
// @Router /api/v1/keys/{userId} [get]
func (da *DirectoryApi) GetPublicKey(c *gin.Context) {
	userID := c.Param("userId")
	record, err := da.directoryService.GetPublicKey(userID)
	if err != nil {
		if err == types.ErrNotFound {
			ApiErrorf(c, http.StatusNotFound, "no public key published for %s", userID)
			return
		}
		global.Logger.Log("DirectoryApi.GetPublicKey", err.Error())
		ApiErrorf(c, http.StatusServiceUnavailable, "directory unavailable")
		return
	}
	c.JSON(http.StatusOK, types.OutputPublicKey{UserID: record.UserID, PublicKeyB64: record.PublicKeyB64})
}

// Publish (upsert) the caller's public key
// @Summary Publish the caller's public key
// @Security Bearer
// @Description Upserts the exported public key; publication is best-effort and retried in the background on transient failure
// @Tags Directory
// @Accept json
// @Produce json
// @Param userId path string true "user id (must match the authenticated user)"
// @Param key body types.InputPublishKey true "public key envelope"
// @Success 200 {object} types.OutputPublicKey
// @Success 202 {object} types.OutputPublicKey "accepted, retried in background"
// @Failure 403 {object} api.ApiError "cannot publish for another user"
// @Router /api/v1/keys/{userId} [put]
func (da *DirectoryApi) PublishPublicKey(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		ApiErrorf(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	if c.Param("userId") != userID.(string) {
		ApiErrorf(c, http.StatusForbidden, "cannot publish a key for another user")
		return
	}

	var input types.InputPublishKey
	if err := c.ShouldBindBodyWith(&input, binding.JSON); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid format")
		return
	}
	if err := da.validate.Struct(input); err != nil {
		msg := ValidatorErrorToUser(err.(validator.ValidationErrors))
		ApiErrorf(c, http.StatusBadRequest, msg)
		return
	}

	record, err := da.directoryService.PublishPublicKey(userID.(string), input.PublicKeyB64)
	if err != nil {
		if err == types.ErrInvalidPublicKey {
			ApiErrorf(c, http.StatusBadRequest, "public key envelope is not valid")
			return
		}
		// transient storage trouble: publication is best-effort, queue a retry
		// instead of failing the caller
		if err == types.ErrConflict || err == types.ErrStorageUnavailable {
			da.enqueueRetry(userID.(string), input.PublicKeyB64)
			c.JSON(http.StatusAccepted, types.OutputPublicKey{UserID: userID.(string), PublicKeyB64: input.PublicKeyB64})
			return
		}
		global.Logger.Log("DirectoryApi.PublishPublicKey", err.Error())
		ApiErrorf(c, http.StatusInternalServerError, "failed to publish key")
		return
	}
	c.JSON(http.StatusOK, types.OutputPublicKey{UserID: record.UserID, PublicKeyB64: record.PublicKeyB64})
}

func (da *DirectoryApi) enqueueRetry(userID string, publicKeyB64 string) {
	task, tErr := types.NewKeyPublishTask(&types.PublishKeyTask{UserID: userID, PublicKeyB64: publicKeyB64})
	if tErr != nil {
		global.Logger.Log("DirectoryApi.enqueueRetry", tErr.Error())
		return
	}
	_, qErr := da.env.TaskClient.Enqueue(task,
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
		asynq.Unique(time.Minute))
	if qErr != nil {
		global.Logger.Log("DirectoryApi.enqueueRetry", "failed to enqueue", qErr.Error())
	}
}
