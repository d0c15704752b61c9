package api

import (
	"net/http"

	"github.com/cryptalk/go-cryptalk-server/api/interceptors"
	"github.com/cryptalk/go-cryptalk-server/global"
	"github.com/cryptalk/go-cryptalk-server/services"
	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

type UserAccountApi struct {
	authService  *services.AuthService
	nonceService *services.NonceService
	validate     *validator.Validate
}

func NewUserAccountApi(authService *services.AuthService, nonceService *services.NonceService) *UserAccountApi {
	return &UserAccountApi{
		authService:  authService,
		nonceService: nonceService,
		validate:     validator.New(),
	}
}

// Request a single-use login challenge
// @Summary Request a login challenge nonce
// @Description Returns a single-use nonce to be signed with the identity private key
// @Tags Account
// @Produce json
// @Success 200 {object} types.OutputNonce
// @Failure 429 {object} api.ApiError "rate limit exceeded"
// @Router /api/v1/nonce [get]
func (ua *UserAccountApi) ChallengeNonce(c *gin.Context) {
	nonce, err := ua.nonceService.CreateNonce()
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to create nonce")
		return
	}
	c.JSON(http.StatusOK, types.OutputNonce{Nonce: nonce.Nonce})
}

// Register a user id with its first published public key
// @Summary Register a user
// @Description Publishes the exported public key for a new user id
// @Tags Account
// @Accept json
// @Produce json
// @Param registration body types.InputRegister true "user id and public key envelope"
// @Success 201 {object} types.OutputPublicKey
// @Failure 400 {object} api.ApiError "bad request"
// @Router /api/v1/register [post]
func (ua *UserAccountApi) Register(c *gin.Context) {
	var input types.InputRegister
	if err := c.ShouldBindBodyWith(&input, binding.JSON); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid format")
		return
	}
	if err := ua.validate.Struct(input); err != nil {
		msg := ValidatorErrorToUser(err.(validator.ValidationErrors))
		ApiErrorf(c, http.StatusBadRequest, msg)
		return
	}

	record, err := ua.authService.Register(&input)
	if err != nil {
		if err == types.ErrInvalidPublicKey {
			ApiErrorf(c, http.StatusBadRequest, "public key envelope is not valid")
			return
		}
		global.Logger.Log("UserAccountApi.Register", err.Error())
		ApiErrorf(c, http.StatusInternalServerError, "failed to register")
		return
	}
	c.JSON(http.StatusCreated, types.OutputPublicKey{UserID: record.UserID, PublicKeyB64: record.PublicKeyB64})
}

// Login with a signed challenge
// @Summary Login
// @Description Verifies an RSA-PSS signature over the challenge nonce and issues a session token
// @Tags Account
// @Accept json
// @Produce json
// @Param login body types.InputLogin true "signed challenge"
// @Success 200 {object} types.OutputLogin
// @Failure 401 {object} api.ApiError "invalid signature"
// @Router /api/v1/login [post]
func (ua *UserAccountApi) Login(c *gin.Context) {
	var input types.InputLogin
	if err := c.ShouldBindBodyWith(&input, binding.JSON); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid format")
		return
	}
	if err := ua.validate.Struct(input); err != nil {
		msg := ValidatorErrorToUser(err.(validator.ValidationErrors))
		ApiErrorf(c, http.StatusBadRequest, msg)
		return
	}

	if err := ua.authService.VerifyLogin(&input); err != nil {
		switch err {
		case types.ErrNotFound:
			ApiErrorf(c, http.StatusUnauthorized, "unknown challenge or unpublished key")
		case types.ErrInvalidSignature:
			ApiErrorf(c, http.StatusUnauthorized, "invalid signature")
		default:
			global.Logger.Log("UserAccountApi.Login", err.Error())
			ApiErrorf(c, http.StatusInternalServerError, "login failed")
		}
		return
	}

	token, tErr := interceptors.GenerateJWSToken(global.ServerPrivateKey, input.UserID, input.Nonce)
	if tErr != nil {
		global.Logger.Log("UserAccountApi.Login", "failed to sign token", tErr.Error())
		ApiErrorf(c, http.StatusInternalServerError, "login failed")
		return
	}
	c.JSON(http.StatusOK, types.OutputLogin{UserID: input.UserID, Token: token})
}
