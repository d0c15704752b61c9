package apiroutes

import (
	"github.com/cryptalk/go-cryptalk-server/api"
	restinterceptors "github.com/cryptalk/go-cryptalk-server/api/interceptors"
	"github.com/cryptalk/go-cryptalk-server/global"
	"github.com/cryptalk/go-cryptalk-server/metrics"
	"github.com/cryptalk/go-cryptalk-server/repository"
	"github.com/cryptalk/go-cryptalk-server/services"
	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// REST API routes
func ConfigRoutes(router *gin.Engine, dbSelector *repository.CouchDBSelector, env *types.Environment) *gin.Engine {
	// init metrics
	if global.Conf.Prometheus.Enabled {

		metrics.InitMetrics()

		authorized := router.Group("/metrics", gin.BasicAuth(gin.Accounts{
			global.Conf.Prometheus.Username: global.Conf.Prometheus.Password,
		}))

		authorized.GET("", gin.WrapH(promhttp.Handler()))
	}

	// SERVICE definitions
	directoryService := services.NewDirectoryService(dbSelector)
	conversationService := services.NewConversationService(dbSelector, env)
	messageService := services.NewMessageService(dbSelector, env)
	nonceService := services.NewNonceService(dbSelector)
	authService := services.NewAuthService(dbSelector)

	// API definitions
	healthApi := api.NewHealthCheckAPI()
	accountApi := api.NewUserAccountApi(authService, nonceService)
	directoryApi := api.NewDirectoryApi(directoryService, env)
	conversationApi := api.NewConversationApi(conversationService)
	messagingApi := api.NewMessagingApi(messageService, env)

	// PUBLIC ROOT API
	rootPublicApi := router.Group("/", metrics.MetricsMiddleware())
	{
		rootPublicApi.GET("/health", healthApi.HealthCheck)
	}

	// PUBLIC API (rate limited, no session required)
	publicApi := router.Group("/api", metrics.MetricsMiddleware(), restinterceptors.RateLimitMiddleware())
	{
		publicApi.GET("/v1/nonce", accountApi.ChallengeNonce)
		publicApi.POST("/v1/register", accountApi.Register)
		publicApi.POST("/v1/login", accountApi.Login)
		publicApi.GET("/v1/keys/:userId", directoryApi.GetPublicKey)
	}

	// SESSION API (JWS token required)
	rootApi := router.Group("/api", metrics.MetricsMiddleware(), restinterceptors.JWSMiddleware())
	{
		rootApi.PUT("/v1/keys/:userId", directoryApi.PublishPublicKey)
		rootApi.POST("/v1/conversations", conversationApi.CreateConversation)
		rootApi.GET("/v1/conversations", conversationApi.ListConversations)
		rootApi.GET("/v1/conversations/:id", conversationApi.GetConversation)
		rootApi.POST("/v1/conversations/:id/messages", messagingApi.AppendMessage)
		rootApi.GET("/v1/conversations/:id/messages", messagingApi.ListMessages)
		rootApi.GET("/v1/conversations/:id/events", messagingApi.SubscribeMessages)
		rootApi.GET("/v1/events", messagingApi.SubscribeConversationList)
	}

	return router
}
