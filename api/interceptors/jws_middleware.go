package interceptors

import (
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cryptalk/go-cryptalk-server/global"
	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v3"
)

const (
	defaultTokenExpiryHours = 30 * 24 // 30 days
)

// JWSMiddleware authenticates requests with a compact JWS session token signed
// by the server's Ed25519 key. On success the authenticated user id is stored
// under "userID" in the gin context. Everything behind this middleware fails
// closed: no token, no crypto operation.
func JWSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		auth = strings.TrimPrefix(auth, "Bearer ")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is missing"})
			return
		}

		// Parse JWS message
		object, err := jose.ParseSigned(auth)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid JWS message"})
			return
		}

		// Verify the signature
		payload, err := object.Verify(global.ServerPublicKey)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Failed to verify JWS message"})
			return
		}

		var plMap map[string]interface{}
		uErr := json.Unmarshal(payload, &plMap)
		if uErr != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to parse JWS payload"})
			return
		}
		exp, ok := plMap["exp"]
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to parse JWS payload (exp missing)"})
			return
		}
		expFloat, ok := exp.(float64)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to parse JWS payload"})
			return
		}
		if int64(expFloat) < time.Now().Unix() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "JWS message expired"})
			return
		}
		sub, ok := plMap["sub"]
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to parse JWS payload (sub missing)"})
			return
		}
		userID, ok := sub.(string)
		if !ok || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid subject"})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}

// GenerateJWSToken issues a session token for userID; challenge is the consumed
// login nonce, kept as jti for traceability
func GenerateJWSToken(serverPrivateKey ed25519.PrivateKey, userID string, challenge string) (string, error) {
	expiryHours := global.Conf.Cryptalk.TokenExpiryHours
	if expiryHours <= 0 {
		expiryHours = defaultTokenExpiryHours
	}
	pl := map[string]interface{}{
		"iss": "cryptalk",
		"sub": userID,
		"iat": time.Now().Unix(),
		"jti": challenge,
		"exp": time.Now().Add(time.Hour * time.Duration(expiryHours)).Unix(),
		"aud": "cryptalk",
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: serverPrivateKey}, nil)
	if err != nil {
		return "", err
	}

	plBytes, plErr := json.Marshal(pl)
	if plErr != nil {
		return "", plErr
	}
	object, err := signer.Sign(plBytes)
	if err != nil {
		return "", err
	}

	return object.CompactSerialize()
}
