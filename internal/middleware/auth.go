package middleware

import (
	"net/http"
	"strings"
	"time"

	"fulfillment-api/internal/config"
	"fulfillment-api/internal/response"
	"fulfillment-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var AppService *services.AppService

// InitAppService initializes the shared app service
func InitAppService() {
	AppService = services.NewAppService()
}

// userClaims 外部签发方的令牌负载，这里只消费 uid / appid 两个字段
type userClaims struct {
	UID   string `json:"uid"`
	AppID string `json:"appid"`
	jwt.RegisteredClaims
}

// AuthMiddleware resolves the bearer token to (uid, appid).
// Token issuance lives elsewhere; this service only validates and reads.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.JSON(http.StatusUnauthorized, response.Error("Missing bearer token"))
			c.Abort()
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		claims := &userClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(config.AppConfig.JWTSecret), nil
		})
		if err != nil || !token.Valid || claims.UID == "" || claims.AppID == "" {
			c.JSON(http.StatusUnauthorized, response.Error("Invalid bearer token"))
			c.Abort()
			return
		}

		c.Set("uid", claims.UID)
		c.Set("appid", claims.AppID)
		c.Set("request_time", time.Now())
		c.Next()
	}
}

// AppAuthMiddleware provides server-to-server authentication for app backends
func AppAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		appID := c.GetHeader("X-App-ID")
		apiKey := c.GetHeader("X-API-Key")

		// If not passed via header, try to get from query parameters
		if appID == "" {
			appID = c.Query("appid")
		}
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}

		if appID == "" || apiKey == "" {
			c.JSON(http.StatusUnauthorized, response.Error("Missing appid or api_key"))
			c.Abort()
			return
		}

		if !AppService.ValidateApp(appID, apiKey) {
			c.JSON(http.StatusUnauthorized, response.Error("Invalid appid or api_key"))
			c.Abort()
			return
		}

		c.Set("appid", appID)
		c.Set("request_time", time.Now())
		c.Next()
	}
}
