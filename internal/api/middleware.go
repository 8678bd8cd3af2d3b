package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// jwtMiddleware проверяет JWT токен в заголовке Authorization
func (rs *RestServer) jwtMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Получаем Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Отсутствует токен авторизации",
			})
			return
		}

		// Проверяем формат "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Неверный формат токена",
			})
			return
		}

		claims, err := rs.issuer.Validate(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Недействительный токен",
			})
			return
		}

		// Сохраняем информацию о пользователе в контексте
		c.Set("subject", claims.Subject)
		c.Set("is_admin", claims.Admin)

		c.Next()
	}
}

// adminMiddleware проверяет, что пользователь является администратором
func (rs *RestServer) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Получаем информацию о пользователе из контекста (установлена в jwtMiddleware)
		if !c.GetBool("is_admin") {
			c.AbortWithStatusJSON(http.StatusForbidden, GenericResponse{
				Success: false,
				Message: "Недостаточно прав доступа",
			})
			return
		}

		c.Next()
	}
}

// corsMiddleware разрешает запросы из браузера
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
