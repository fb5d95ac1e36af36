package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS returns a CORS middleware with default configuration
func CORS() gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowHeaders = []string{"*"}
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	return cors.New(config)
}

// Logger returns Gin's default logger middleware
func Logger() gin.HandlerFunc {
	return gin.Logger()
}

// Recovery returns Gin's default recovery middleware
func Recovery() gin.HandlerFunc {
	return gin.Recovery()
}