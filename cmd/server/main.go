package main

import (
	"github.com/eleven-am/voice-relay/internal/bootstrap"
)

// @title Voice Relay API
// @version 1.0.0
// @description Control plane for the real-time media relay: channels, clients, WebRTC signaling and broadcasts

// @host localhost:8080
// @BasePath /v1

// @securityDefinitions.apikey APIKey
// @in header
// @name Authorization
// @description Operator key as "Bearer sk-relay-..."

// @securityDefinitions.apikey AdminToken
// @in header
// @name Authorization
// @description Admin token as "Bearer <token>"

func main() {
	bootstrap.Run()
}
