package config

import "time"

const (
	// Websocket transport
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	SendBufferSize = 256

	// Frames above MaxFrameBytes are dropped; above HardReadLimit the
	// connection is closed.
	MaxFrameBytes = 100_000
	HardReadLimit = 1 << 20

	MessagesPerSecond = 50
	MessageBurst      = 100

	// Matchmaking
	RequestTTL     = 2 * time.Minute
	ReaperInterval = 15 * time.Second

	// Rooms
	RoomCodeLength   = 6
	RoomCodeAttempts = 8
	EventCodeLength  = 6
)
