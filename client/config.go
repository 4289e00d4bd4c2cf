package client

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yuta1414win/PLAINER-sub001/internal/domain"
)

// 默认参数。心跳超时按 HeartbeatInterval * heartbeatTimeoutFactor 计算。
const (
	defaultHeartbeatInterval = 30 * time.Second
	heartbeatTimeoutFactor   = 2

	defaultReconnectBase     = 1 * time.Second
	defaultReconnectMax      = 30 * time.Second
	defaultReconnectAttempts = 10

	defaultCursorDebounce = 50 * time.Millisecond
	defaultCursorMaxIdle  = 5 * time.Second

	defaultRequestTimeout = 10 * time.Second
)

// Config 是客户端连接配置。Endpoint 形如 ws://host:port/ws。
type Config struct {
	Endpoint string
	RoomID   string
	User     domain.User

	// 房间准入凭据，按需填写。
	Password    string
	InviteToken string

	HeartbeatInterval time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int

	CursorDebounce time.Duration
	CursorMaxIdle  time.Duration

	// RequestTimeout 约束锁申请等请求/应答调用的默认等待时长。
	RequestTimeout time.Duration

	// Conflict 决定远端 content-change 如何并入本地值，
	// 缺省为 last-write-wins。
	Conflict Strategy

	Logger *logrus.Logger
}

func (c *Config) validate() error {
	if c.Endpoint == "" {
		return errors.New("client: endpoint is required")
	}
	if c.RoomID == "" {
		return errors.New("client: room id is required")
	}
	if c.User.ID == "" {
		return errors.New("client: user id is required")
	}
	return nil
}

func (c *Config) withDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = defaultReconnectBase
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = defaultReconnectMax
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = defaultReconnectAttempts
	}
	if c.CursorDebounce <= 0 {
		c.CursorDebounce = defaultCursorDebounce
	}
	if c.CursorMaxIdle <= 0 {
		c.CursorMaxIdle = defaultCursorMaxIdle
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.Conflict == nil {
		c.Conflict = LastWriteWins{}
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
}
