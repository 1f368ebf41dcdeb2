package config

import "time"

type Config struct {
	TokenSecret  string
	TokenExpire  time.Duration
	SecureCookie bool
}
