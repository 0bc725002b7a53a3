package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/authcore/internal/handlers/middleware"
	"github.com/nkiryanov/authcore/internal/logger"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultDatabaseDSN  = "memory://"
	defaultEnvironment  = logger.EnvProduction
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the authcore service will be run
	ListenAddr string

	// Storage to keep principals and refresh records in
	// postgres://..., sqlite://path/to/file.db or memory://
	DatabaseDSN string

	// Secrets to sign access and refresh tokens, must differ
	AccessSecret  string
	RefreshSecret string

	// Environment
	Environment string

	// Set Secure attribute on refresh cookie; disable for plain http only
	CookieSecure bool

	// Auth requests per minute allowed from one IP, zero disables limit
	RateLimit int

	// Proxies (CIDR or address) allowed to pass client IP in X-Forwarded-For or X-Real-IP
	TrustedProxies []string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:     defaultLoggingLevel,
		ListenAddr:   defaultListenAddr,
		DatabaseDSN:  defaultDatabaseDSN,
		Environment:  defaultEnvironment,
		CookieSecure: true,
		RateLimit:    middleware.DefaultAuthRateLimit.Requests,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = b
			return nil
		}
	}
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = strings.Split(value, ",")
			}
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			i, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = i
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":     setString(&c.ListenAddr),
		"DATABASE_URI":    setString(&c.DatabaseDSN),
		"ACCESS_SECRET":   setString(&c.AccessSecret),
		"REFRESH_SECRET":  setString(&c.RefreshSecret),
		"LOG_LEVEL":       setString(&c.LogLevel),
		"ENVIRONMENT":     setString(&c.Environment),
		"COOKIE_SECURE":   setBool(&c.CookieSecure),
		"RATE_LIMIT":      setInt(&c.RateLimit),
		"TRUSTED_PROXIES": setList(&c.TrustedProxies),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("authcore", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Storage DSN: postgres://, sqlite:// or memory://")
	fs.StringVar(&c.AccessSecret, "access-secret", c.AccessSecret, "Secret to sign access tokens")
	fs.StringVar(&c.RefreshSecret, "refresh-secret", c.RefreshSecret, "Secret to sign refresh tokens")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.BoolVar(&c.CookieSecure, "cookie-secure", c.CookieSecure, "Send refresh cookie over https only")
	fs.IntVar(&c.RateLimit, "rate-limit", c.RateLimit, "Auth requests per minute from one IP, 0 disables limit")
	fs.StringSliceVar(&c.TrustedProxies, "trusted-proxies", c.TrustedProxies, "Proxies allowed to set X-Forwarded-For, CIDR or address")

	return fs.Parse(args)
}
