package session

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-auth-session/guard"
)

// Config holds the engine timing and routing options.
type Config struct {
	// WarningThreshold is how long before expiry SESSION_WARNING fires.
	WarningThreshold time.Duration `yaml:"warning_threshold" json:"warning_threshold"`
	// RefreshThreshold is how long before expiry a renewal is attempted. It
	// must not be shorter than WarningThreshold.
	RefreshThreshold time.Duration `yaml:"refresh_threshold" json:"refresh_threshold"`
	// CheckInterval is the period of the expiry check tick.
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval"`
	// MaxRefreshAttempts bounds consecutive failed renewals.
	MaxRefreshAttempts int `yaml:"max_refresh_attempts" json:"max_refresh_attempts"`
	// AutoRefresh enables renewal from the check tick.
	AutoRefresh bool `yaml:"auto_refresh" json:"auto_refresh"`
	// ResyncInterval is the minimum spacing between Resync calls.
	ResyncInterval time.Duration `yaml:"resync_interval" json:"resync_interval"`

	SignInPath               string   `yaml:"sign_in_path" json:"sign_in_path"`
	DefaultAuthenticatedPath string   `yaml:"default_authenticated_path" json:"default_authenticated_path"`
	UnauthorizedPath         string   `yaml:"unauthorized_path" json:"unauthorized_path"`
	RedirectParam            string   `yaml:"redirect_param" json:"redirect_param"`
	ReasonParam              string   `yaml:"reason_param" json:"reason_param"`
	RedirectDenylist         []string `yaml:"redirect_denylist" json:"redirect_denylist"`
	// VerifyEmailPath enables the email confirmation gate on protected routes.
	VerifyEmailPath string `yaml:"verify_email_path" json:"verify_email_path"`

	ProtectedRoutes []string            `yaml:"protected_routes" json:"protected_routes"`
	GuestOnlyRoutes []string            `yaml:"guest_only_routes" json:"guest_only_routes"`
	PublicRoutes    []string            `yaml:"public_routes" json:"public_routes"`
	RoleRoutes      map[string][]string `yaml:"role_routes" json:"role_routes"`
}

const (
	DefaultWarningThreshold   = 5 * time.Minute
	DefaultRefreshThreshold   = 10 * time.Minute
	DefaultCheckInterval      = time.Minute
	DefaultMaxRefreshAttempts = 3
	DefaultResyncInterval     = 5 * time.Second
)

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		WarningThreshold:         DefaultWarningThreshold,
		RefreshThreshold:         DefaultRefreshThreshold,
		CheckInterval:            DefaultCheckInterval,
		MaxRefreshAttempts:       DefaultMaxRefreshAttempts,
		AutoRefresh:              true,
		ResyncInterval:           DefaultResyncInterval,
		SignInPath:               guard.DefaultSignInPath,
		DefaultAuthenticatedPath: guard.DefaultAuthenticatedPath,
		UnauthorizedPath:         guard.DefaultUnauthorizedPath,
		RedirectParam:            guard.DefaultRedirectParam,
		ReasonParam:              guard.DefaultReasonParam,
		RedirectDenylist:         append([]string(nil), guard.DefaultDenylist...),
		ProtectedRoutes:          []string{"/dashboard", "/profile", "/settings", "/roadmap", "/lessons"},
		GuestOnlyRoutes:          []string{"/signin", "/signup", "/forgot-password", "/reset-password"},
		PublicRoutes:             []string{"/", "/about", "/contact", "/terms", "/privacy", "/auth/callback"},
	}
}

// Validate checks value ranges and the threshold ordering.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.WarningThreshold, validation.Required, validation.Min(time.Duration(0))),
		validation.Field(&c.RefreshThreshold, validation.Required, validation.By(c.refreshNotBeforeWarning)),
		validation.Field(&c.CheckInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MaxRefreshAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.ResyncInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.SignInPath, validation.Required, validation.By(relativePath)),
		validation.Field(&c.DefaultAuthenticatedPath, validation.Required, validation.By(relativePath)),
		validation.Field(&c.UnauthorizedPath, validation.By(relativePath)),
		validation.Field(&c.VerifyEmailPath, validation.By(relativePath)),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid session configuration").
			WithTextCode(TextCodeInvalidConfig).
			WithCode(goerrors.CodeBadRequest)
	}
	return nil
}

func (c Config) refreshNotBeforeWarning(value any) error {
	refresh, _ := value.(time.Duration)
	if refresh < c.WarningThreshold {
		return fmt.Errorf("must be greater than or equal to warning_threshold (%s)", c.WarningThreshold)
	}
	return nil
}

func relativePath(value any) error {
	path, _ := value.(string)
	if path == "" {
		return nil
	}
	if err := guard.ValidateRedirectPath(path, []string{}); err != nil {
		return fmt.Errorf("must be a relative path")
	}
	return nil
}

// Policy returns the route access policy described by the config.
func (c Config) Policy() guard.Policy {
	return guard.Policy{
		SignInPath:               c.SignInPath,
		DefaultAuthenticatedPath: c.DefaultAuthenticatedPath,
		UnauthorizedPath:         c.UnauthorizedPath,
		RedirectParam:            c.RedirectParam,
		ReasonParam:              c.ReasonParam,
		VerifyEmailPath:          c.VerifyEmailPath,
		Denylist:                 c.RedirectDenylist,
	}
}

// Routes returns the route table described by the config.
func (c Config) Routes() guard.RouteTable {
	return guard.RouteTable{
		Protected: c.ProtectedRoutes,
		GuestOnly: c.GuestOnlyRoutes,
		Public:    c.PublicRoutes,
		RoleRules: c.RoleRoutes,
	}
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to decode session configuration").
			WithTextCode(TextCodeInvalidConfig).
			WithCode(goerrors.CodeBadRequest)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads and parses a YAML configuration file.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to read session configuration").
			WithTextCode(TextCodeInvalidConfig).
			WithMetadata(map[string]any{"path": path})
	}
	return ParseConfig(data)
}
