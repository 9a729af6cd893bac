// Package credential keeps a valid embedding provider token available to the
// pipeline: sources in priority order, proactive refresh before expiry, and
// a circuit breaker for repeated refresh failures.
package credential

import (
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/kailas-cloud/repodex/internal/domain"
)

// Source yields a credential from one backing location.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (domain.Credential, error)
}

// StaticSource serves a token fixed in configuration. Highest priority.
type StaticSource struct {
	provider credentials.StaticCredentialsProvider
	ttl      time.Duration
}

// NewStaticSource wraps a configured API key.
func NewStaticSource(apiKey string, ttl time.Duration) *StaticSource {
	return &StaticSource{
		provider: credentials.NewStaticCredentialsProvider("repodex", apiKey, ""),
		ttl:      ttl,
	}
}

func (s *StaticSource) Name() string { return "static" }

// Fetch returns the configured key. Static keys carry no expiry metadata, so
// validity is assumed for the configured TTL from now.
func (s *StaticSource) Fetch(ctx context.Context) (domain.Credential, error) {
	creds, err := s.provider.Retrieve(ctx)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("static credential: %w", err)
	}
	if creds.SecretAccessKey == "" {
		return domain.Credential{}, fmt.Errorf("static credential: %w", domain.ErrCredentialUnavailable)
	}
	now := time.Now().UTC()
	return domain.Credential{
		Token:     creds.SecretAccessKey,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
		Source:    s.Name(),
	}, nil
}

// EnvSource reads the token from an environment variable.
type EnvSource struct {
	varName string
	ttl     time.Duration
}

// NewEnvSource reads the named environment variable on each fetch.
func NewEnvSource(varName string, ttl time.Duration) *EnvSource {
	return &EnvSource{varName: varName, ttl: ttl}
}

func (s *EnvSource) Name() string { return "env" }

func (s *EnvSource) Fetch(_ context.Context) (domain.Credential, error) {
	token := os.Getenv(s.varName)
	if token == "" {
		return domain.Credential{}, fmt.Errorf("env %s is empty: %w", s.varName, domain.ErrCredentialUnavailable)
	}
	now := time.Now().UTC()
	return domain.Credential{
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
		Source:    s.Name(),
	}, nil
}

// ProfileSource reads a named profile from a shared credentials file.
type ProfileSource struct {
	path    string
	profile string
	ttl     time.Duration
}

// NewProfileSource reads the given profile from a credentials file on each
// fetch, so rotated files are picked up without a restart.
func NewProfileSource(path, profile string, ttl time.Duration) *ProfileSource {
	if profile == "" {
		profile = "default"
	}
	return &ProfileSource{path: path, profile: profile, ttl: ttl}
}

func (s *ProfileSource) Name() string { return "profile" }

func (s *ProfileSource) Fetch(ctx context.Context) (domain.Credential, error) {
	shared, err := awsconfig.LoadSharedConfigProfile(ctx, s.profile, func(o *awsconfig.LoadSharedConfigOptions) {
		o.CredentialsFiles = []string{s.path}
		o.ConfigFiles = []string{}
	})
	if err != nil {
		return domain.Credential{}, fmt.Errorf("profile %s in %s: %w", s.profile, s.path, err)
	}
	token := shared.Credentials.SecretAccessKey
	if token == "" {
		return domain.Credential{}, fmt.Errorf("profile %s has no secret: %w", s.profile, domain.ErrCredentialUnavailable)
	}
	now := time.Now().UTC()
	return domain.Credential{
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
		Source:    s.Name(),
	}, nil
}

// ChainSource resolves workload identity through the AWS default chain
// (env, shared config, IMDS). Lowest priority fallback.
type ChainSource struct {
	ttl time.Duration
}

// NewChainSource creates the default-chain fallback source.
func NewChainSource(ttl time.Duration) *ChainSource {
	return &ChainSource{ttl: ttl}
}

func (s *ChainSource) Name() string { return "workload" }

func (s *ChainSource) Fetch(ctx context.Context) (domain.Credential, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("load default chain: %w", err)
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("retrieve from default chain: %w", err)
	}

	// Session tokens are the workload identity; fall back to the secret for
	// long-lived keypairs.
	token := creds.SessionToken
	if token == "" {
		token = creds.SecretAccessKey
	}
	if token == "" {
		return domain.Credential{}, fmt.Errorf("default chain yielded no credential: %w", domain.ErrCredentialUnavailable)
	}

	now := time.Now().UTC()
	expires := now.Add(s.ttl)
	if creds.CanExpire {
		expires = creds.Expires.UTC()
	}
	return domain.Credential{
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: expires,
		Source:    s.Name(),
	}, nil
}
