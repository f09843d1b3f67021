package secretstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/upb/secretmanager/config"
	"go.uber.org/zap"
)

// OpenBao stores payloads in a KV version 2 mount.
// OpenBao speaks the Vault HTTP API, so the Vault client is used unchanged.
type OpenBao struct {
	client  *api.Client
	kv      *api.KVv2
	mount   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenBao creates a KV v2 client for the configured mount
func NewOpenBao(cfg config.OpenBaoConfig, logger *zap.Logger) (*OpenBao, error) {
	apiCfg := api.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("failed to read openbao client environment: %w", apiCfg.Error)
	}
	apiCfg.Address = cfg.Address
	apiCfg.MaxRetries = cfg.MaxRetries
	if cfg.RequestTimeout > 0 {
		apiCfg.Timeout = cfg.RequestTimeout
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create openbao client: %w", err)
	}
	client.SetToken(cfg.Token)

	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = "secret"
	}

	logger.Info("openbao secret store configured",
		zap.String("address", cfg.Address),
		zap.String("mount", mount))

	return &OpenBao{
		client:  client,
		kv:      client.KVv2(mount),
		mount:   mount,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func (o *OpenBao) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

// Write stores data as a new version of name
func (o *OpenBao) Write(ctx context.Context, name string, data map[string]interface{}) error {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	secret, err := o.kv.Put(ctx, name, data)
	if err != nil {
		return fmt.Errorf("openbao write %s: %w", name, err)
	}
	if secret.VersionMetadata != nil {
		o.logger.Debug("secret written",
			zap.String("name", name),
			zap.Int("version", secret.VersionMetadata.Version))
	}
	return nil
}

// Read returns the latest version of name
func (o *OpenBao) Read(ctx context.Context, name string) (map[string]interface{}, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	secret, err := o.kv.Get(ctx, name)
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("openbao read %s: %w", name, err)
	}
	// A soft-deleted latest version comes back with no data
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return secret.Data, nil
}

// List returns the names under the mount. Folder entries are skipped.
func (o *OpenBao) List(ctx context.Context) ([]string, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	secret, err := o.client.Logical().ListWithContext(ctx, o.mount+"/metadata")
	if err != nil {
		return nil, fmt.Errorf("openbao list: %w", err)
	}
	names := []string{}
	if secret == nil || secret.Data == nil {
		return names, nil
	}

	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return names, nil
	}
	for _, k := range keys {
		name, ok := k.(string)
		if !ok || strings.HasSuffix(name, "/") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// HealthCheck verifies the server is initialized and unsealed
func (o *OpenBao) HealthCheck(ctx context.Context) error {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	health, err := o.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("openbao health check failed: %w", err)
	}
	if !health.Initialized {
		return errors.New("openbao is not initialized")
	}
	if health.Sealed {
		return errors.New("openbao is sealed")
	}
	return nil
}
