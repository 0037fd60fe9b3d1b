package main

import (
	"log/slog"
	"time"

	"github.com/arguslabs/argus/core/pkg/config"
	"github.com/arguslabs/argus/core/pkg/counterstore"
	"github.com/arguslabs/argus/core/pkg/crypto"
	"github.com/arguslabs/argus/core/pkg/datastore"
	"github.com/arguslabs/argus/core/pkg/notifier"
	"github.com/arguslabs/argus/core/pkg/supervisor"
)

// buildAdapters selects one implementation per capability from the
// configuration: production backends when their endpoints are set,
// in-process fallbacks otherwise.
func buildAdapters(cfg *config.Config) (supervisor.Adapters, error) {
	var ad supervisor.Adapters

	if cfg.DatabaseURL != "" {
		store, err := datastore.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return ad, err
		}
		ad.Data = store
		slog.Info("datastore: postgres")
	} else {
		store, err := datastore.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return ad, err
		}
		ad.Data = store
		slog.Info("datastore: sqlite lite mode", "path", cfg.SQLitePath)
	}

	if cfg.RedisURL != "" {
		counters, err := counterstore.NewRedisStore(cfg.RedisURL,
			time.Duration(cfg.RedisScriptTimeoutMs)*time.Millisecond)
		if err != nil {
			return ad, err
		}
		ad.Counters = counters
		slog.Info("counterstore: redis")
	} else {
		ad.Counters = counterstore.NewLocalStore()
		slog.Info("counterstore: local fallback")
	}

	signer, err := buildSigner(cfg)
	if err != nil {
		return ad, err
	}
	ad.Signer = signer

	if cfg.NotifierWebhookURL != "" {
		ad.Notifier = notifier.NewWebhook(cfg.NotifierWebhookURL, []byte(cfg.NotifierHMACSecret))
		slog.Info("notifier: webhook")
	} else {
		ad.Notifier = notifier.NewLocal()
		slog.Info("notifier: local fallback")
	}
	return ad, nil
}

func buildSigner(cfg *config.Config) (crypto.Signer, error) {
	if cfg.SigningKeyFile != "" {
		signer, err := crypto.LoadEd25519SignerFromFile(cfg.SigningKeyFile, cfg.AuditSigningKeyID)
		if err != nil {
			return nil, err
		}
		slog.Info("signer: ed25519", "key_id", cfg.AuditSigningKeyID)
		return signer, nil
	}

	keyring, err := crypto.NewKeyring(cfg.MasterSecret)
	if err != nil {
		return nil, err
	}
	signer, err := crypto.NewHMACSigner(keyring, cfg.AuditSigningKeyID)
	if err != nil {
		return nil, err
	}
	slog.Warn("signer: hmac fallback; set SIGNING_KEY_FILE for production signatures")
	return signer, nil
}
