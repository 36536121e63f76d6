package config

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/voicetyped/campaignflow/pkg/urlvalidation"
)

func TestServiceConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServiceConfig
		wantErr bool
	}{
		{"postgres", ServiceConfig{StorageDriver: StoragePostgres, SessionTTLMin: 30}, false},
		{"memory", ServiceConfig{StorageDriver: StorageMemory, SessionTTLMin: 30}, false},
		{"sqlite", ServiceConfig{StorageDriver: StorageSQLite, SQLitePath: "x.db", SessionTTLMin: 30}, false},
		{"sqlite without path", ServiceConfig{StorageDriver: StorageSQLite, SessionTTLMin: 30}, true},
		{"unknown driver", ServiceConfig{StorageDriver: "mongo", SessionTTLMin: 30}, true},
		{"zero ttl", ServiceConfig{StorageDriver: StorageMemory}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDurations(t *testing.T) {
	cfg := ServiceConfig{SessionTTLMin: 15, SnapshotTTLHours: 2}
	if cfg.SessionTTL() != 15*time.Minute {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL())
	}
	if cfg.SnapshotTTL() != 2*time.Hour {
		t.Errorf("SnapshotTTL = %v", cfg.SnapshotTTL())
	}
}

func TestURLValidation(t *testing.T) {
	private := urlvalidation.WithResolver(func(context.Context, string) ([]netip.Addr, error) {
		return []netip.Addr{netip.MustParseAddr("10.0.0.7")}, nil
	})
	cfg := WebhookConfig{WebhookAllowedHosts: []string{"crm.internal"}, WebhookRequireHTTPS: true}

	opts := append(cfg.URLValidation(), private)
	if err := urlvalidation.Validate(t.Context(), "https://crm.internal/hook", opts...); err != nil {
		t.Errorf("allowlisted host rejected: %v", err)
	}
	if err := urlvalidation.Validate(t.Context(), "https://other.internal/hook", opts...); !errors.Is(err, urlvalidation.ErrReserved) {
		t.Errorf("private host err = %v", err)
	}
	if err := urlvalidation.Validate(t.Context(), "http://crm.internal/hook", opts...); !errors.Is(err, urlvalidation.ErrScheme) {
		t.Errorf("http err = %v", err)
	}
}
