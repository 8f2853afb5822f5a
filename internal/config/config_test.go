package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
collections:
  - name: main
    http:
      endpoint: https://vendor.example.com/feed
      pageSize: 200
    sync:
      schedule: 15m
      pageLimit: 10
      failFast: true
    circulation:
      loanPeriod: 336h
  - name: local
    file:
      path: /var/lib/circ/feed.yaml
circulation:
  loanPeriod: 504h
  reservationWindow: 72h
retry:
  maxAttempts: 5
  initialInterval: 1s
  maxInterval: 1m
coverage:
  types: [summary, classification]
  endpoint: https://lookup.example.com
  maxAttempts: 4
  batchSize: 50
  schedule: 5m
reaper:
  schedule: 1m
  parallelism: 8
database:
  host: localhost
  port: 5432
  user: circ
  database: circulation
  passwordEnv: CIRC_DB_PASSWORD
metrics:
  enabled: true
`)

	cfg, err := LoadConfig(WithConfigPath(path))
	require.NoError(t, err)

	require.Len(t, cfg.Collections, 2)
	assert.Equal(t, SourceTypeHTTP, cfg.Collections[0].GetType())
	assert.Equal(t, SourceTypeFile, cfg.Collections[1].GetType())
	assert.Equal(t, 200, cfg.Collections[0].HTTP.PageSize)
	assert.True(t, cfg.Collections[0].Sync.FailFast)
	assert.Equal(t, []string{"summary", "classification"}, cfg.Coverage.Types)
	assert.Equal(t, "https://lookup.example.com", cfg.Coverage.Endpoint)
	assert.Equal(t, 8, cfg.Reaper.Parallelism)
	require.NotNil(t, cfg.Database)
	assert.Equal(t, "CIRC_DB_PASSWORD", cfg.Database.PasswordEnv)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no collections",
			yaml:    `collections: []`,
			wantErr: "at least one collection",
		},
		{
			name: "missing name",
			yaml: `
collections:
  - http:
      endpoint: https://vendor.example.com
`,
			wantErr: "name is required",
		},
		{
			name: "duplicate names",
			yaml: `
collections:
  - name: main
    http:
      endpoint: https://vendor.example.com
  - name: main
    file:
      path: /tmp/feed.yaml
`,
			wantErr: "duplicate collection name",
		},
		{
			name: "no source",
			yaml: `
collections:
  - name: main
`,
			wantErr: "exactly one source type",
		},
		{
			name: "both sources",
			yaml: `
collections:
  - name: main
    http:
      endpoint: https://vendor.example.com
    file:
      path: /tmp/feed.yaml
`,
			wantErr: "exactly one source type",
		},
		{
			name: "empty http endpoint",
			yaml: `
collections:
  - name: main
    http:
      endpoint: ""
`,
			wantErr: "http.endpoint is required",
		},
		{
			name: "bad sync schedule",
			yaml: `
collections:
  - name: main
    http:
      endpoint: https://vendor.example.com
    sync:
      schedule: often
`,
			wantErr: "invalid sync schedule",
		},
		{
			name: "negative page limit",
			yaml: `
collections:
  - name: main
    http:
      endpoint: https://vendor.example.com
    sync:
      pageLimit: -1
`,
			wantErr: "pageLimit must not be negative",
		},
		{
			name: "bad loan period",
			yaml: `
collections:
  - name: main
    http:
      endpoint: https://vendor.example.com
circulation:
  loanPeriod: three weeks
`,
			wantErr: "invalid loanPeriod",
		},
		{
			name: "zero reservation window",
			yaml: `
collections:
  - name: main
    http:
      endpoint: https://vendor.example.com
circulation:
  reservationWindow: 0s
`,
			wantErr: "reservationWindow must be positive",
		},
		{
			name: "negative loan period",
			yaml: `
collections:
  - name: main
    http:
      endpoint: https://vendor.example.com
    circulation:
      loanPeriod: -24h
`,
			wantErr: "loanPeriod must be positive",
		},
		{
			name: "bad retry interval",
			yaml: `
collections:
  - name: main
    http:
      endpoint: https://vendor.example.com
retry:
  initialInterval: soon
`,
			wantErr: "invalid initialInterval",
		},
		{
			name: "coverage types without endpoint",
			yaml: `
collections:
  - name: main
    http:
      endpoint: https://vendor.example.com
coverage:
  types: [summary]
`,
			wantErr: "endpoint is required when coverage types",
		},
		{
			name: "bad reaper schedule",
			yaml: `
collections:
  - name: main
    http:
      endpoint: https://vendor.example.com
reaper:
  schedule: nightly
`,
			wantErr: "reaper: invalid schedule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfig(t, tt.yaml)
			_, err := LoadConfig(WithConfigPath(path))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")))
	require.Error(t, err)

	_, err = LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no configuration source")
}

func TestGetPassword(t *testing.T) {
	passwordFile := filepath.Join(t.TempDir(), "password")
	require.NoError(t, os.WriteFile(passwordFile, []byte("from-file\n"), 0o600))
	t.Setenv("CIRC_TEST_DB_PASSWORD", "from-env")

	tests := []struct {
		name    string
		cfg     DatabaseConfig
		want    string
		wantErr bool
	}{
		{
			name: "file wins over env and inline",
			cfg: DatabaseConfig{
				PasswordFile: passwordFile,
				PasswordEnv:  "CIRC_TEST_DB_PASSWORD",
				Password:     "inline",
			},
			want: "from-file",
		},
		{
			name: "env wins over inline",
			cfg: DatabaseConfig{
				PasswordEnv: "CIRC_TEST_DB_PASSWORD",
				Password:    "inline",
			},
			want: "from-env",
		},
		{
			name: "inline fallback",
			cfg:  DatabaseConfig{Password: "inline"},
			want: "inline",
		},
		{
			name:    "unset env variable",
			cfg:     DatabaseConfig{PasswordEnv: "CIRC_TEST_DB_PASSWORD_UNSET"},
			wantErr: true,
		},
		{
			name:    "unreadable file",
			cfg:     DatabaseConfig{PasswordFile: filepath.Join(t.TempDir(), "absent")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.GetPassword()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCirculationPolicyFallbacks(t *testing.T) {
	t.Parallel()

	global := CirculationConfig{LoanPeriod: "336h", ReservationWindow: "48h"}

	override := CollectionConfig{Circulation: &CirculationConfig{LoanPeriod: "168h"}}
	assert.Equal(t, 168*time.Hour, override.LoanPeriod(global))
	assert.Equal(t, 48*time.Hour, override.ReservationWindow(global))

	plain := CollectionConfig{}
	assert.Equal(t, 336*time.Hour, plain.LoanPeriod(global))
	assert.Equal(t, 48*time.Hour, plain.ReservationWindow(global))

	assert.Equal(t, DefaultLoanPeriod, plain.LoanPeriod(CirculationConfig{}))
	assert.Equal(t, DefaultReservationWindow, plain.ReservationWindow(CirculationConfig{}))
}
