package clconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/andskur/argon2-hashing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestCreateExampleConfig(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "example.yaml")

	name, err := CreateExampleConfig(tempFile)
	require.NoError(t, err)
	assert.Equal(t, tempFile, name)

	conf, err := LoadConfig(tempFile)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", conf.Database.Db)
	assert.Equal(t, DefaultHeartbeatSeconds, conf.Analytics.HeartbeatSeconds)
	assert.Equal(t, DefaultStaleMinutes, conf.Analytics.StaleMinutes)
	assert.Equal(t, DefaultSweep, conf.Analytics.Sweep)
}

func TestLoadConfigDefaults(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "partial.yaml")
	data, err := yaml.Marshal(&Config{
		Database: DatabaseConfig{Db: "sqlite", Path: "test.db"},
		Listen:   ListenConfig{Website: ":9000"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tempFile, data, 0644))

	conf, err := LoadConfig(tempFile)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", conf.Listen.Website)
	assert.Equal(t, 30, conf.Analytics.HeartbeatSeconds)
	assert.Equal(t, 5, conf.Analytics.StaleMinutes)
	assert.Equal(t, DefaultBackgroundWorkers, conf.Analytics.BackgroundWorkers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		db      DatabaseConfig
		wantErr bool
	}{
		{"sqlite ok", DatabaseConfig{Db: "sqlite", Path: "x.db"}, false},
		{"sqlite sans path", DatabaseConfig{Db: "sqlite"}, true},
		{"mysql sans dsn", DatabaseConfig{Db: "mysql"}, true},
		{"postgres ok", DatabaseConfig{Db: "postgres", Dsn: "host=localhost"}, false},
		{"type vide", DatabaseConfig{}, true},
		{"type inconnu", DatabaseConfig{Db: "oracle", Dsn: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Database: tt.db}
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	c := &Config{Database: DatabaseConfig{Db: "sqlite", Path: "x"}, Analytics: AnalyticsConfig{RetentionDays: -1}}
	assert.Error(t, c.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRedactDsn(t *testing.T) {
	assert.Equal(t, "user:****@tcp(localhost:3306)/folio", redactDsn("user:secret@tcp(localhost:3306)/folio"))
	assert.Equal(t, "host=localhost dbname=folio", redactDsn("host=localhost dbname=folio"))
}

func TestLoadConfigHashesStatsToken(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "token.yaml")
	data, err := yaml.Marshal(&Config{
		Database:  DatabaseConfig{Db: "sqlite", Path: "test.db"},
		Analytics: AnalyticsConfig{StatsToken: "jeton-des-stats"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tempFile, data, 0644))

	conf, err := LoadConfig(tempFile)
	require.NoError(t, err)
	assert.Empty(t, conf.Analytics.StatsToken)
	require.NotEmpty(t, conf.Analytics.StatsHash)
	assert.NoError(t, argon2.CompareHashAndPassword([]byte(conf.Analytics.StatsHash), []byte("jeton-des-stats")))
	assert.Error(t, argon2.CompareHashAndPassword([]byte(conf.Analytics.StatsHash), []byte("autre")))

	// le clair a disparu du fichier, un second chargement garde le hash
	written, err := os.ReadFile(tempFile)
	require.NoError(t, err)
	assert.NotContains(t, string(written), "jeton-des-stats")

	again, err := LoadConfig(tempFile)
	require.NoError(t, err)
	assert.Equal(t, conf.Analytics.StatsHash, again.Analytics.StatsHash)
}

func TestLoadConfigRejectsShortStatsToken(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "short.yaml")
	data, err := yaml.Marshal(&Config{
		Database:  DatabaseConfig{Db: "sqlite", Path: "test.db"},
		Analytics: AnalyticsConfig{StatsToken: "court"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tempFile, data, 0644))

	_, err = LoadConfig(tempFile)
	assert.Error(t, err)
}
