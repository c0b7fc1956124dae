package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "", nil)
	require.NoError(t, err)
	want := Default()
	assert.Equal(t, want.AETitle, cfg.AETitle)
	assert.Equal(t, want.Port, cfg.Port)
	assert.Equal(t, want.MaxPDULength, cfg.MaxPDULength)
	assert.Equal(t, want.DimseTimeout, cfg.DimseTimeout)
	assert.Equal(t, want.Storage.Backend, cfg.Storage.Backend)
	assert.Equal(t, want.Storage.Dir, cfg.Storage.Dir)
	assert.Empty(t, cfg.AllowedCallingAEs)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dicomscp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ae_title: FILEAE
port: 104
dimse_timeout: 90s
allowed_calling_aes: [MODALITY1, MODALITY2]
storage:
  backend: s3
  s3:
    bucket: from-file
    region: eu-west-1
`), 0o600))

	t.Setenv("DICOMSCP_STORAGE_S3_BUCKET", "from-env")
	t.Setenv("DICOMSCP_SOCKET_TIMEOUT", "5s")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("ae-title", "DICOMSCP", "")
	flags.String("storage-s3-prefix", "", "")
	require.NoError(t, flags.Parse([]string{"--ae-title=FLAGAE", "--storage-s3-prefix=incoming"}))

	cfg, err := Load(New(), path, flags)
	require.NoError(t, err)

	assert.Equal(t, "FLAGAE", cfg.AETitle)
	assert.Equal(t, 104, cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.DimseTimeout)
	assert.Equal(t, 5*time.Second, cfg.SocketTimeout)
	assert.Equal(t, []string{"MODALITY1", "MODALITY2"}, cfg.AllowedCallingAEs)
	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, "from-env", cfg.Storage.S3.Bucket)
	assert.Equal(t, "eu-west-1", cfg.Storage.S3.Region)
	assert.Equal(t, "incoming", cfg.Storage.S3.Prefix)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty ae", func(c *Config) { c.AETitle = "" }},
		{"long ae", func(c *Config) { c.AETitle = "THIS_AE_IS_TOO_LONG" }},
		{"long allowed ae", func(c *Config) { c.AllowedCalledAEs = []string{"ABCDEFGHIJKLMNOPQ"} }},
		{"port", func(c *Config) { c.Port = 70000 }},
		{"tls port without cert", func(c *Config) { c.TLSPort = 2762 }},
		{"cert without key", func(c *Config) { c.TLSCert = "cert.pem" }},
		{"small pdu", func(c *Config) { c.MaxPDULength = 100 }},
		{"negative rate", func(c *Config) { c.AcceptRate = -1 }},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "tape" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.TLSPort, cfg.TLSCert, cfg.TLSKey = 2762, "cert.pem", "key.pem"
	assert.NoError(t, cfg.Validate())
}

func TestFlagKey(t *testing.T) {
	assert.Equal(t, "ae_title", FlagKey("ae-title"))
	assert.Equal(t, "storage.dir", FlagKey("storage-dir"))
	assert.Equal(t, "storage.age_recipients", FlagKey("storage-age-recipients"))
	assert.Equal(t, "storage.s3.path_style", FlagKey("storage-s3-path-style"))
}

func TestSessionConfig(t *testing.T) {
	cfg := Default()
	cfg.Storage.FileBuffer = true
	cfg.Storage.TempDir = "/var/tmp"
	cfg.AcceptedOnly = true
	sc := cfg.SessionConfig()
	assert.True(t, sc.UseFileBuffer)
	assert.Equal(t, "/var/tmp", sc.TempDir)
	assert.True(t, sc.AcceptedContextsOnly)
	assert.Equal(t, cfg.MaxPDULength, sc.MaxPDULength)
}

func TestReadFileOrValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipients.txt")
	require.NoError(t, os.WriteFile(path, []byte("age1abc\n"), 0o600))

	got, err := ReadFileOrValue(path)
	require.NoError(t, err)
	assert.Equal(t, "age1abc\n", got)

	got, err = ReadFileOrValue("age1inline")
	require.NoError(t, err)
	assert.Equal(t, "age1inline", got)
}
