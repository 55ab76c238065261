package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/magiconair/properties"
	"github.com/magiconair/properties/assert"
	"go.uber.org/zap/zapcore"
)

func TestConfigFromProperties(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    *Config
		wantErr bool
	}{
		{
			name: "defaults",
			text: "",
			want: DefaultConfig(),
		},
		{
			name: "overrides",
			text: "pool.size = 1048576\npool.size.12 = 65536\npool.size.20 = 0\nstore.path = /tmp/pages.db\nlog.level = debug\nlatch.spin = 16\n",
			want: &Config{
				PoolSize:       1 << 20,
				ClassPoolSizes: map[uint8]uint64{12: 65536, 20: 0},
				PageStorePath:  "/tmp/pages.db",
				LogLevel:       zapcore.DebugLevel,
				SpinLimit:      16,
			},
		},
		{name: "bad pool size", text: "pool.size = lots\n", wantErr: true},
		{name: "class below range", text: "pool.size.11 = 4096\n", wantErr: true},
		{name: "class above range", text: "pool.size.32 = 4096\n", wantErr: true},
		{name: "bad class size", text: "pool.size.12 = -1\n", wantErr: true},
		{name: "bad level", text: "log.level = loud\n", wantErr: true},
		{name: "zero spin", text: "latch.spin = 0\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := properties.LoadString(tt.text)
			if err != nil {
				t.Fatalf("LoadString() error = %v", err)
			}
			got, err := ConfigFromProperties(p)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ConfigFromProperties() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			assert.Equal(t, got, tt.want)
		})
	}
}

func TestConfig_PoolSizeOf(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoolSize = 1 << 20
	cfg.ClassPoolSizes[13] = 0
	cfg.ClassPoolSizes[25] = 1 << 25

	tests := []struct {
		cid  uint8
		want uint64
	}{
		{cid: 12, want: 1 << 20},
		{cid: 13, want: 0},
		{cid: 20, want: 1 << 20},
		{cid: 21, want: 0},
		{cid: 25, want: 1 << 25},
	}
	for _, tt := range tests {
		if got := cfg.PoolSizeOf(tt.cid); got != tt.want {
			t.Errorf("PoolSizeOf(%d) = %v, want %v", tt.cid, got, tt.want)
		}
	}
}

func TestLoadConfig_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoolSize = 1 << 24
	cfg.ClassPoolSizes[12] = 1 << 16
	cfg.PageStorePath = "pages.db"
	cfg.LogLevel = zapcore.InfoLevel
	cfg.SpinLimit = 128

	path := filepath.Join(t.TempDir(), "poolish.properties")
	if err := os.WriteFile(path, []byte(cfg.Properties().String()), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	assert.Equal(t, got, cfg)

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.properties")); err == nil {
		t.Errorf("LoadConfig(missing) error = nil")
	}
}
