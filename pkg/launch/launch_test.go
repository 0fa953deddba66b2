package launch

import (
	"testing"

	"github.com/rs/zerolog"
)

func envFrom(vars map[string]string) Getenv {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDetect(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)

	tests := []struct {
		name string
		env  map[string]string
		args []string
		want Context
	}{
		{
			name: "elastic launcher coordinator",
			env:  map[string]string{EnvLocalRank: "0", EnvWorldSize: "16"},
			want: Context{Tier: TierElastic, Coordinator: true, WorldSize: 16, HasSiblings: true},
		},
		{
			name: "elastic launcher subordinate",
			env:  map[string]string{EnvLocalRank: "3", EnvWorldSize: "16"},
			want: Context{Tier: TierElastic, Coordinator: false, WorldSize: 16, HasSiblings: true},
		},
		{
			name: "legacy flag coordinator",
			env:  map[string]string{EnvWorldSize: "8"},
			args: []string{"--local_rank", "0"},
			want: Context{Tier: TierLegacy, Coordinator: true, WorldSize: 8, HasSiblings: true},
		},
		{
			name: "legacy flag with equals sign",
			env:  map[string]string{EnvWorldSize: "8"},
			args: []string{"train.py", "--local_rank=2", "--epochs", "90"},
			want: Context{Tier: TierLegacy, Coordinator: false, WorldSize: 8, HasSiblings: true},
		},
		{
			name: "no launcher",
			env:  map[string]string{},
			want: Context{Tier: TierBare, Coordinator: true, WorldSize: 0, HasSiblings: false},
		},
		{
			name: "elastic wins over legacy flag",
			env:  map[string]string{EnvLocalRank: "1", EnvWorldSize: "4"},
			args: []string{"--local_rank", "0"},
			want: Context{Tier: TierElastic, Coordinator: false, WorldSize: 4, HasSiblings: true},
		},
		{
			name: "unparseable legacy flag falls through to bare",
			env:  map[string]string{},
			args: []string{"--local_rank", "zero"},
			want: Context{Tier: TierBare, Coordinator: true, WorldSize: 0, HasSiblings: false},
		},
		{
			name: "dangling legacy flag falls through to bare",
			env:  map[string]string{},
			args: []string{"--local_rank"},
			want: Context{Tier: TierBare, Coordinator: true, WorldSize: 0, HasSiblings: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(envFrom(tt.env), tt.args, logger)
			if err != nil {
				t.Fatalf("Detect failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Detect() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDetectManagedTierRequiresWorldSize(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)

	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{
			name: "elastic without WORLD_SIZE",
			env:  map[string]string{EnvLocalRank: "0"},
		},
		{
			name: "elastic with garbage WORLD_SIZE",
			env:  map[string]string{EnvLocalRank: "0", EnvWorldSize: "many"},
		},
		{
			name: "legacy without WORLD_SIZE",
			env:  map[string]string{},
			args: []string{"--local_rank", "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Detect(envFrom(tt.env), tt.args, logger); err == nil {
				t.Error("Detect accepted a managed tier without a usable WORLD_SIZE")
			}
		})
	}
}
