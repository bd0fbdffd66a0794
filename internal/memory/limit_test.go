package memory

import (
	"errors"
	"math"
	"os"
	"testing"
)

type fakeEnv struct {
	vars    map[string]string
	cgroup  string
	current int64
	set     []int64
}

func (f *fakeEnv) env() env {
	return env{
		getenv: func(k string) string { return f.vars[k] },
		readCgroup: func() ([]byte, error) {
			if f.cgroup == "" {
				return nil, os.ErrNotExist
			}
			return []byte(f.cgroup), nil
		},
		setLimit: func(n int64) int64 {
			prev := f.current
			if n >= 0 {
				f.set = append(f.set, n)
				f.current = n
			}
			return prev
		},
	}
}

func TestConfigure(t *testing.T) {
	tests := []struct {
		name       string
		vars       map[string]string
		cgroup     string
		current    int64
		wantSource string
		wantLimit  int64
		wantRatio  float64
		wantSet    bool
	}{
		{
			name:       "nothing configured",
			current:    math.MaxInt64,
			wantSource: "none",
		},
		{
			name:       "GOMEMLIMIT wins",
			vars:       map[string]string{"GOMEMLIMIT": "500MiB", "MEMORY_LIMIT": "1073741824"},
			current:    500 << 20,
			wantSource: "GOMEMLIMIT",
			wantLimit:  500 << 20,
		},
		{
			name:       "MEMORY_LIMIT with default ratio",
			vars:       map[string]string{"MEMORY_LIMIT": "1073741824"},
			current:    math.MaxInt64,
			wantSource: "MEMORY_LIMIT",
			wantLimit:  805306368,
			wantRatio:  DefaultMemoryRatio,
			wantSet:    true,
		},
		{
			name:       "custom ratio",
			vars:       map[string]string{"MEMORY_LIMIT": "1000", "MEMORY_RATIO": "0.5"},
			current:    math.MaxInt64,
			wantSource: "MEMORY_LIMIT",
			wantLimit:  500,
			wantRatio:  0.5,
			wantSet:    true,
		},
		{
			name:       "out of range ratio falls back",
			vars:       map[string]string{"MEMORY_LIMIT": "1000", "MEMORY_RATIO": "1.5"},
			current:    math.MaxInt64,
			wantSource: "MEMORY_LIMIT",
			wantLimit:  750,
			wantRatio:  DefaultMemoryRatio,
			wantSet:    true,
		},
		{
			name:       "invalid MEMORY_LIMIT ignored",
			vars:       map[string]string{"MEMORY_LIMIT": "lots"},
			cgroup:     "2048\n",
			current:    math.MaxInt64,
			wantSource: "none",
		},
		{
			name:       "cgroup limit",
			cgroup:     "2048\n",
			current:    math.MaxInt64,
			wantSource: "cgroup",
			wantLimit:  1536,
			wantRatio:  DefaultMemoryRatio,
			wantSet:    true,
		},
		{
			name:       "unlimited cgroup",
			cgroup:     "max\n",
			current:    math.MaxInt64,
			wantSource: "none",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeEnv{vars: tt.vars, cgroup: tt.cgroup, current: tt.current}
			res := configure(f.env())

			if res.Source != tt.wantSource {
				t.Errorf("Expected source %q, got %q", tt.wantSource, res.Source)
			}
			if res.GoMemLimit != tt.wantLimit {
				t.Errorf("Expected limit %d, got %d", tt.wantLimit, res.GoMemLimit)
			}
			if res.Ratio != tt.wantRatio {
				t.Errorf("Expected ratio %v, got %v", tt.wantRatio, res.Ratio)
			}
			if res.Configured != (tt.wantLimit > 0) {
				t.Errorf("Expected configured=%v, got %v", tt.wantLimit > 0, res.Configured)
			}
			if tt.wantSet != (len(f.set) == 1) {
				t.Errorf("Expected limit set=%v, got %v", tt.wantSet, f.set)
			}
			if tt.wantSet && f.set[0] != tt.wantLimit {
				t.Errorf("Expected SetMemoryLimit(%d), got %d", tt.wantLimit, f.set[0])
			}
		})
	}
}

func TestContainerLimitCgroupError(t *testing.T) {
	e := env{
		getenv:     func(string) string { return "" },
		readCgroup: func() ([]byte, error) { return nil, errors.New("permission denied") },
	}
	if n, src := containerLimit(e); n != 0 || src != "" {
		t.Errorf("Expected no limit, got %d from %q", n, src)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1 << 20, "1.0 MiB"},
		{805306368, "768.0 MiB"},
		{1 << 30, "1.0 GiB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
