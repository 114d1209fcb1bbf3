package adlb

import "testing"

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{
		"ADLB_SERVERS", "ADLB_PRINT_TIME", "TURBINE_CACHE_MAX", "TURBINE_CACHE_SIZE",
		"GDB_RANK", "VALGRIND", "TURBINE_STDOUT",
	} {
		t.Setenv(k, "")
	}

	cfg := FromEnv()
	if cfg.NumServers != 1 {
		t.Errorf("NumServers = %d, want 1", cfg.NumServers)
	}
	if cfg.CacheEntries != DefaultCacheEntries {
		t.Errorf("CacheEntries = %d, want %d", cfg.CacheEntries, DefaultCacheEntries)
	}
	if cfg.CacheBytes != DefaultCacheBytes {
		t.Errorf("CacheBytes = %d, want %d", cfg.CacheBytes, DefaultCacheBytes)
	}
	if cfg.HasGDBRank {
		t.Errorf("HasGDBRank = true, want false")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ADLB_SERVERS", "4")
	t.Setenv("ADLB_PRINT_TIME", "true")
	t.Setenv("TURBINE_CACHE_MAX", "256")
	t.Setenv("TURBINE_CACHE_SIZE", "1048576")
	t.Setenv("GDB_RANK", "2")
	t.Setenv("VALGRIND", "1")
	t.Setenv("TURBINE_STDOUT", "/tmp/out-%r")

	cfg := FromEnv()
	if cfg.NumServers != 4 {
		t.Errorf("NumServers = %d, want 4", cfg.NumServers)
	}
	if !cfg.PrintTime {
		t.Errorf("PrintTime = false, want true")
	}
	if cfg.CacheEntries != 256 {
		t.Errorf("CacheEntries = %d, want 256", cfg.CacheEntries)
	}
	if cfg.CacheBytes != 1048576 {
		t.Errorf("CacheBytes = %d, want 1048576", cfg.CacheBytes)
	}
	if !cfg.HasGDBRank || cfg.GDBRank != 2 {
		t.Errorf("GDBRank = %d (has=%v), want 2 (has=true)", cfg.GDBRank, cfg.HasGDBRank)
	}
	if !cfg.Valgrind {
		t.Errorf("Valgrind = false, want true")
	}
	if cfg.StdoutPath != "/tmp/out-%r" {
		t.Errorf("StdoutPath = %q", cfg.StdoutPath)
	}
}
