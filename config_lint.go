package apiguard

import (
	"fmt"
	"strings"
	"time"
)

// LintSeverity ranks configuration warnings.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is one finding of Config.Lint. Code is stable.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of findings.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	codes := make([]string, 0, len(r))
	for _, w := range r {
		codes = append(codes, w.Code)
	}
	return codes
}

// BySeverity returns the findings at or above threshold.
func (r LintResult) BySeverity(threshold LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= threshold {
			out = append(out, w)
		}
	}
	return out
}

// AsError folds the findings at or above threshold into one error, or returns nil.
func (r LintResult) AsError(threshold LintSeverity) error {
	selected := r.BySeverity(threshold)
	if len(selected) == 0 {
		return nil
	}
	parts := make([]string, 0, len(selected))
	for _, w := range selected {
		parts = append(parts, fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message))
	}
	return fmt.Errorf("config lint: %s", strings.Join(parts, "; "))
}

const (
	lintMinBcryptCost       = 10
	lintHighBcryptCost      = 8
	lintMinPrefixLength     = 6
	lintMinArgon2MemoryKB   = 64 * 1024
	lintMaxBackendTimeout   = 5 * time.Second
	lintMaxMemoryWindowSpan = 24 * time.Hour
)

// Lint reports settings that are valid but risky. It assumes Validate passed.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	switch c.Hashing.Algorithm {
	case HashBcrypt:
		if c.Hashing.BcryptCost < lintHighBcryptCost {
			add("bcrypt_cost_low", LintHigh, fmt.Sprintf("bcrypt cost %d makes stolen hashes cheap to brute force", c.Hashing.BcryptCost))
		} else if c.Hashing.BcryptCost < lintMinBcryptCost {
			add("bcrypt_cost_low", LintWarn, fmt.Sprintf("bcrypt cost %d is below %d", c.Hashing.BcryptCost, lintMinBcryptCost))
		}
	case HashArgon2id:
		if c.Hashing.Argon2.Memory < lintMinArgon2MemoryKB {
			add("argon2_memory_low", LintWarn, fmt.Sprintf("argon2 memory %d KB is below %d KB", c.Hashing.Argon2.Memory, lintMinArgon2MemoryKB))
		}
	}

	if c.Credential.PrefixLength < lintMinPrefixLength {
		add("prefix_short", LintWarn, fmt.Sprintf("prefix length %d widens candidate sets; each candidate costs one hash verification", c.Credential.PrefixLength))
	}

	if c.RateLimit.Backend == BackendMemory {
		add("limiter_memory", LintInfo, "memory limiter state is not shared between gatekeeper instances")
		if c.RateLimit.Window > lintMaxMemoryWindowSpan {
			add("limiter_memory_window_long", LintWarn, "memory limiter keeps every marker of a window longer than 24h")
		}
		if c.RateLimit.SweepInterval == 0 {
			add("limiter_sweep_disabled", LintWarn, "idle memory limiter entries are never reclaimed")
		}
	}

	if c.Gatekeeper.BackendTimeout > lintMaxBackendTimeout {
		add("backend_timeout_long", LintWarn, fmt.Sprintf("requests may wait %s before failing closed", c.Gatekeeper.BackendTimeout))
	}

	if !c.Throttle.Enabled {
		add("throttle_disabled", LintInfo, "invalid keys are not throttled per client")
	} else if c.Throttle.Backend == BackendMemory {
		add("throttle_memory", LintInfo, "throttle counters are not shared between gatekeeper instances")
	}

	if !c.LastUsed.Enabled {
		add("last_used_disabled", LintInfo, "key last-used timestamps are not recorded")
	}

	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "audit events are not emitted")
	}

	return ws
}
