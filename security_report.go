package apiguard

import "time"

// SecurityReport summarizes the security-relevant settings of a running
// engine. It never includes secrets.
type SecurityReport struct {
	CredentialTag    string
	Environments     []string
	PayloadBytes     int
	PrefixLength     int
	HashAlgorithm    HashAlgorithm
	BcryptCost       int
	Argon2           HashConfigReport
	Window           time.Duration
	LimiterBackend   LimiterBackend
	BackendTimeout   time.Duration
	ThrottleEnabled  bool
	ThrottleBackend  LimiterBackend
	LastUsedEnabled  bool
	AuditEnabled     bool
	MetricsEnabled   bool
	LintHighFindings int
}

type HashConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config

	report := SecurityReport{
		CredentialTag:   cfg.Credential.Tag,
		Environments:    append([]string(nil), cfg.Credential.Environments...),
		PayloadBytes:    cfg.Credential.PayloadBytes,
		PrefixLength:    cfg.Credential.PrefixLength,
		HashAlgorithm:   cfg.Hashing.Algorithm,
		Window:          cfg.RateLimit.Window,
		LimiterBackend:  cfg.RateLimit.Backend,
		BackendTimeout:  cfg.Gatekeeper.BackendTimeout,
		ThrottleEnabled: cfg.Throttle.Enabled,
		LastUsedEnabled: cfg.LastUsed.Enabled,
		AuditEnabled:    cfg.Audit.Enabled,
		MetricsEnabled:  cfg.Metrics.Enabled,
	}
	switch cfg.Hashing.Algorithm {
	case HashArgon2id:
		report.Argon2 = HashConfigReport{
			Memory:      cfg.Hashing.Argon2.Memory,
			Time:        cfg.Hashing.Argon2.Time,
			Parallelism: cfg.Hashing.Argon2.Parallelism,
			SaltLength:  cfg.Hashing.Argon2.SaltLength,
			KeyLength:   cfg.Hashing.Argon2.KeyLength,
		}
	default:
		report.BcryptCost = cfg.Hashing.BcryptCost
	}
	if cfg.Throttle.Enabled {
		report.ThrottleBackend = cfg.Throttle.Backend
	}
	report.LintHighFindings = len(cfg.Lint().BySeverity(LintHigh))
	return report
}
