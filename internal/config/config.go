// Package config handles configuration loading, validation, and management for shieldd.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Probes configuration for local evidence collection.
	Probes ProbesConfig `toml:"probes" json:"probes" yaml:"probes"`

	// Risk scoring weights per finding category.
	Risk RiskConfig `toml:"risk" json:"risk" yaml:"risk"`

	// Attestation oracle and verifier endpoints.
	Attestation AttestationConfig `toml:"attestation" json:"attestation" yaml:"attestation"`

	// Auth gate configuration (threshold, lockout escalation).
	Auth AuthConfig `toml:"auth" json:"auth" yaml:"auth"`

	// Ledger persistence configuration.
	Ledger LedgerConfig `toml:"ledger" json:"ledger" yaml:"ledger"`

	// Keystore configuration for the platform-protected master secret.
	Keystore KeystoreConfig `toml:"keystore" json:"keystore" yaml:"keystore"`

	// Watch configuration for probe-path monitoring.
	Watch WatchConfig `toml:"watch" json:"watch" yaml:"watch"`

	// Check configuration for the evaluation loop.
	Check CheckConfig `toml:"check" json:"check" yaml:"check"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// ProbesConfig holds the tables driving local evidence collection.
// The defaults mirror well-known root tooling locations; deployments
// are expected to extend them.
type ProbesConfig struct {
	// RootFilePaths are filesystem paths whose existence indicates root tooling.
	RootFilePaths []string `toml:"root_file_paths" json:"root_file_paths" yaml:"root_file_paths"`

	// KernelRootPaths are paths specific to kernel-level root implants.
	KernelRootPaths []string `toml:"kernel_root_paths" json:"kernel_root_paths" yaml:"kernel_root_paths"`

	// RootPackages are root-management package identifiers.
	RootPackages []string `toml:"root_packages" json:"root_packages" yaml:"root_packages"`

	// PackageDirs are directories scanned for installed package markers.
	PackageDirs []string `toml:"package_dirs" json:"package_dirs" yaml:"package_dirs"`

	// BuildPropPaths are property files parsed for dangerous flags.
	BuildPropPaths []string `toml:"build_prop_paths" json:"build_prop_paths" yaml:"build_prop_paths"`

	// DangerousProps are exact key=value pairs that mark an insecure build.
	DangerousProps []string `toml:"dangerous_props" json:"dangerous_props" yaml:"dangerous_props"`

	// TestKeyTags flag a build signed with test keys when found in the
	// build tags property.
	TestKeyTags []string `toml:"test_key_tags" json:"test_key_tags" yaml:"test_key_tags"`

	// CertPath is the signing certificate whose fingerprint is checked.
	// Empty disables the probe.
	CertPath string `toml:"cert_path" json:"cert_path" yaml:"cert_path"`

	// ExpectedCertSHA256 is the expected certificate fingerprint (hex).
	ExpectedCertSHA256 string `toml:"expected_cert_sha256" json:"expected_cert_sha256" yaml:"expected_cert_sha256"`

	// ExpectedBinarySHA256 is the expected checksum of the running binary
	// (hex). Empty disables the probe.
	ExpectedBinarySHA256 string `toml:"expected_binary_sha256" json:"expected_binary_sha256" yaml:"expected_binary_sha256"`
}

// RiskConfig holds the scoring weight for each finding category.
// The weights are deployment policy, not code.
type RiskConfig struct {
	FileWeight        int `toml:"file_weight" json:"file_weight" yaml:"file_weight"`
	PackageWeight     int `toml:"package_weight" json:"package_weight" yaml:"package_weight"`
	PropertyWeight    int `toml:"property_weight" json:"property_weight" yaml:"property_weight"`
	KernelRootWeight  int `toml:"kernel_root_weight" json:"kernel_root_weight" yaml:"kernel_root_weight"`
	CertWeight        int `toml:"cert_weight" json:"cert_weight" yaml:"cert_weight"`
	ChecksumWeight    int `toml:"checksum_weight" json:"checksum_weight" yaml:"checksum_weight"`
	TokenAbsentWeight int `toml:"token_absent_weight" json:"token_absent_weight" yaml:"token_absent_weight"`
}

// AttestationConfig holds the remote endpoints.
type AttestationConfig struct {
	// OracleURL is the integrity token issuance endpoint.
	OracleURL string `toml:"oracle_url" json:"oracle_url" yaml:"oracle_url"`

	// VerifierURL receives encrypted anomaly blobs.
	VerifierURL string `toml:"verifier_url" json:"verifier_url" yaml:"verifier_url"`

	// VerifierPublicKey is the verifier's X25519 public key (base64).
	VerifierPublicKey string `toml:"verifier_public_key" json:"verifier_public_key" yaml:"verifier_public_key"`

	// TimeoutSec bounds each oracle/verifier request.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// LockoutTier maps a failed-attempt count to a cooldown duration.
type LockoutTier struct {
	// MinAttempts is the cumulative failure count at which this tier applies.
	MinAttempts int `toml:"min_attempts" json:"min_attempts" yaml:"min_attempts"`

	// DurationSec is the cooldown for this tier.
	DurationSec int `toml:"duration_sec" json:"duration_sec" yaml:"duration_sec"`
}

// Duration returns the tier cooldown as a time.Duration.
func (t LockoutTier) Duration() time.Duration {
	return time.Duration(t.DurationSec) * time.Second
}

// AuthConfig holds authentication gate configuration.
type AuthConfig struct {
	// MaxAttempts is the recoverable-failure threshold before lockout.
	MaxAttempts int `toml:"max_attempts" json:"max_attempts" yaml:"max_attempts"`

	// LockoutTiers is the escalation table, ordered by MinAttempts.
	LockoutTiers []LockoutTier `toml:"lockout_tiers" json:"lockout_tiers" yaml:"lockout_tiers"`

	// Verifier selects the credential backend: "fprintd", "passphrase", "none".
	Verifier string `toml:"verifier" json:"verifier" yaml:"verifier"`

	// PassphraseSHA256 is the hex digest the passphrase verifier compares
	// against (constant time).
	PassphraseSHA256 string `toml:"passphrase_sha256" json:"passphrase_sha256" yaml:"passphrase_sha256"`

	// ValiditySec is the post-authentication freshness window before the
	// ledger key must be re-derived.
	ValiditySec int `toml:"validity_sec" json:"validity_sec" yaml:"validity_sec"`
}

// LedgerConfig holds persistence configuration.
type LedgerConfig struct {
	// Path is the path to the ledger database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// KeystoreConfig holds the platform key store configuration.
type KeystoreConfig struct {
	// Provider selects the backend: "auto", "tpm", or "software".
	Provider string `toml:"provider" json:"provider" yaml:"provider"`

	// TPMPath is the TPM device path (Linux).
	TPMPath string `toml:"tpm_path" json:"tpm_path" yaml:"tpm_path"`

	// SeedPath is where the software provider keeps its sealed seed.
	SeedPath string `toml:"seed_path" json:"seed_path" yaml:"seed_path"`
}

// WatchConfig holds probe-path monitoring configuration.
type WatchConfig struct {
	// Enabled turns on filesystem-triggered re-evaluation.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Paths are extra directories to monitor beyond the probe tables.
	Paths []string `toml:"paths" json:"paths" yaml:"paths"`

	// DebounceMs is the minimum interval between triggered checks.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`
}

// CheckConfig holds evaluation loop configuration.
type CheckConfig struct {
	// IntervalSec is the periodic re-evaluation interval in daemon mode.
	// Zero disables the timer; checks then run only on demand or on
	// watcher triggers.
	IntervalSec int `toml:"interval_sec" json:"interval_sec" yaml:"interval_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Probes: ProbesConfig{
			RootFilePaths: []string{
				"/system/app/Superuser.apk",
				"/system/app/SuperSU.apk",
				"/system/xbin/su",
				"/system/xbin/daemonsu",
				"/system/xbin/busybox",
				"/system/bin/su",
				"/system/bin/.ext",
				"/system/bin/failsafe/su",
				"/system/sd/xbin/su",
				"/system/usr/we-need-root/su",
				"/system/usr/su",
				"/sbin/su",
				"/vendor/bin/su",
				"/cache/su",
				"/data/local/su",
				"/data/local/xbin/su",
				"/data/local/bin/su",
				"/dev/su",
				"/su/bin/su",
			},
			KernelRootPaths: []string{
				"/sbin/.magisk",
				"/sbin/.core/img",
				"/data/adb/magisk",
				"/data/adb/ksu",
				"/data/adb/ap",
			},
			RootPackages: []string{
				"com.topjohnwu.magisk",
				"com.noshufou.android.su",
				"eu.chainfire.supersu",
				"me.phh.superuser",
				"com.koushikdutta.superuser",
			},
			PackageDirs: []string{
				"/data/app",
				"/data/data",
			},
			BuildPropPaths: []string{
				"/system/build.prop",
				"/vendor/build.prop",
			},
			DangerousProps: []string{
				"ro.debuggable=1",
				"ro.secure=0",
			},
			TestKeyTags: []string{"test-keys"},
		},
		Risk: RiskConfig{
			FileWeight:        40,
			PackageWeight:     25,
			PropertyWeight:    30,
			KernelRootWeight:  20,
			CertWeight:        50,
			ChecksumWeight:    50,
			TokenAbsentWeight: 10,
		},
		Attestation: AttestationConfig{
			TimeoutSec: 15,
		},
		Auth: AuthConfig{
			MaxAttempts: 5,
			LockoutTiers: []LockoutTier{
				{MinAttempts: 5, DurationSec: 30},
				{MinAttempts: 6, DurationSec: 60},
				{MinAttempts: 7, DurationSec: 300},
				{MinAttempts: 8, DurationSec: 1800},
			},
			Verifier:    defaultVerifier(),
			ValiditySec: 30,
		},
		Ledger: LedgerConfig{
			Path:          filepath.Join(dir, "ledger.db"),
			BusyTimeoutMs: 5000,
		},
		Keystore: KeystoreConfig{
			Provider: "auto",
			TPMPath:  defaultTPMPath(),
			SeedPath: filepath.Join(dir, "master.seed"),
		},
		Watch: WatchConfig{
			Enabled:    false,
			DebounceMs: 5000,
		},
		Check: CheckConfig{
			IntervalSec: 0,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "shieldd.log"),
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// DataDir returns the base shieldd directory.
// SHIELDD_DATA_DIR overrides the platform default.
func DataDir() string {
	if envDir := os.Getenv("SHIELDD_DATA_DIR"); envDir != "" {
		return envDir
	}

	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Application Support", "shieldd")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "shieldd")
	default:
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			homeDir, _ := os.UserHomeDir()
			dataHome = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataHome, "shieldd")
	}
}

// ApplyEnvOverrides applies SHIELDD_* environment overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("SHIELDD_LEDGER_PATH"); v != "" {
		c.Ledger.Path = v
	}
	if v := os.Getenv("SHIELDD_ORACLE_URL"); v != "" {
		c.Attestation.OracleURL = v
	}
	if v := os.Getenv("SHIELDD_VERIFIER_URL"); v != "" {
		c.Attestation.VerifierURL = v
	}
	if v := os.Getenv("SHIELDD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SHIELDD_TPM_PATH"); v != "" {
		c.Keystore.TPMPath = v
	}
	if v := os.Getenv("SHIELDD_PASSPHRASE_SHA256"); v != "" {
		c.Auth.PassphraseSHA256 = v
	}
}

// EnsureDirectories creates all directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Ledger.Path),
		filepath.Dir(c.Keystore.SeedPath),
		filepath.Dir(c.Logging.FilePath),
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	return nil
}

func defaultTPMPath() string {
	if runtime.GOOS != "linux" {
		return ""
	}
	// Prefer the kernel resource manager.
	if _, err := os.Stat("/dev/tpmrm0"); err == nil {
		return "/dev/tpmrm0"
	}
	return "/dev/tpm0"
}

func defaultVerifier() string {
	if runtime.GOOS == "linux" {
		return "fprintd"
	}
	return "passphrase"
}
