package cryptokernel

import (
	"runtime"

	"github.com/cloud10922/zkim/internal/config"
	"golang.org/x/sys/cpu"
)

// HasAESHardwareSupport reports whether the CPU exposes AES hardware
// acceleration. XChaCha20-Poly1305 doesn't need it, but the kernel still
// reports it so operators can tell whether a software fallback to
// AES-based primitives would be accelerated.
func HasAESHardwareSupport() bool {
	switch runtime.GOARCH {
	case "amd64", "386":
		return cpu.X86.HasAES
	case "arm64":
		return cpu.ARM64.HasAES
	case "s390x":
		return cpu.S390X.HasAES
	default:
		return false
	}
}

// IsHardwareAccelerationEnabled checks if hardware acceleration is supported
// AND enabled in config.
func IsHardwareAccelerationEnabled(cfg config.HardwareConfig) bool {
	if !HasAESHardwareSupport() {
		return false
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		return cfg.EnableAESNI
	case "arm64":
		return cfg.EnableARMv8AES
	default:
		return true
	}
}

// HardwareInfo returns diagnostic information logged once at kernel init.
func HardwareInfo(cfg *config.HardwareConfig) map[string]interface{} {
	info := map[string]interface{}{
		"aes_hardware_support": HasAESHardwareSupport(),
		"architecture":         runtime.GOARCH,
		"goos":                 runtime.GOOS,
		"go_version":           runtime.Version(),
	}
	if cfg != nil {
		info["hardware_acceleration_active"] = IsHardwareAccelerationEnabled(*cfg)
	}
	return info
}
