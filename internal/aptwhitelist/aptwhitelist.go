// Package aptwhitelist implements spec §4.10's SYSDEPS tiered apt
// package whitelist. Grounded on
// original_source/rfsn_controller/apt_whitelist.py, ported
// tier-for-tier.
package aptwhitelist

import "strings"

// Tier is an ordered apt package tier, 0 (core essentials) through 7
// (networking libs).
type Tier int

const (
	Tier0 Tier = iota
	Tier1
	Tier2
	Tier3
	Tier4
	Tier5
	Tier6
	Tier7
)

var tierPackages = map[Tier][]string{
	Tier0: {"build-essential", "pkg-config", "git", "ca-certificates", "python3", "python3-dev", "python3-venv", "python3-pip", "gcc", "g++", "make", "cmake", "ninja-build"},
	Tier1: {"libssl-dev", "libffi-dev", "zlib1g-dev", "libbz2-dev", "liblzma-dev"},
	Tier2: {"libpq-dev", "default-libmysqlclient-dev", "libsqlite3-dev"},
	Tier3: {"libxml2-dev", "libxslt1-dev", "libyaml-dev"},
	Tier4: {"libjpeg-dev", "libpng-dev", "libfreetype6-dev", "libwebp-dev", "libtiff5-dev", "libopenjp2-7-dev"},
	Tier5: {"libsasl2-dev", "libldap2-dev", "libkrb5-dev"},
	Tier6: {"gfortran", "libblas-dev", "liblapack-dev"},
	Tier7: {"libcurl4-openssl-dev"},
}

// ForbiddenPackages are never allowed regardless of tier or custom set:
// services, daemons, and privilege-escalation tools.
var ForbiddenPackages = map[string]bool{
	"postgresql": true, "redis-server": true, "mysql-server": true,
	"docker.io": true, "openssh-server": true, "nginx": true, "apache2": true,
	"snapd": true, "systemd": true, "iptables": true, "ufw": true, "sudo": true,
}

// Whitelist is a configured apt package whitelist.
type Whitelist struct {
	MaxPackages    int
	MaxTier        Tier
	AllowWildcards bool
	allowed        map[string]bool
}

// New builds a whitelist covering tiers 0..maxTier, plus any
// customPackages (e.g. a buildpack's own sysdeps list) merged in.
func New(maxPackages int, maxTier Tier, allowWildcards bool, customPackages []string) *Whitelist {
	w := &Whitelist{MaxPackages: maxPackages, MaxTier: maxTier, AllowWildcards: allowWildcards, allowed: make(map[string]bool)}
	for tier := Tier0; tier <= maxTier; tier++ {
		for _, p := range tierPackages[tier] {
			w.allowed[p] = true
		}
	}
	for _, p := range customPackages {
		w.allowed[p] = true
	}
	return w
}

// IsAllowed reports whether package may be installed.
func (w *Whitelist) IsAllowed(pkg string) bool {
	if ForbiddenPackages[pkg] {
		return false
	}
	if strings.Contains(pkg, "*") {
		if !w.AllowWildcards {
			return false
		}
		base := strings.ReplaceAll(pkg, "*", "")
		for p := range w.allowed {
			if strings.HasPrefix(p, base) {
				return true
			}
		}
		return false
	}
	return w.allowed[pkg]
}

// FilterAllowed splits packages into allowed and blocked.
func (w *Whitelist) FilterAllowed(packages []string) (allowed, blocked []string) {
	for _, p := range packages {
		if w.IsAllowed(p) {
			allowed = append(allowed, p)
		} else {
			blocked = append(blocked, p)
		}
	}
	return allowed, blocked
}

// CheckWithinLimits reports whether len(packages) <= MaxPackages.
func (w *Whitelist) CheckWithinLimits(packages []string) bool {
	return len(packages) <= w.MaxPackages
}

// DefaultWhitelist covers tier 0-4, max 10 packages.
func DefaultWhitelist() *Whitelist { return New(10, Tier4, false, nil) }

// ConservativeWhitelist covers tier 0-2, max 5 packages.
func ConservativeWhitelist() *Whitelist { return New(5, Tier2, false, nil) }

// PermissiveWhitelist covers tier 0-7, max 20 packages.
func PermissiveWhitelist() *Whitelist { return New(20, Tier7, false, nil) }
