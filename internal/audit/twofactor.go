package audit

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"golang.org/x/net/publicsuffix"
	"gopkg.in/yaml.v3"
)

//go:embed twofactor.yaml
var twoFactorYAML []byte

// TwoFactorDirectory is a static allow-list of registrable domains known to
// support second-factor authentication.
type TwoFactorDirectory struct {
	domains map[string]struct{}
}

type twoFactorFile struct {
	Domains []string `yaml:"domains"`
}

// ParseTwoFactorDirectory reads a YAML document with a "domains" list.
func ParseTwoFactorDirectory(data []byte) (*TwoFactorDirectory, error) {
	var f twoFactorFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse two-factor directory: %w", err)
	}
	d := &TwoFactorDirectory{domains: make(map[string]struct{}, len(f.Domains))}
	for _, name := range f.Domains {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			d.domains[name] = struct{}{}
		}
	}
	return d, nil
}

// DefaultTwoFactorDirectory returns the built-in directory.
func DefaultTwoFactorDirectory() *TwoFactorDirectory {
	d, err := ParseTwoFactorDirectory(twoFactorYAML)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *TwoFactorDirectory) Len() int { return len(d.domains) }

// Supports reports whether the registrable domain is listed.
func (d *TwoFactorDirectory) Supports(domain string) bool {
	_, ok := d.domains[strings.ToLower(domain)]
	return ok
}

// RegistrableDomain returns the eTLD+1 of a website, e.g. "google.com" for
// "https://accounts.google.com/signin". IP addresses and bare hosts are
// returned as-is.
func RegistrableDomain(website string) (string, error) {
	host := models.Host(website)
	if host == "" {
		return "", fmt.Errorf("no host in %q", website)
	}
	if !strings.Contains(host, ".") || strings.Trim(host, "0123456789.") == "" {
		return host, nil
	}
	return publicsuffix.EffectiveTLDPlusOne(host)
}
