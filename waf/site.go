package waf

import "time"

// WAFMode selects how matched block rules are treated for a site.
type WAFMode string

// Modes available per site.
const (
	WAFModeProtection  WAFMode = "protection"  // matched block rules reject traffic
	WAFModeObservation WAFMode = "observation" // matches are logged, never block
)

// IsValidWAFMode reports whether mode is one of the known modes.
func IsValidWAFMode(mode WAFMode) bool {
	return mode == WAFModeProtection || mode == WAFModeObservation
}

// DefaultWAFMode is the mode assigned to sites that do not specify one.
func DefaultWAFMode() WAFMode { return WAFModeObservation }

// Site is read-only configuration describing one protected site. It is
// created and updated by the admin console; the engine only consumes it.
type Site struct {
	Name         string      `yaml:"name" json:"name"`
	Domain       string      `yaml:"domain" json:"domain"`
	ListenPort   int         `yaml:"listenPort" json:"listenPort"`
	EnableHTTPS  bool        `yaml:"enableHTTPS" json:"enableHTTPS"`
	Certificate  Certificate `yaml:"certificate,omitempty" json:"certificate,omitempty"`
	Backend      Backend     `yaml:"backend" json:"backend"`
	WAFEnabled   bool        `yaml:"wafEnabled" json:"wafEnabled"`
	WAFMode      WAFMode     `yaml:"wafMode" json:"wafMode"`
	ActiveStatus bool        `yaml:"activeStatus" json:"activeStatus"`
	CreatedAt    time.Time   `yaml:"-" json:"createdAt,omitempty"`
	UpdatedAt    time.Time   `yaml:"-" json:"updatedAt,omitempty"`
}

// Certificate is the TLS material bound to a site.
type Certificate struct {
	CertName    string    `yaml:"certName" json:"certName"`
	PublicKey   string    `yaml:"publicKey" json:"publicKey"`
	PrivateKey  string    `yaml:"privateKey" json:"privateKey"`
	ExpireDate  time.Time `yaml:"-" json:"expireDate,omitempty"`
	IssuerName  string    `yaml:"issuerName,omitempty" json:"issuerName,omitempty"`
	FingerPrint string    `yaml:"fingerPrint,omitempty" json:"fingerPrint,omitempty"`
}

// Backend is the server pool a site proxies to.
type Backend struct {
	Name    string   `yaml:"name" json:"name"`
	Servers []Server `yaml:"servers" json:"servers"`
}

// Server is a single upstream in a backend pool.
type Server struct {
	Name   string `yaml:"name" json:"name"`
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Weight int    `yaml:"weight" json:"weight"`
	IsSSL  bool   `yaml:"isSSL" json:"isSSL"`
}
