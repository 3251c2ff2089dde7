package muted

import (
	"strings"

	"go.uber.org/zap"
)

// Checker reports whether a sender's domain has been muted by the operator.
// Mail from muted domains is ignored without a reasoning-service call.
type Checker struct {
	domains []string
	logger  *zap.Logger
}

// NewChecker creates a new muted-domain checker
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	normalizedDomains := make([]string, len(domains))
	for i, domain := range domains {
		normalizedDomains[i] = strings.ToLower(strings.TrimSpace(domain))
	}

	if len(normalizedDomains) > 0 && logger != nil {
		logger.Info("Initialized muted-domain checker", zap.Strings("domains", normalizedDomains))
	}

	return &Checker{
		domains: normalizedDomains,
		logger:  logger,
	}
}

// IsMuted checks if the sender's domain is muted
func (c *Checker) IsMuted(from string) bool {
	if len(c.domains) == 0 {
		return false
	}

	parts := strings.Split(from, "@")
	if len(parts) != 2 {
		return false
	}
	domain := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(parts[1]), ">"))

	for _, muted := range c.domains {
		if muted == domain {
			if c.logger != nil {
				c.logger.Debug("Sender domain is muted",
					zap.String("domain", domain),
					zap.String("email", from))
			}
			return true
		}
	}

	return false
}
