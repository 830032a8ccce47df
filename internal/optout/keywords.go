package optout

import (
	"regexp"
	"strings"
)

// Detector classifies inbound message bodies as opt-out, opt-in, or
// neither, generalized to the tenant base's Portuguese-speaking recipients
// rather than the English STOP/HELP/START vocabulary the keyword detection
// pattern was originally built for.
type Detector struct {
	stopRegex  *regexp.Regexp
	startRegex *regexp.Regexp
}

// NewDetector returns a keyword detector with the default Portuguese
// opt-out/opt-in vocabulary.
func NewDetector() *Detector {
	return &Detector{
		stopRegex:  regexp.MustCompile(`(?i)^\s*(parar|pare|stop|sair|cancelar|nao|não|remover)\b`),
		startRegex: regexp.MustCompile(`(?i)^\s*(voltar|reativar|sim[\s_,]*quero[\s_]*receber)\b`),
	}
}

// IsOptOut reports whether body contains an opt-out keyword.
func (d *Detector) IsOptOut(body string) bool {
	if d == nil || d.stopRegex == nil {
		return false
	}
	return d.stopRegex.MatchString(strings.TrimSpace(body))
}

// IsOptIn reports whether body contains an opt-in keyword.
func (d *Detector) IsOptIn(body string) bool {
	if d == nil || d.startRegex == nil {
		return false
	}
	return d.startRegex.MatchString(strings.TrimSpace(body))
}
