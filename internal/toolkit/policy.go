package toolkit

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/zeusagent/zeus/internal/infra"
)

// Policy is C2's security gate: a destructive-command blocklist, an
// allowlist-aware shell analyzer, and a file-path whitelist, checked
// before any tool dispatch reaches C1. Mirrors the validate-and-return-reason
// shape of the exec safety validator, scoped here to the checks this
// system's tools need.
type Policy struct {
	AllowedRoots        []string
	DestructivePatterns []string

	// Security selects how strictly shell commands are gated beyond the
	// destructive-pattern blocklist. ExecSecurityFull (the zero value's
	// effective behavior via DefaultPolicy) only enforces the blocklist;
	// ExecSecurityAllowlist additionally requires every pipeline segment
	// to resolve to an allowlisted binary or a recognized safe binary.
	Security  infra.ExecSecurity
	Allowlist []infra.AllowlistEntry
	SafeBins  map[string]bool
}

// DefaultPolicy returns the baseline blocklist: filesystem-wiping and
// fork-bomb shaped commands that no legitimate tool call should ever emit.
func DefaultPolicy() *Policy {
	return &Policy{
		DestructivePatterns: []string{
			"rm -rf /",
			"rm -rf /*",
			"mkfs.",
			":(){:|:&};:",
			"dd if=/dev/zero of=/dev/",
			"> /dev/sda",
		},
		Security: infra.ExecSecurityFull,
		SafeBins: infra.NormalizeSafeBins(infra.DefaultSafeBins),
	}
}

// Check inspects a tool's raw arguments and returns a non-empty reason if
// the call should be refused. Only tools carrying a "command"/"path" field
// are inspected; other tools pass through untouched.
func (p *Policy) Check(toolName string, args json.RawMessage) string {
	var decoded struct {
		Command string `json:"command"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(args, &decoded); err != nil {
		return ""
	}

	if decoded.Command != "" {
		lowered := strings.ToLower(decoded.Command)
		for _, pattern := range p.DestructivePatterns {
			if strings.Contains(lowered, strings.ToLower(pattern)) {
				return "refused: command matches a destructive pattern"
			}
		}

		if p.Security == infra.ExecSecurityAllowlist {
			analysis := infra.AnalyzeShellCommand(decoded.Command, "")
			if !analysis.OK {
				return "refused: " + analysis.Reason
			}
			eval := infra.EvaluateExecAllowlist(analysis, p.Allowlist, p.SafeBins, "")
			if !eval.Satisfied {
				return "refused: command is not on the allowlist"
			}
		} else if p.Security == infra.ExecSecurityDeny {
			return "refused: shell execution is disabled by policy"
		}
	}

	if decoded.Path != "" && len(p.AllowedRoots) > 0 {
		if !p.pathAllowed(decoded.Path) {
			return "refused: path is outside the allowed data roots"
		}
	}

	return ""
}

func (p *Policy) pathAllowed(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range p.AllowedRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil {
			continue
		}
		if rel == "." || !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}
