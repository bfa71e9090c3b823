// Package commandpolicy implements spec §4.4: a global shell-idiom
// denylist filter plus a per-language argv[0] allowlist, consulted
// before every Executor call. Grounded on
// original_source/rfsn_controller/command_allowlist.py (exact
// allow/deny/flag/metacharacter sets, ported verbatim) and spec §4.4's
// "lexical tokenisation ... conservative regex fallback" requirement,
// realized with github.com/google/shlex.
package commandpolicy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/shlex"
)

// baseAllowed is the cross-language allowlist: version control + safe
// unix utilities, ported from ALLOWED_COMMANDS in command_allowlist.py.
var baseAllowed = map[string]bool{
	"git": true,
	"cat": true, "head": true, "tail": true, "grep": true, "find": true,
	"ls": true, "pwd": true, "echo": true, "mkdir": true, "rm": true,
	"cp": true, "mv": true, "touch": true, "chmod": true, "sed": true,
	"awk": true, "sort": true, "uniq": true, "wc": true, "diff": true,
	"patch": true, "tar": true, "unzip": true, "make": true,
}

// languageAllowed maps a buildpack language key to its additional
// allowlisted argv[0]s, ported from command_allowlist.py's ALLOWED_COMMANDS.
var languageAllowed = map[string]map[string]bool{
	"python": {
		"pytest": true, "python": true, "python3": true, "pip": true,
		"pip3": true, "pipenv": true, "poetry": true, "ruff": true,
		"mypy": true, "black": true, "flake8": true, "pylint": true,
	},
	"node": {
		"node": true, "npm": true, "yarn": true, "pnpm": true, "npx": true,
		"bun": true, "tsc": true, "jest": true, "mocha": true,
		"eslint": true, "prettier": true,
	},
	"rust": {
		"cargo": true, "rustc": true, "rustup": true, "rustfmt": true,
		"clippy": true,
	},
	"go": {
		"go": true, "gofmt": true, "golint": true,
	},
	"java": {
		"mvn": true, "gradle": true, "javac": true, "java": true,
	},
	"dotnet": {
		"dotnet": true,
	},
	"ruby": {
		"ruby": true, "gem": true, "bundle": true, "rake": true, "rspec": true,
	},
}

// blockedCommands is ported verbatim from BLOCKED_COMMANDS.
var blockedCommands = map[string]bool{
	"cd": true, "curl": true, "wget": true, "ssh": true, "scp": true,
	"rsync": true, "nc": true, "netcat": true, "telnet": true, "ftp": true,
	"sftp": true, "sudo": true, "su": true, "docker": true, "kubectl": true,
	"systemctl": true, "service": true, "crontab": true, "at": true,
	"nohup": true, "screen": true, "tmux": true,
}

// blockedFlags is ported verbatim from BLOCKED_FLAGS (substring scan,
// case-insensitive, over the whole command text).
var blockedFlags = []string{
	"--rm", "-rf", "rm -rf", "rm -r", "rm -f",
	"/dev/", "/proc/", "/sys/", "/etc/passwd", "/etc/shadow",
	"~/.ssh", "/.ssh", "id_rsa", "id_ed25519",
	"gemini_api_key", "openai_api_key", "anthropic_api_key",
}

// blockedMetacharacters is ported verbatim from BLOCKED_METACHARACTERS.
var blockedMetacharacters = []string{
	";", "|", "&", ">", "<", "$(", "`", "\n", "\\", "&&", "||",
}

var envAssignRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=\S+\s+`)

// Decision is the result of evaluating a command against the policy.
type Decision struct {
	Allowed bool
	Reason  string
}

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// CheckText applies the global denylist / shell-idiom filter to a raw
// command string, BEFORE argv tokenisation (spec §4.4 layer 1). The
// detector must accept `python -c "print(1 > 0)"` and reject
// `echo hello > out.txt`: once shlex tokenisation succeeds, the raw
// text is metacharacter-scanned while tracking single/double-quote
// state, so a quoted `>` is skipped and an unquoted one is rejected; a
// conservative raw-text scan that ignores quoting is the fallback if
// tokenisation itself fails.
func CheckText(command string) Decision {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return deny("empty command")
	}
	if envAssignRe.MatchString(trimmed) {
		return deny("inline env assignment is blocked")
	}
	if strings.Contains(trimmed, "\n") {
		return deny("embedded newline is blocked")
	}

	tokens, err := shlex.Split(trimmed)
	if err != nil || len(tokens) == 0 {
		// Conservative regex fallback: scan the raw text for any
		// metacharacter at all, quoted or not.
		return checkMetacharactersRaw(trimmed)
	}

	// Only metacharacters outside single- or double-quoted spans of the
	// raw text count; quoted ones are literal arguments.
	if d := checkUnquotedMetacharacters(trimmed, tokens); !d.Allowed {
		return d
	}

	for _, tok := range tokens {
		if tok == "cd" {
			return deny("cd command is blocked - commands run from repo root")
		}
	}

	if len(tokens) > 0 && blockedCommands[tokens[0]] {
		return deny(fmt.Sprintf("command %q is blocked", tokens[0]))
	}

	lower := strings.ToLower(trimmed)
	for _, flag := range blockedFlags {
		if strings.Contains(lower, flag) {
			return deny(fmt.Sprintf("dangerous flag detected: %s", flag))
		}
	}

	sensitiveKeys := []string{"API_KEY", "SECRET", "TOKEN", "PASSWORD"}
	for _, key := range sensitiveKeys {
		if strings.Contains(trimmed, key) &&
			(strings.Contains(lower, "echo") || strings.Contains(lower, "cat") || strings.Contains(lower, "print")) {
			return deny("potential credential exposure blocked")
		}
	}

	return Decision{Allowed: true}
}

// checkUnquotedMetacharacters walks the raw text to find metacharacter
// occurrences, then accepts the occurrence only if it falls outside any
// single-quoted or double-quoted span (replicating a lexer's notion of
// "quoted" without needing shlex to report spans directly).
func checkUnquotedMetacharacters(raw string, tokens []string) Decision {
	inSingle, inDouble := false, false
	runes := []rune(raw)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			continue
		case c == '"' && !inSingle:
			inDouble = !inDouble
			continue
		}
		if inSingle || inDouble {
			continue
		}
		for _, meta := range blockedMetacharacters {
			if meta == "\n" {
				continue // handled separately above
			}
			if strings.HasPrefix(string(runes[i:]), meta) {
				return deny(fmt.Sprintf("shell metacharacter blocked: %q", meta))
			}
		}
	}
	_ = tokens
	return Decision{Allowed: true}
}

func checkMetacharactersRaw(raw string) Decision {
	for _, meta := range blockedMetacharacters {
		if strings.Contains(raw, meta) {
			return deny(fmt.Sprintf("shell metacharacter blocked: %q (tokenisation failed, using conservative fallback)", meta))
		}
	}
	return Decision{Allowed: true}
}

// AllowlistFor returns the combined base+language allowlist. Unknown
// languages fall back to the Python allowlist, matching spec §9's
// recorded-as-is open question (not "fixed").
func AllowlistFor(language string) map[string]bool {
	lang, ok := languageAllowed[strings.ToLower(language)]
	if !ok {
		lang = languageAllowed["python"]
	}
	out := make(map[string]bool, len(baseAllowed)+len(lang))
	for k := range baseAllowed {
		out[k] = true
	}
	for k := range lang {
		out[k] = true
	}
	return out
}

// CheckArgv applies layer 2 (the per-language allowlist) to a tokenized
// argv. Callers must have already passed the raw text through CheckText.
func CheckArgv(argv []string, language string) Decision {
	if len(argv) == 0 {
		return deny("empty command")
	}
	for _, tok := range argv {
		if tok == "cd" {
			return deny("cd command is blocked - commands run from repo root")
		}
	}
	allowlist := AllowlistFor(language)
	if !allowlist[argv[0]] {
		preview := previewAllowed(allowlist, 8)
		return deny(fmt.Sprintf("command %q is not in allowlist (allowed, preview: %s)", argv[0], preview))
	}
	return Decision{Allowed: true}
}

func previewAllowed(allowlist map[string]bool, n int) string {
	names := make([]string, 0, len(allowlist))
	for k := range allowlist {
		names = append(names, k)
	}
	if len(names) > n {
		names = names[:n]
	}
	return strings.Join(names, ", ")
}

// Tokenize exposes the shlex-based tokenizer to callers (Executor,
// ToolGovernor) that need argv from a textual "cmd" tool argument.
func Tokenize(command string) ([]string, error) {
	tokens, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("commandpolicy: tokenize: %w", err)
	}
	return tokens, nil
}

// Check runs both layers: CheckText on the raw command, then CheckArgv
// on its tokenisation, for the given language. This is the single entry
// point every Executor call must pass through (spec §4.4: "consulted
// before any Executor call").
func Check(command, language string) Decision {
	if d := CheckText(command); !d.Allowed {
		return d
	}
	tokens, err := Tokenize(command)
	if err != nil {
		return deny(fmt.Sprintf("failed to tokenize command: %v", err))
	}
	return CheckArgv(tokens, language)
}
