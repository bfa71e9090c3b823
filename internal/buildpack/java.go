package buildpack

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"github.com/dawsonblock/rfsnctl/internal/model"
)

type javaBuildpack struct{}

// NewJava constructs the Java buildpack.
func NewJava() Buildpack { return javaBuildpack{} }

func (javaBuildpack) Type() Type { return Java }

var javaIndicators = []string{"pom.xml", "build.gradle", "build.gradle.kts", "gradlew", "gradlew.bat"}

func (javaBuildpack) Detect(ctx Context) *DetectResult {
	var found []string
	for _, indicator := range javaIndicators {
		if hasIndicator(ctx, indicator) {
			found = append(found, indicator)
		}
	}
	if len(found) == 0 {
		return nil
	}
	isMaven := false
	for _, f := range found {
		if f == "pom.xml" {
			isMaven = true
		}
	}
	buildSystem := "gradle"
	confidence := 0.85
	if isMaven {
		buildSystem = "maven"
		confidence = 0.9
	}
	return &DetectResult{Type: Java, Confidence: confidence, Metadata: map[string]any{"indicators": found, "build_system": buildSystem}}
}

func (javaBuildpack) Image() string { return "eclipse-temurin:17-jdk" }

func (javaBuildpack) SysdepsWhitelist() []string {
	return append([]string{}, commonSysdeps...)
}

func (javaBuildpack) InstallPlan(ctx Context) []Step {
	if _, ok := ctx.Files["pom.xml"]; ok {
		return []Step{{Argv: []string{"mvn", "-q", "-DskipTests", "package"}, Description: "Build with Maven", TimeoutSec: 300, NetworkRequired: true}}
	}
	if hasIndicator(ctx, "gradlew") {
		return []Step{{Argv: []string{"./gradlew", "--no-daemon", "testClasses"}, Description: "Build with Gradle wrapper", TimeoutSec: 300, NetworkRequired: true}}
	}
	return []Step{{Argv: []string{"gradle", "--no-daemon", "testClasses"}, Description: "Build with Gradle", TimeoutSec: 300, NetworkRequired: true}}
}

func (javaBuildpack) TestPlan(ctx Context, focusFile string) TestPlan {
	if _, ok := ctx.Files["pom.xml"]; ok {
		argv := []string{"mvn", "-q", "test"}
		if focusFile != "" {
			argv = []string{"mvn", "-q", "test", "-Dtest=" + focusFile}
		}
		return TestPlan{Argv: argv, Description: "Run Maven tests", TimeoutSec: 120, FocusFile: focusFile}
	}
	argv := []string{"gradle", "--no-daemon", "test"}
	if hasIndicator(ctx, "gradlew") {
		argv = []string{"./gradlew", "--no-daemon", "test"}
	}
	return TestPlan{Argv: argv, Description: "Run Gradle tests", TimeoutSec: 120, FocusFile: focusFile}
}

var (
	javaMavenFailCountRe = regexp.MustCompile(`Failures:\s+(\d+)`)
	javaMavenFailRe      = regexp.MustCompile(`([A-Z][a-zA-Z0-9_]+Test)\.([a-zA-Z0-9_]+)`)
	javaGradleFailRe     = regexp.MustCompile(`([A-Z][a-zA-Z0-9_]+Test) > ([a-zA-Z0-9_]+)\s+FAILED`)
	javaErrTypeRe        = regexp.MustCompile(`([A-Z][a-zA-Z]*Exception):`)
	javaErrMsgRe         = regexp.MustCompile(`[A-Z][a-zA-Z]*Exception:\s*(.+?)(?:\n|$)`)
)

func (javaBuildpack) ParseFailures(stdout, stderr string) model.FailureInfo {
	output := stdout + "\n" + stderr
	var failing, likely []string
	if javaMavenFailCountRe.MatchString(output) {
		for _, m := range javaMavenFailRe.FindAllStringSubmatch(output, -1) {
			failing = append(failing, m[1]+"."+m[2])
			likely = append(likely, strings.ReplaceAll(m[1], ".", "/")+".java")
		}
	}
	for _, m := range javaGradleFailRe.FindAllStringSubmatch(output, -1) {
		failing = append(failing, m[1]+"."+m[2])
		likely = append(likely, strings.ReplaceAll(m[1], ".", "/")+".java")
	}
	var errType, errMsg string
	if m := javaErrTypeRe.FindStringSubmatch(output); m != nil {
		errType = m[1]
	}
	if m := javaErrMsgRe.FindStringSubmatch(output); m != nil {
		errMsg = strings.TrimSpace(m[1])
	}
	seen := map[string]bool{}
	var dedupLikely []string
	for _, f := range likely {
		if !seen[f] {
			seen[f] = true
			dedupLikely = append(dedupLikely, f)
		}
	}
	sigInput := strings.Join(failing, "\n") + "\n" + errType
	sum := sha256.Sum256([]byte(sigInput))
	signature := fmt.Sprintf("%x", sum)[:16]
	return model.FailureInfo{
		FailingTests: failing,
		LikelyFiles:  dedupLikely,
		Signature:    signature,
		ErrorType:    errType,
		ErrorMessage: errMsg,
	}
}
