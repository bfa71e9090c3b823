package buildpack

// All returns every registered buildpack, in detection-priority order.
// Grounded on buildpacks/__init__.py's get_all_buildpacks().
func All() []Buildpack {
	return []Buildpack{
		NewPython(),
		NewNode(),
		NewGo(),
		NewRust(),
		NewJava(),
		NewDotnet(),
		NewPolyrepo(),
	}
}

// Get returns the buildpack registered for t, or nil.
func Get(t Type) Buildpack {
	for _, bp := range All() {
		if bp.Type() == t {
			return bp
		}
	}
	return nil
}

// Select runs every buildpack's Detect against ctx and returns the
// buildpack with the highest confidence strictly above 0.5, or nil if
// none qualifies. Mirrors the DETECT phase's selection loop in
// controller.py: iterate all_buildpacks, keep the best_result whose
// confidence beats the current best.
func Select(ctx Context) (Buildpack, *DetectResult) {
	var best Buildpack
	var bestResult *DetectResult
	for _, bp := range All() {
		result := bp.Detect(ctx)
		if result == nil || result.Confidence <= 0.5 {
			continue
		}
		if bestResult == nil || result.Confidence > bestResult.Confidence {
			best = bp
			bestResult = result
		}
	}
	return best, bestResult
}

// InferFromTestCmd maps a user-supplied test command's leading token(s)
// to a buildpack type, used to force-override detection when the
// operator already knows the ecosystem. Grounded on
// _infer_buildpack_type_from_test_cmd in controller.py.
func InferFromTestCmd(testCmd string) (Type, bool) {
	switch {
	case hasPrefixAny(testCmd, "pytest", "python -m pytest", "python3 -m pytest"):
		return Python, true
	case hasPrefixAny(testCmd, "npm test", "npx jest", "npx mocha", "npx vitest", "yarn test"):
		return Node, true
	case hasPrefixAny(testCmd, "go test"):
		return Go, true
	case hasPrefixAny(testCmd, "cargo test"):
		return Rust, true
	case hasPrefixAny(testCmd, "mvn test", "./gradlew test", "gradle test"):
		return Java, true
	case hasPrefixAny(testCmd, "dotnet test"):
		return Dotnet, true
	default:
		return "", false
	}
}

func hasPrefixAny(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}
