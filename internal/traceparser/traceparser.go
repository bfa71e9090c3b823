// Package traceparser implements spec §4.9/§4.13's multi-language stack
// trace parsing: detecting the source language of a failure blob and
// extracting {filepath, line, function} frames plus the error
// type/message. Grounded on
// original_source/rfsn_controller/trace_parser.py, ported
// pattern-for-pattern.
package traceparser

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Language is the detected trace language.
type Language string

const (
	LangPython  Language = "python"
	LangNode    Language = "node"
	LangJava    Language = "java"
	LangGo      Language = "go"
	LangRust    Language = "rust"
	LangUnknown Language = "unknown"
)

// StackFrame is one frame of a parsed trace.
type StackFrame struct {
	Filepath     string
	LineNumber   int
	FunctionName string
	Language     Language
}

// ParsedTrace is the result of parsing a stack trace blob.
type ParsedTrace struct {
	Frames       []StackFrame
	ErrorType    string
	ErrorMessage string
	Language     Language
}

var (
	pythonFileLineRe = regexp.MustCompile(`File "([^"]+)", line (\d+), in ([\w<>]+)`)

	nodeFuncFileLineColRe = regexp.MustCompile(`at ([\w.]+) \(([^:]+):(\d+):\d+\)`)
	nodeFileLineColRe     = regexp.MustCompile(`at ([^:]+):(\d+):\d+`)

	javaFrameRe = regexp.MustCompile(`at ([\w.$]+)\(([^:]+\.java):(\d+)\)`)

	goFileLineRe = regexp.MustCompile(`([\w/]+\.go):(\d+)`)

	rustFuncFileLineColRe = regexp.MustCompile(`(?m)^\s*\d+: ([\w:]+)\n\s*at ([\w/]+\.rs):(\d+):(\d+)`)
	rustFileLineColRe     = regexp.MustCompile(`(?m)at ([\w/]+\.rs):(\d+):(\d+)`)
)

// DetectLanguage identifies the trace's source language using the same
// most-specific-first marker order as the original.
func DetectLanguage(trace string) Language {
	lower := strings.ToLower(trace)
	switch {
	case strings.Contains(lower, "traceback (most recent call last)"):
		return LangPython
	case strings.Contains(lower, "panicked at") || strings.Contains(lower, "thread '"):
		return LangRust
	case strings.Contains(lower, "panic:") || strings.Contains(lower, "goroutine"):
		return LangGo
	case strings.Contains(lower, ".java:") || strings.Contains(lower, "exception"):
		return LangJava
	case strings.Contains(lower, ".js:") || strings.Contains(lower, "node:"):
		return LangNode
	default:
		return LangUnknown
	}
}

// Parse parses trace, auto-detecting the language unless lang is given.
func Parse(trace string, lang Language) ParsedTrace {
	if lang == "" {
		lang = DetectLanguage(trace)
	}
	switch lang {
	case LangPython:
		return parsePython(trace)
	case LangNode:
		return parseNode(trace)
	case LangJava:
		return parseJava(trace)
	case LangGo:
		return parseGo(trace)
	case LangRust:
		return parseRust(trace)
	default:
		firstLine := trace
		if idx := strings.Index(trace, "\n"); idx >= 0 {
			firstLine = trace[:idx]
		}
		return ParsedTrace{ErrorMessage: firstLine, Language: LangUnknown}
	}
}

func parsePython(trace string) ParsedTrace {
	var frames []StackFrame
	var errorType, errorMessage string
	lines := strings.Split(trace, "\n")
	for i, line := range lines {
		if i == len(lines)-1 && strings.Contains(line, ":") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				errorType = strings.TrimSpace(parts[0])
				errorMessage = strings.TrimSpace(parts[1])
			}
		}
		if m := pythonFileLineRe.FindStringSubmatch(line); m != nil {
			ln, _ := strconv.Atoi(m[2])
			frames = append(frames, StackFrame{Filepath: m[1], LineNumber: ln, FunctionName: m[3], Language: LangPython})
		}
	}
	return ParsedTrace{Frames: frames, ErrorType: errorType, ErrorMessage: errorMessage, Language: LangPython}
}

func parseNode(trace string) ParsedTrace {
	var frames []StackFrame
	var errorType, errorMessage string
	for _, line := range strings.Split(trace, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.Contains(line, ":") && !strings.HasPrefix(trimmed, "at") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				errorType = strings.TrimSpace(parts[0])
				errorMessage = strings.TrimSpace(parts[1])
			}
		}
		if m := nodeFuncFileLineColRe.FindStringSubmatch(line); m != nil {
			ln, _ := strconv.Atoi(m[3])
			frames = append(frames, StackFrame{Filepath: m[2], LineNumber: ln, FunctionName: m[1], Language: LangNode})
			continue
		}
		if m := nodeFileLineColRe.FindStringSubmatch(line); m != nil {
			ln, _ := strconv.Atoi(m[2])
			frames = append(frames, StackFrame{Filepath: m[1], LineNumber: ln, FunctionName: "<anonymous>", Language: LangNode})
		}
	}
	return ParsedTrace{Frames: frames, ErrorType: errorType, ErrorMessage: errorMessage, Language: LangNode}
}

func parseJava(trace string) ParsedTrace {
	var frames []StackFrame
	var errorType, errorMessage string
	for _, line := range strings.Split(trace, "\n") {
		if strings.Contains(line, "Exception") || strings.Contains(line, "Error") {
			if strings.Contains(line, ":") {
				parts := strings.SplitN(line, ":", 2)
				beforeColon := strings.TrimSpace(parts[0])
				words := strings.Fields(beforeColon)
				if len(words) > 0 {
					errorType = words[len(words)-1]
				}
				errorMessage = strings.TrimSpace(parts[1])
			} else {
				words := strings.Fields(line)
				if len(words) > 0 {
					errorType = words[len(words)-1]
				}
			}
		}
		if m := javaFrameRe.FindStringSubmatch(line); m != nil {
			ln, _ := strconv.Atoi(m[3])
			frames = append(frames, StackFrame{Filepath: m[2], LineNumber: ln, FunctionName: m[1], Language: LangJava})
		}
	}
	return ParsedTrace{Frames: frames, ErrorType: errorType, ErrorMessage: errorMessage, Language: LangJava}
}

func parseGo(trace string) ParsedTrace {
	var frames []StackFrame
	errorType := "panic"
	var errorMessage string
	for _, line := range strings.Split(trace, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "panic:") {
			errorMessage = strings.TrimSpace(trimmed[len("panic:"):])
		}
		if m := goFileLineRe.FindStringSubmatch(line); m != nil {
			ln, _ := strconv.Atoi(m[2])
			frames = append(frames, StackFrame{Filepath: m[1], LineNumber: ln, FunctionName: "<unknown>", Language: LangGo})
		}
	}
	return ParsedTrace{Frames: frames, ErrorType: errorType, ErrorMessage: errorMessage, Language: LangGo}
}

func parseRust(trace string) ParsedTrace {
	var frames []StackFrame
	errorType := "panic"
	var errorMessage string
	if strings.Contains(trace, "panicked at") {
		parts := strings.SplitN(trace, "'", 3)
		if len(parts) >= 2 {
			errorMessage = parts[1]
		}
	}
	for _, m := range rustFuncFileLineColRe.FindAllStringSubmatch(trace, -1) {
		ln, _ := strconv.Atoi(m[3])
		frames = append(frames, StackFrame{Filepath: m[2], LineNumber: ln, FunctionName: m[1], Language: LangRust})
	}
	for _, m := range rustFileLineColRe.FindAllStringSubmatch(trace, -1) {
		ln, _ := strconv.Atoi(m[2])
		frames = append(frames, StackFrame{Filepath: m[1], LineNumber: ln, FunctionName: "", Language: LangRust})
	}
	return ParsedTrace{Frames: frames, ErrorType: errorType, ErrorMessage: errorMessage, Language: LangRust}
}

// ExtractFilesToExamine returns the sorted, de-duplicated set of file
// paths referenced by trace's frames.
func ExtractFilesToExamine(trace string) []string {
	parsed := Parse(trace, "")
	seen := make(map[string]bool)
	for _, f := range parsed.Frames {
		seen[f.Filepath] = true
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
