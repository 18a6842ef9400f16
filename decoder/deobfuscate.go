package decoder

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// Deobfuscator reverses a known obfuscation scheme applied to the chapter
// script. Implementations must either return readable source or a
// *DeobfuscationError; they never return half-decoded text.
type Deobfuscator interface {
	Deobfuscate(source string) (string, error)
}

const (
	soJSONv4Scheme = "sojson.v4"
	soJSONv4Prefix = "['sojson.v4']"
)

var soJSONv4DefaultSplit = regexp.MustCompile(`[a-zA-Z]+`)

// SoJSONv4 reverses the "sojson.v4" scheme: the original source is shipped as
// a single string of decimal UTF-16 code units separated by runs of letters,
// fed to String.fromCharCode.apply through Function.
type SoJSONv4 struct{}

// Deobfuscate parses a sojson.v4 wrapped script, finds the
// fromCharCode.apply call and decodes its string argument.
func (SoJSONv4) Deobfuscate(source string) (string, error) {
	source = strings.TrimSpace(source)
	if !strings.HasPrefix(source, soJSONv4Prefix) {
		return "", soJSONv4Error("missing " + soJSONv4Prefix + " prefix")
	}

	prog, err := parser.ParseFile(nil, "chapter.js", source, 0)
	if err != nil {
		return "", soJSONv4Error("parse error: " + err.Error())
	}

	var call *ast.CallExpression
	for _, stmt := range prog.Body {
		if es, ok := stmt.(*ast.ExpressionStatement); ok {
			if call = findFromCharCodeApply(es.Expression); call != nil {
				break
			}
		}
	}
	if call == nil {
		return "", soJSONv4Error("fromCharCode.apply call not found")
	}
	if len(call.ArgumentList) != 2 {
		return "", soJSONv4Error("fromCharCode.apply takes " + strconv.Itoa(len(call.ArgumentList)) + " arguments")
	}

	payload, split, err := soJSONv4Payload(call.ArgumentList[1])
	if err != nil {
		return "", err
	}

	units := make([]uint16, 0, len(payload)/3)
	for _, code := range split.Split(payload, -1) {
		if code == "" {
			continue
		}
		n, err := strconv.Atoi(code)
		if err != nil || n < 0 || n > 0xFFFF {
			return "", soJSONv4Error("invalid character code " + strconv.Quote(code))
		}
		units = append(units, uint16(n))
	}

	if len(units) == 0 {
		return "", soJSONv4Error("empty payload")
	}

	return string(utf16.Decode(units)), nil
}

func soJSONv4Error(reason string) *DeobfuscationError {
	return &DeobfuscationError{Scheme: soJSONv4Scheme, Reason: reason}
}

// soJSONv4Payload accepts either "<codes>" or "<codes>".split(/re/) and
// returns the code string with the separator pattern.
func soJSONv4Payload(arg ast.Expression) (string, *regexp.Regexp, error) {
	switch e := arg.(type) {
	case *ast.StringLiteral:
		return e.Value.String(), soJSONv4DefaultSplit, nil
	case *ast.CallExpression:
		obj, prop, ok := memberParts(e.Callee)
		if !ok || prop != "split" || len(e.ArgumentList) != 1 {
			break
		}
		lit, ok := obj.(*ast.StringLiteral)
		if !ok {
			break
		}
		re, ok := e.ArgumentList[0].(*ast.RegExpLiteral)
		if !ok {
			break
		}
		split, err := regexp.Compile(re.Pattern)
		if err != nil {
			return "", nil, soJSONv4Error("separator pattern: " + err.Error())
		}
		return lit.Value.String(), split, nil
	}
	return "", nil, soJSONv4Error("payload is not a string literal")
}

// findFromCharCodeApply walks the expression tree depth first and returns the
// first call whose callee is <x>.fromCharCode.apply.
func findFromCharCodeApply(expr ast.Expression) *ast.CallExpression {
	switch e := expr.(type) {
	case *ast.CallExpression:
		if obj, prop, ok := memberParts(e.Callee); ok && prop == "apply" {
			if _, inner, ok := memberParts(obj); ok && inner == "fromCharCode" {
				return e
			}
		}
		if found := findFromCharCodeApply(e.Callee); found != nil {
			return found
		}
		for _, arg := range e.ArgumentList {
			if found := findFromCharCodeApply(arg); found != nil {
				return found
			}
		}
	case *ast.BracketExpression:
		return findFromCharCodeApply(e.Left)
	case *ast.DotExpression:
		return findFromCharCodeApply(e.Left)
	case *ast.BinaryExpression:
		if found := findFromCharCodeApply(e.Left); found != nil {
			return found
		}
		return findFromCharCodeApply(e.Right)
	case *ast.SequenceExpression:
		for _, item := range e.Sequence {
			if found := findFromCharCodeApply(item); found != nil {
				return found
			}
		}
	}
	return nil
}

// memberParts splits a["b"] or a.b into its object and property name.
func memberParts(expr ast.Expression) (ast.Expression, string, bool) {
	switch e := expr.(type) {
	case *ast.BracketExpression:
		if lit, ok := e.Member.(*ast.StringLiteral); ok {
			return e.Left, lit.Value.String(), true
		}
	case *ast.DotExpression:
		return e.Left, e.Identifier.Name.String(), true
	}
	return nil, "", false
}
