// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package base

import (
	"fmt"
	"regexp"
	"strings"
)

var op_map = map[string]int{"EQ": 0, "CO": 1, "SW": 2, "PR": 3, "GT": 4, "GE": 5, "LT": 6, "LE": 7, "OR": 8, "AND": 9}

var attrNameRegex = regexp.MustCompile(`^[0-9A-Za-z_$-]+$`)

var intLiteralRegex = regexp.MustCompile(`^-?[0-9]+$`)

// A node of a parsed filter expression. Nodes are never modified
// after parsing, the same tree can be walked by any number of
// goroutines.
//
// The operation is one of AND OR EQ CO SW PR GT GE LT LE. Logical
// nodes carry only Children, the rest carry the attribute path and,
// except PR, a value.
type FilterNode struct {
	Op       string
	URI      string // schema URI prefix of the attribute path, empty when not given
	Name     string // lowercase attribute name
	SubAt    string // lowercase sub-attribute name, empty when not given
	Value    string
	Children []*FilterNode
}

type filterToken struct {
	text   string
	quoted bool
	start  int // position of the token in the rune stream
}

type filterLexer struct {
	rb  []rune
	pos int
}

// ParseFilter parses the given SCIM filter expression and returns the
// root node of the expression tree
func ParseFilter(filter string) (expr *FilterNode, err error) {
	log.Debugf("Parsing filter %s", filter)

	defer func() {
		e := recover()
		if e != nil {
			err = e.(error)
			expr = nil
			log.Debugf("Failed to parse filter %s [%s]", filter, err.Error())
		}
	}()

	lex := &filterLexer{rb: []rune(filter)}

	xpr := parseOrExpr(lex)

	if t := lex.next(); t != nil {
		panic(NewInvalidFilterError(t.start, fmt.Sprintf("Invalid filter, unexpected token '%s'", t.text)))
	}

	return xpr, nil
}

func parseOrExpr(lex *filterLexer) *FilterNode {
	children := []*FilterNode{parseAndExpr(lex)}

	for {
		t := lex.peek()
		if t == nil || t.quoted || strings.ToUpper(t.text) != "OR" {
			break
		}

		lex.next()
		children = append(children, parseAndExpr(lex))
	}

	if len(children) == 1 {
		return children[0]
	}

	return &FilterNode{Op: "OR", Children: children}
}

func parseAndExpr(lex *filterLexer) *FilterNode {
	children := []*FilterNode{parseTerm(lex)}

	for {
		t := lex.peek()
		if t == nil || t.quoted || strings.ToUpper(t.text) != "AND" {
			break
		}

		lex.next()
		children = append(children, parseTerm(lex))
	}

	if len(children) == 1 {
		return children[0]
	}

	return &FilterNode{Op: "AND", Children: children}
}

func parseTerm(lex *filterLexer) *FilterNode {
	t := lex.peek()
	if t == nil {
		panic(NewInvalidFilterError(lex.pos, "Invalid filter, missing expression"))
	}

	if !t.quoted && t.text == "(" {
		lex.next()
		node := parseOrExpr(lex)

		closing := lex.next()
		if closing == nil || closing.quoted || closing.text != ")" {
			panic(NewInvalidFilterError(t.start, "Invalid filter, parentheses mismatch"))
		}

		return node
	}

	return parsePredicate(lex)
}

func parsePredicate(lex *filterLexer) *FilterNode {
	atTok := lex.next()
	if atTok == nil {
		panic(NewInvalidFilterError(lex.pos, "Invalid filter, missing attribute path"))
	}

	if atTok.quoted || atTok.text == "(" || atTok.text == ")" {
		panic(NewInvalidFilterError(atTok.start, fmt.Sprintf("Invalid filter, expected an attribute path but found '%s'", atTok.text)))
	}

	node := &FilterNode{}
	parseAttrPath(atTok, node)

	opTok := lex.next()
	if opTok == nil {
		panic(NewInvalidFilterError(lex.pos, fmt.Sprintf("Invalid filter, missing operator after the attribute path '%s'", atTok.text)))
	}

	op := strings.ToUpper(opTok.text)
	if opTok.quoted || !isPredicateOp(op) {
		panic(NewInvalidFilterError(opTok.start, fmt.Sprintf("Invalid filter, unknown operator '%s'", opTok.text)))
	}

	node.Op = op

	if op == "PR" {
		return node
	}

	valTok := lex.next()
	if valTok == nil {
		panic(NewInvalidFilterError(lex.pos, fmt.Sprintf("Invalid filter, missing value for the operator '%s'", opTok.text)))
	}

	if !valTok.quoted {
		if valTok.text == "(" || valTok.text == ")" {
			panic(NewInvalidFilterError(valTok.start, fmt.Sprintf("Invalid filter, missing value for the operator '%s'", opTok.text)))
		}

		// a bare literal is a boolean or an integer, anything else
		// must be quoted
		if valTok.text != "true" && valTok.text != "false" && !intLiteralRegex.MatchString(valTok.text) {
			panic(NewInvalidFilterError(valTok.start, fmt.Sprintf("Invalid filter, unquoted value '%s' is not a boolean or an integer", valTok.text)))
		}
	}

	node.Value = valTok.text

	return node
}

// splits an attribute path of the form [schemaURI:]name[.sub] and
// stores the parts on the node. The URI is any colon bearing prefix
// up to the last colon before the attribute name.
func parseAttrPath(tok *filterToken, node *FilterNode) {
	path := tok.text

	colonPos := strings.LastIndex(path, URI_DELIM)
	if colonPos >= 0 {
		node.URI = path[:colonPos]
		path = path[colonPos+1:]
	}

	path = strings.ToLower(path)

	dotPos := strings.IndexRune(path, '.')
	if dotPos >= 0 {
		node.Name = path[:dotPos]
		node.SubAt = path[dotPos+1:]
	} else {
		node.Name = path
	}

	if !attrNameRegex.MatchString(node.Name) || (node.SubAt != "" && !attrNameRegex.MatchString(node.SubAt)) {
		panic(NewInvalidFilterError(tok.start, fmt.Sprintf("Invalid attribute path '%s'", tok.text)))
	}
}

func isPredicateOp(op string) bool {
	v, ok := op_map[op]
	return ok && v < 8
}

func isLogical(op string) bool {
	return op == "AND" || op == "OR"
}

// lexer

func (lex *filterLexer) peek() *filterToken {
	mark := lex.pos
	t := lex.next()
	lex.pos = mark
	return t
}

func (lex *filterLexer) next() *filterToken {
	for lex.pos < len(lex.rb) && lex.rb[lex.pos] == ' ' {
		lex.pos++
	}

	if lex.pos >= len(lex.rb) {
		return nil
	}

	start := lex.pos
	c := lex.rb[lex.pos]

	switch c {
	case '(', ')':
		lex.pos++
		return &filterToken{text: string(c), start: start}

	case '\'':
		return lex.readQuoted(start)
	}

	for lex.pos < len(lex.rb) {
		c = lex.rb[lex.pos]
		if c == ' ' || c == '(' || c == ')' {
			break
		}
		lex.pos++
	}

	return &filterToken{text: string(lex.rb[start:lex.pos]), start: start}
}

func (lex *filterLexer) readQuoted(start int) *filterToken {
	lex.pos++ // consume the opening quote
	var sb strings.Builder

	for lex.pos < len(lex.rb) {
		c := lex.rb[lex.pos]
		switch c {
		case '\'':
			lex.pos++
			return &filterToken{text: sb.String(), quoted: true, start: start}

		case '\\':
			lex.pos++
			if lex.pos >= len(lex.rb) {
				panic(NewInvalidFilterError(start, "Invalid filter, value ends with a dangling escape"))
			}

			switch lex.rb[lex.pos] {
			case '\'':
				sb.WriteRune('\'')
			case '\\':
				sb.WriteRune('\\')
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			default:
				panic(NewInvalidFilterError(lex.pos, fmt.Sprintf("Invalid filter, unknown escape sequence '\\%c'", lex.rb[lex.pos])))
			}
			lex.pos++

		default:
			sb.WriteRune(c)
			lex.pos++
		}
	}

	panic(NewInvalidFilterError(start, "Invalid filter, no ending ' found for the value"))
}

// printer, the output parses back to an equal tree

func (fn *FilterNode) String() string {
	if isLogical(fn.Op) {
		parts := make([]string, len(fn.Children))
		for i, c := range fn.Children {
			if isLogical(c.Op) {
				parts[i] = "(" + c.String() + ")"
			} else {
				parts[i] = c.String()
			}
		}

		return strings.Join(parts, " "+strings.ToLower(fn.Op)+" ")
	}

	path := fn.Name
	if fn.SubAt != "" {
		path += ATTR_DELIM + fn.SubAt
	}
	if fn.URI != "" {
		path = fn.URI + URI_DELIM + path
	}

	if fn.Op == "PR" {
		return path + " pr"
	}

	return path + " " + strings.ToLower(fn.Op) + " " + quoteFilterValue(fn.Value)
}

func quoteFilterValue(val string) string {
	var sb strings.Builder
	sb.WriteRune('\'')
	for _, c := range val {
		switch c {
		case '\'':
			sb.WriteString(`\'`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(c)
		}
	}
	sb.WriteRune('\'')

	return sb.String()
}
